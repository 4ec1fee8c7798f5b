package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported model providers.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

// Default model settings for resolution calls.
const (
	defaultGoogleAIModel = "gemini-pro"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultMaxTokens     = 512
)

// ErrInvalidConfig indicates the resolver configuration failed validation.
var ErrInvalidConfig = errors.New("invalid resolver config")

// Config holds the model provider settings for intent resolution.
type Config struct {
	// Provider selects the hosted model API: "googleai" (default) or
	// "openai". The openai provider also serves OpenAI-compatible
	// endpoints via BaseURL.
	Provider string

	// Model names the model to call. Defaults per provider.
	Model string

	// APIKey authenticates with the provider. Required.
	APIKey string

	// BaseURL overrides the API endpoint. Only honored by the openai
	// provider.
	BaseURL string

	// Temperature controls sampling. Zero keeps extraction deterministic.
	Temperature float64

	// MaxTokens bounds the response length. Defaults to 512.
	MaxTokens int
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case "":
		c.Provider = ProviderGoogleAI
	case ProviderGoogleAI, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, c.Provider)
	}

	if c.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidConfig)
	}

	if c.Model == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Model = defaultOpenAIModel
		default:
			c.Model = defaultGoogleAIModel
		}
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %v out of range [0, 2]", ErrInvalidConfig, c.Temperature)
	}

	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}

	return nil
}

// Resolver classifies raw request text with a hosted language model. Each
// Resolve invocation makes exactly one model call and never retries;
// callers own the retry policy.
type Resolver struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

// NewResolver builds a Resolver for the configured provider.
func NewResolver(ctx context.Context, cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.Provider, err)
	}

	return &Resolver{
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Resolve classifies one request. Transport failures surface as errors;
// responses the model garbles parse to Unknown instead of erroring so the
// pipeline reports them as validation failures rather than outages.
func (r *Resolver) Resolve(ctx context.Context, text string) (Resolution, error) {
	content, err := llms.GenerateFromSinglePrompt(ctx, r.model, buildPrompt(text),
		llms.WithTemperature(r.temperature),
		llms.WithMaxTokens(r.maxTokens),
	)
	if err != nil {
		return Resolution{}, fmt.Errorf("model call failed: %w", err)
	}

	return parseResolution(content), nil
}
