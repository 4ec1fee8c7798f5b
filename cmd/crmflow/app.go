package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tjkivinen/crmflow/internal/config"
	"github.com/tjkivinen/crmflow/internal/hubspot"
	"github.com/tjkivinen/crmflow/internal/intent"
	"github.com/tjkivinen/crmflow/internal/logging"
	"github.com/tjkivinen/crmflow/internal/notify"
	"github.com/tjkivinen/crmflow/internal/workflow"
)

// app wires the full request pipeline from configuration. Every command
// that executes real runs goes through it.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *workflow.Engine
}

// newApp loads configuration and builds the engine with its live
// collaborators: the language model resolver, the HubSpot client, and the
// SMTP notifier.
func newApp(ctx context.Context) (*app, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Debug("configuration loaded",
		zap.String("nlu_provider", cfg.NLU.Provider),
		zap.String("nlu_model", cfg.NLU.Model),
		logging.Secret("nlu_api_key", cfg.NLU.APIKey),
		logging.Secret("hubspot_token", cfg.HubSpot.Token),
	)

	if !cfg.NLUConfigured() {
		return nil, errors.New("language model api key is not configured; set NLU_API_KEY or nlu.api_key in the config file")
	}
	resolver, err := intent.NewResolver(ctx, intent.Config{
		Provider:    cfg.NLU.Provider,
		Model:       cfg.NLU.Model,
		APIKey:      cfg.NLU.APIKey.Value(),
		BaseURL:     cfg.NLU.BaseURL,
		Temperature: cfg.NLU.Temperature,
		MaxTokens:   cfg.NLU.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	if !cfg.HubSpotConfigured() {
		return nil, errors.New("hubspot token is not configured; set HUBSPOT_TOKEN or hubspot.token in the config file")
	}
	crmClient, err := hubspot.NewClient(hubspot.Config{
		BaseURL:           cfg.HubSpot.BaseURL,
		Token:             cfg.HubSpot.Token.Value(),
		DealStage:         cfg.HubSpot.DealStage,
		Timeout:           cfg.HubSpot.Timeout.Duration(),
		RequestsPerSecond: cfg.HubSpot.RequestsPerSecond,
		Burst:             cfg.HubSpot.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hubspot client: %w", err)
	}

	notifier, err := notifierFromConfig(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	engine, err := workflow.NewEngine(resolver, crmClient, notifier, workflow.Options{
		Retry:       retryFromConfig(cfg.Workflow),
		CallTimeout: cfg.Workflow.CallTimeout.Duration(),
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &app{cfg: cfg, log: log, engine: engine}, nil
}

// Close flushes buffered log entries.
func (a *app) Close() {
	if a.log != nil {
		_ = logging.Sync(a.log)
	}
}

// notifierFromConfig returns the SMTP notifier when credentials are set.
// Without credentials runs still complete; each notification attempt fails
// and the run reports notification_delivered=false.
func notifierFromConfig(cfg *config.Config, log *zap.Logger) (workflow.Notifier, error) {
	if !cfg.EmailConfigured() {
		log.Warn("email notifications disabled: smtp credentials not configured")
		return unconfiguredNotifier{}, nil
	}
	return notify.NewService(notify.Config{
		Host:      cfg.Email.SMTPServer,
		Port:      cfg.Email.SMTPPort,
		Username:  cfg.Email.Username,
		Password:  cfg.Email.Password.Value(),
		From:      cfg.Email.From,
		Recipient: cfg.Email.Recipient,
	}, log)
}

// unconfiguredNotifier stands in when SMTP credentials are missing.
type unconfiguredNotifier struct{}

func (unconfiguredNotifier) Notify(ctx context.Context, run *workflow.Run) error {
	return errors.New("email credentials not configured")
}

func retryFromConfig(cfg config.WorkflowConfig) workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff.Duration(),
		MaxBackoff:     cfg.MaxBackoff.Duration(),
		Multiplier:     cfg.BackoffMultiplier,
	}
}
