// Package hubspot implements the CRM backend against the HubSpot CRM v3
// REST API: contacts, deals, and deal-to-contact associations.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjkivinen/crmflow/internal/crm"
)

// Default configuration values.
const (
	defaultBaseURL   = "https://api.hubapi.com"
	defaultDealStage = "appointmentscheduled"
	defaultTimeout   = 30 * time.Second
)

// Rate limiter defaults: HubSpot private apps allow ~110 requests per ten
// seconds; staying at 10/s with small bursts keeps well inside that.
const (
	defaultRateLimit = 10.0
	defaultBurst     = 5
)

// ErrInvalidConfig indicates the client configuration failed validation.
var ErrInvalidConfig = errors.New("invalid hubspot config")

// Config holds the connection settings for the HubSpot API.
type Config struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Token authenticates requests. Private app tokens start with "pat-"
	// and are sent as a bearer header; anything else is treated as a
	// legacy developer hapikey query parameter.
	Token string

	// DealStage is the pipeline stage applied to deals created without an
	// explicit stage.
	DealStage string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// RequestsPerSecond and Burst tune the client-side rate limiter.
	RequestsPerSecond float64
	Burst             int
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.DealStage == "" {
		c.DealStage = defaultDealStage
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	return nil
}

// Client talks to the HubSpot CRM v3 API. Calls are single-shot: retry
// policy belongs to the caller.
type Client struct {
	baseURL    string
	token      string
	bearer     bool
	dealStage  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a HubSpot client from the configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		token:     cfg.Token,
		bearer:    strings.HasPrefix(cfg.Token, "pat-"),
		dealStage: cfg.DealStage,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// objectResponse is the ID envelope HubSpot returns for created objects.
type objectResponse struct {
	ID string `json:"id"`
}

type contactProperties struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Company   string `json:"company,omitempty"`
}

type dealProperties struct {
	DealName  string `json:"dealname"`
	Amount    string `json:"amount"`
	DealStage string `json:"dealstage"`
	CloseDate string `json:"closedate,omitempty"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type associationRequest struct {
	Inputs []associationInput `json:"inputs"`
}

type associationInput struct {
	From associationRef `json:"from"`
	To   associationRef `json:"to"`
	Type string         `json:"type"`
}

type associationRef struct {
	ID string `json:"id"`
}

// FindOrCreateContact looks the contact up by email and creates it only
// when absent, so repeated requests for the same person are idempotent.
func (c *Client) FindOrCreateContact(ctx context.Context, fields crm.ContactFields) (crm.ContactRef, error) {
	existingID, found, err := c.searchContactByEmail(ctx, fields.Email)
	if err != nil {
		return crm.ContactRef{}, err
	}
	if found {
		return crm.ContactRef{ID: existingID, Existed: true}, nil
	}

	createdID, err := c.createContact(ctx, fields)
	if err != nil {
		// Another writer can create the contact between the search and the
		// create. A conflict resolves to the existing record.
		var provErr *crm.ProviderError
		if errors.As(err, &provErr) && provErr.Status == http.StatusConflict {
			existingID, found, searchErr := c.searchContactByEmail(ctx, fields.Email)
			if searchErr == nil && found {
				return crm.ContactRef{ID: existingID, Existed: true}, nil
			}
		}
		return crm.ContactRef{}, err
	}

	return crm.ContactRef{ID: createdID}, nil
}

// CreateDeal creates a deal, applying the configured pipeline stage when
// the fields carry none.
func (c *Client) CreateDeal(ctx context.Context, fields crm.DealFields) (crm.DealRef, error) {
	stage := fields.Stage
	if stage == "" {
		stage = c.dealStage
	}

	payload := struct {
		Properties dealProperties `json:"properties"`
	}{
		Properties: dealProperties{
			DealName:  fields.Name,
			Amount:    strconv.FormatFloat(fields.Amount, 'f', -1, 64),
			DealStage: stage,
			CloseDate: fields.CloseDate,
		},
	}

	var created objectResponse
	if err := c.doJSON(ctx, http.MethodPost, "/crm/v3/objects/deals", payload, &created); err != nil {
		return crm.DealRef{}, err
	}
	return crm.DealRef{ID: created.ID}, nil
}

// AssociateDealToContact links an existing deal to an existing contact
// with the standard deal_to_contact association type.
func (c *Client) AssociateDealToContact(ctx context.Context, dealID, contactID string) error {
	payload := associationRequest{
		Inputs: []associationInput{{
			From: associationRef{ID: dealID},
			To:   associationRef{ID: contactID},
			Type: "deal_to_contact",
		}},
	}

	path := fmt.Sprintf("/crm/v3/objects/deals/%s/associations/contacts/%s",
		url.PathEscape(dealID), url.PathEscape(contactID))
	return c.doJSON(ctx, http.MethodPut, path, payload, nil)
}

func (c *Client) searchContactByEmail(ctx context.Context, email string) (string, bool, error) {
	payload := searchRequest{
		FilterGroups: []filterGroup{{
			Filters: []filter{{
				PropertyName: "email",
				Operator:     "EQ",
				Value:        email,
			}},
		}},
		Limit: 1,
	}

	var result struct {
		Total   int              `json:"total"`
		Results []objectResponse `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", payload, &result); err != nil {
		return "", false, err
	}
	if len(result.Results) == 0 {
		return "", false, nil
	}
	return result.Results[0].ID, true, nil
}

func (c *Client) createContact(ctx context.Context, fields crm.ContactFields) (string, error) {
	first, last := splitName(fields.Name)
	payload := struct {
		Properties contactProperties `json:"properties"`
	}{
		Properties: contactProperties{
			Email:     fields.Email,
			FirstName: first,
			LastName:  last,
			Phone:     fields.Phone,
			Company:   fields.Company,
		},
	}

	var created objectResponse
	if err := c.doJSON(ctx, http.MethodPost, "/crm/v3/objects/contacts", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// doJSON performs one authenticated request. Non-2xx statuses come back as
// *crm.ProviderError with whatever detail the response body carries.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearer {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		query := req.URL.Query()
		query.Set("hapikey", c.token)
		req.URL.RawQuery = query.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providerError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// providerError reads HubSpot's error envelope. Bodies that are not the
// envelope keep their raw text as the message.
func providerError(status int, body []byte) *crm.ProviderError {
	var wire struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Category string `json:"category"`
	}

	provErr := &crm.ProviderError{Status: status}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Message != "" {
		provErr.Category = wire.Category
		provErr.Message = wire.Message
		return provErr
	}
	provErr.Message = strings.TrimSpace(string(body))
	return provErr
}

// splitName divides a full name into HubSpot's firstname/lastname pair.
func splitName(name string) (first, last string) {
	first, last, found := strings.Cut(strings.TrimSpace(name), " ")
	if !found {
		return first, ""
	}
	return first, strings.TrimSpace(last)
}
