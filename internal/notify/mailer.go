package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/tjkivinen/crmflow/internal/workflow"
)

const defaultSMTPPort = 587

// ErrInvalidConfig indicates the mailer configuration failed validation.
var ErrInvalidConfig = errors.New("invalid email config")

// Config holds the SMTP settings for outbound notifications.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// From and Recipient default to Username, which matches the common
	// self-notification setup.
	From      string
	Recipient string
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: smtp host is required", ErrInvalidConfig)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: smtp username is required", ErrInvalidConfig)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: smtp password is required", ErrInvalidConfig)
	}
	if c.Port <= 0 {
		c.Port = defaultSMTPPort
	}
	if c.From == "" {
		c.From = c.Username
	}
	if c.Recipient == "" {
		c.Recipient = c.Username
	}
	return nil
}

// Service sends run notifications over SMTP. It satisfies the workflow
// engine's notifier contract.
type Service struct {
	client    *mail.Client
	from      string
	recipient string
	log       *zap.Logger
}

// NewService builds an SMTP notification service. Connections use
// opportunistic STARTTLS and plain authentication.
func NewService(cfg Config, log *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &Service{
		client:    client,
		from:      cfg.From,
		recipient: cfg.Recipient,
		log:       log,
	}, nil
}

// Notify renders the run outcome and delivers it to the configured
// recipient.
func (s *Service) Notify(ctx context.Context, run *workflow.Run) error {
	msg, err := buildMsg(s.from, s.recipient, Compose(run))
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	s.log.Info("notification sent",
		zap.String("run_id", run.ID),
		zap.String("recipient", s.recipient),
	)
	return nil
}

func buildMsg(from, recipient string, rendered Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)
	return msg, nil
}
