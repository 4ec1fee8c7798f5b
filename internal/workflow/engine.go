package workflow

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tjkivinen/crmflow/internal/crm"
	"github.com/tjkivinen/crmflow/internal/intent"
)

// Resolver classifies raw request text.
type Resolver interface {
	Resolve(ctx context.Context, text string) (intent.Resolution, error)
}

// CRMClient is the backend the engine executes plan actions against.
type CRMClient interface {
	FindOrCreateContact(ctx context.Context, fields crm.ContactFields) (crm.ContactRef, error)
	CreateDeal(ctx context.Context, fields crm.DealFields) (crm.DealRef, error)
	AssociateDealToContact(ctx context.Context, dealID, contactID string) error
}

// Notifier delivers the end-of-run summary.
type Notifier interface {
	Notify(ctx context.Context, run *Run) error
}

const defaultCallTimeout = 15 * time.Second

// Options tunes engine behavior. Zero values fall back to defaults.
type Options struct {
	Retry       RetryPolicy
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// Engine drives a request through resolution, validation, execution, and
// notification. One engine serves any number of concurrent runs; all
// per-request state lives on the Run.
type Engine struct {
	resolver    Resolver
	crm         CRMClient
	notifier    Notifier
	retry       RetryPolicy
	callTimeout time.Duration
	log         *zap.Logger
	tracer      trace.Tracer
}

// NewEngine wires an engine from its collaborators.
func NewEngine(resolver Resolver, crmClient CRMClient, notifier Notifier, opts Options) (*Engine, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if crmClient == nil {
		return nil, errors.New("crm client is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		resolver:    resolver,
		crm:         crmClient,
		notifier:    notifier,
		retry:       opts.Retry.ApplyDefaults(),
		callTimeout: callTimeout,
		log:         log,
		tracer:      otel.Tracer(instrumentationName),
	}, nil
}

// Run drives one request to completion. The returned run always reflects
// everything that happened, including partial progress; the error is
// non-nil only when cancellation cut the run short.
func (e *Engine) Run(ctx context.Context, rawText string) (*Run, error) {
	run := NewRun(rawText)
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "workflow.run")
	defer span.End()

	log := e.log.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.String("raw_text", rawText))

	e.resolve(ctx, run, log)
	e.validate(run, log)
	runErr := e.execute(ctx, run, log)

	run.SetTerminal(ComputeTerminal(run.Plan, run.Results))
	e.notify(ctx, run, log)

	e.advance(run, StateDone, log)
	run.CompletedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.String("workflow.intent", string(run.Intent)),
		attribute.String("workflow.terminal_state", string(run.Terminal)),
	)
	recordRun(ctx, run, time.Since(start))

	log.Info("run finished",
		zap.String("terminal_state", string(run.Terminal)),
		zap.Int("succeeded", run.Succeeded()),
		zap.Int("planned", len(run.Plan)),
		zap.Bool("notification_delivered", run.NotificationDelivered),
	)

	return run, runErr
}

// Preview reports what a request would do: the resolved intent, extracted
// fields, and derived plan. No CRM calls are made and nothing is notified.
type Preview struct {
	Intent        intent.Intent    `json:"intent"`
	Fields        intent.Fields    `json:"fields,omitempty"`
	Plan          Plan             `json:"plan,omitempty"`
	ResolveErr    *Error           `json:"resolve_error,omitempty"`
	ValidationErr *ValidationError `json:"validation_error,omitempty"`
}

// Preview resolves and validates a request without executing it.
func (e *Engine) Preview(ctx context.Context, rawText string) (*Preview, error) {
	run := NewRun(rawText)
	log := e.log.With(zap.String("run_id", run.ID))

	e.resolve(ctx, run, log)
	e.validate(run, log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Preview{
		Intent:        run.Intent,
		Fields:        run.Fields,
		Plan:          run.Plan,
		ResolveErr:    run.ResolveErr,
		ValidationErr: run.ValidationErr,
	}, nil
}

// resolve asks the model provider to classify the request. Transient
// failures retry under the engine policy; exhausted or terminal failures
// degrade the run to an unknown intent instead of stopping it.
func (e *Engine) resolve(ctx context.Context, run *Run, log *zap.Logger) {
	e.advance(run, StateResolving, log)

	var resolution intent.Resolution
	attempts, err := e.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		res, resolveErr := e.resolver.Resolve(callCtx, run.RawText)
		if resolveErr != nil {
			return classifyResolveError(resolveErr)
		}
		resolution = res
		return nil
	})
	if err != nil {
		run.ResolveErr = classifyResolveError(err)
		run.Intent = intent.Unknown
		run.Fields = intent.Fields{}
		log.Warn("resolution failed, treating intent as unknown",
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}

	run.Intent = resolution.Intent
	run.Fields = resolution.Fields
	log.Debug("request resolved",
		zap.String("intent", string(run.Intent)),
		zap.Int("attempts", attempts))
}

// validate derives the plan, or aborts the run before any CRM call.
func (e *Engine) validate(run *Run, log *zap.Logger) {
	e.advance(run, StateValidating, log)

	plan, vErr := Validate(run.Intent, run.Fields)
	if vErr != nil {
		run.ValidationErr = vErr
		e.advance(run, StateAborted, log)
		log.Warn("validation rejected request", zap.Error(vErr))
		return
	}
	run.Plan = plan
}

// execute runs the plan in order. Failed actions record a result and the
// plan continues; actions that depend on them fail their own dependency
// checks. Cancellation observed between actions stops the plan early.
func (e *Engine) execute(ctx context.Context, run *Run, log *zap.Logger) error {
	if run.State == StateAborted {
		return nil
	}
	e.advance(run, StateExecuting, log)

	for _, action := range run.Plan {
		if err := ctx.Err(); err != nil {
			log.Warn("run canceled before completing plan",
				zap.String("next_action", string(action)),
				zap.Int("completed", len(run.Results)))
			return err
		}

		result := e.executeAction(ctx, run, action)
		run.Results = append(run.Results, result)
		recordAction(ctx, result)

		if result.Err != nil {
			log.Warn("action failed",
				zap.String("action", string(action)),
				zap.Int("attempts", result.Attempts),
				zap.String("kind", string(result.Err.Kind)),
				zap.Error(result.Err))
			continue
		}
		log.Debug("action completed",
			zap.String("action", string(action)),
			zap.String("external_id", result.ExternalID),
			zap.Int("attempts", result.Attempts))
	}
	return nil
}

// notify sends the end-of-run summary exactly once per run. Delivery runs
// on a context detached from cancellation so a canceled run still reports
// its partial results.
func (e *Engine) notify(ctx context.Context, run *Run, log *zap.Logger) {
	e.advance(run, StateNotifying, log)

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
	defer cancel()

	if err := e.notifier.Notify(notifyCtx, run); err != nil {
		recordNotifyFailure(ctx)
		log.Error("notification failed", zap.Error(err))
		return
	}
	run.NotificationDelivered = true
}

// advance applies a state transition, forcing the state when the edge is
// illegal so a run never wedges mid-pipeline.
func (e *Engine) advance(run *Run, next State, log *zap.Logger) {
	if err := run.Transition(next); err != nil {
		log.Error("illegal state transition", zap.Error(err))
		run.State = next
	}
}
