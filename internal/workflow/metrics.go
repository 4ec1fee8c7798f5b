package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tjkivinen/crmflow/internal/workflow"

var (
	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	actionCounter  metric.Int64Counter
	retryCounter   metric.Int64Counter
	notifyFailures metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for the workflow engine.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	runCounter, err = meter.Int64Counter(
		"crmflow.workflow.runs",
		metric.WithDescription("Total number of completed workflow runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create run counter: %v", err))
	}

	runDuration, err = meter.Float64Histogram(
		"crmflow.workflow.run.duration",
		metric.WithDescription("Duration of workflow runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create run duration histogram: %v", err))
	}

	actionCounter, err = meter.Int64Counter(
		"crmflow.workflow.actions",
		metric.WithDescription("Total number of executed plan actions"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create action counter: %v", err))
	}

	retryCounter, err = meter.Int64Counter(
		"crmflow.workflow.action.retries",
		metric.WithDescription("Number of retries spent on plan actions"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry counter: %v", err))
	}

	notifyFailures, err = meter.Int64Counter(
		"crmflow.workflow.notify.failures",
		metric.WithDescription("Number of notification delivery failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create notify failure counter: %v", err))
	}
}

func init() {
	initMetrics()
}

// recordRun counts a finished run and its duration.
func recordRun(ctx context.Context, run *Run, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("intent", string(run.Intent)),
		attribute.String("terminal_state", string(run.Terminal)),
	)
	runCounter.Add(ctx, 1, attrs)
	runDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// recordAction counts one executed action and any retries it consumed.
func recordAction(ctx context.Context, result ActionResult) {
	actionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(result.Action)),
		attribute.Bool("success", result.Success),
	))
	if result.Attempts > 1 {
		retryCounter.Add(ctx, int64(result.Attempts-1), metric.WithAttributes(
			attribute.String("action", string(result.Action)),
		))
	}
}

// recordNotifyFailure counts a notification that could not be delivered.
func recordNotifyFailure(ctx context.Context) {
	notifyFailures.Add(ctx, 1)
}
