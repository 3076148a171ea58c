package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/soldercli/solder/internal/logging"
)

// counters holds the solder instruments. They are created lazily from the
// global meter, which delegates to whatever provider Init installed.
type counters struct {
	eventsEvaluated metric.Int64Counter
	claims          metric.Int64Counter
	jobsCompleted   metric.Int64Counter
	externalCreates metric.Int64Counter
	jobsReclaimed   metric.Int64Counter
}

var (
	instruments     counters
	instrumentsOnce sync.Once
)

func getCounters() *counters {
	instrumentsOnce.Do(func() {
		meter := Meter("")
		var err error

		instruments.eventsEvaluated, err = meter.Int64Counter("solder.events.evaluated",
			metric.WithDescription("Save events evaluated by the trigger, by decision reason"))
		if err == nil {
			instruments.claims, err = meter.Int64Counter("solder.jobs.claimed",
				metric.WithDescription("Claim attempts, by whether the caller won the row"))
		}
		if err == nil {
			instruments.jobsCompleted, err = meter.Int64Counter("solder.jobs.completed",
				metric.WithDescription("Job attempts finished, by outcome and failure kind"))
		}
		if err == nil {
			instruments.externalCreates, err = meter.Int64Counter("solder.external.creates",
				metric.WithDescription("External issue creation calls, by outcome"))
		}
		if err == nil {
			instruments.jobsReclaimed, err = meter.Int64Counter("solder.jobs.reclaimed",
				metric.WithDescription("Stale in-flight jobs returned to the queue"))
		}
		if err != nil {
			logging.Warn("failed to create metric instruments", "error", err)
		}
	})
	return &instruments
}

// RecordEvent counts one trigger evaluation with its decision reason.
func RecordEvent(ctx context.Context, reason string) {
	c := getCounters()
	if c.eventsEvaluated == nil {
		return
	}
	c.eventsEvaluated.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordClaim counts one claim attempt.
func RecordClaim(ctx context.Context, won bool) {
	c := getCounters()
	if c.claims == nil {
		return
	}
	c.claims.Add(ctx, 1, metric.WithAttributes(attribute.Bool("won", won)))
}

// RecordJobOutcome counts a finished job attempt. Outcome is one of
// "succeeded", "retried", "terminal", "released"; kind carries the failure
// classification and is empty on success.
func RecordJobOutcome(ctx context.Context, outcome, kind string) {
	c := getCounters()
	if c.jobsCompleted == nil {
		return
	}
	c.jobsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	))
}

// RecordExternalCreate counts one call to the external creation endpoint.
// Outcome is "created" or the error kind ("rate_limited", "auth", ...).
func RecordExternalCreate(ctx context.Context, outcome string) {
	c := getCounters()
	if c.externalCreates == nil {
		return
	}
	c.externalCreates.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordReclaimed counts jobs taken back from dead workers.
func RecordReclaimed(ctx context.Context, n int64) {
	c := getCounters()
	if c.jobsReclaimed == nil || n == 0 {
		return
	}
	c.jobsReclaimed.Add(ctx, n)
}
