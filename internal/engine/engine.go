// Package engine connects host save events to the durable job queue.
//
// HandleSave is the single entry point. It never returns an error: the host's
// save must commit whether or not synchronization could be queued, so every
// failure becomes a logged outcome instead.
package engine

import (
	"context"
	"time"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/logging"
	"github.com/soldercli/solder/internal/store"
	"github.com/soldercli/solder/internal/telemetry"
	"github.com/soldercli/solder/internal/trigger"
	"github.com/soldercli/solder/pkg/models"
)

// Outcome reasons the trigger itself never produces.
const (
	ReasonQueued        = "queued"
	ReasonAlreadyQueued = "already_queued"
	ReasonNotConfigured = "not_configured"
	ReasonConfigError   = "config_error"
	ReasonQueueError    = "queue_error"
)

// Outcome reports what one save event produced.
type Outcome struct {
	Queued bool   `json:"queued"`
	Reason string `json:"reason"`
}

// Engine evaluates save events and claims sync jobs for the ones that fire.
type Engine struct {
	provider config.Provider
	store    *store.Store
	now      func() time.Time
}

// New builds an engine over a configuration provider and the job store.
func New(provider config.Provider, st *store.Store) *Engine {
	return &Engine{provider: provider, store: st, now: time.Now}
}

// HandleSave decides whether the save event starts synchronization and, if
// so, claims the job. Exactly one caller wins the claim per work item no
// matter how many deliveries race.
func (e *Engine) HandleSave(ctx context.Context, before *models.Issue, after models.Issue, actor models.Actor) Outcome {
	cfg, err := e.provider.Snapshot()
	if err != nil {
		logging.Error("configuration snapshot failed", "error", err)
		return Outcome{Reason: ReasonConfigError}
	}

	decision := trigger.Evaluate(before, after, actor, cfg.Sync)
	telemetry.RecordEvent(ctx, string(decision.Reason))
	if !decision.Fire {
		// Role denials stay quiet on purpose; the actor's save already
		// succeeded and there is nothing for them to act on.
		logging.Debug("save event ignored",
			"object_id", after.ID, "reason", decision.Reason)
		return Outcome{Reason: string(decision.Reason)}
	}

	// A firing event with the external side unconfigured would park a job
	// the workers cannot process. Stay inert and say why.
	if missing := cfg.MissingForSync(); len(missing) > 0 {
		logging.Warn("save event matched but sync is not fully configured",
			"object_id", after.ID, "missing", missing)
		return Outcome{Reason: ReasonNotConfigured}
	}

	payload := models.JobPayload{
		Title:       after.Title,
		Description: after.Description,
		ProjectID:   after.ProjectID,
	}
	won, err := e.store.Claim(ctx, after.ID, payload, e.now())
	if err != nil {
		logging.Error("failed to claim sync job", "object_id", after.ID, "error", err)
		return Outcome{Reason: ReasonQueueError}
	}
	telemetry.RecordClaim(ctx, won)
	if !won {
		logging.Debug("sync already claimed", "object_id", after.ID)
		return Outcome{Reason: ReasonAlreadyQueued}
	}

	logging.Info("sync job queued", "object_id", after.ID, "project_id", after.ProjectID)
	return Outcome{Queued: true, Reason: ReasonQueued}
}
