// Package trigger decides whether a host save event starts synchronization.
//
// Evaluation is pure: no I/O, no clock, no mutation. The engine feeds it the
// before/after snapshots carried by the save event plus a configuration
// snapshot, and acts on the returned decision.
package trigger

import (
	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/pkg/models"
)

// Reason is the machine-readable explanation attached to every decision.
type Reason string

const (
	// ReasonFired means all conditions held and a sync job should be claimed.
	ReasonFired Reason = "fired"

	// ReasonDisabled means synchronization is switched off.
	ReasonDisabled Reason = "disabled"

	// ReasonCreation means the event had no prior version, so it was a
	// creation rather than an update.
	ReasonCreation Reason = "creation"

	// ReasonNotAccepted means the item is not in the accepted status after
	// the save.
	ReasonNotAccepted Reason = "status_not_accepted"

	// ReasonNoEdge means the item was already in the accepted status before
	// the save; only the transition into it fires.
	ReasonNoEdge Reason = "no_edge"

	// ReasonRoleDenied means the saving actor lacks the required role in the
	// item's project.
	ReasonRoleDenied Reason = "role_denied"

	// ReasonAlreadyLinked means the item already carries an external key.
	ReasonAlreadyLinked Reason = "already_linked"
)

// Decision is the outcome of evaluating one save event.
type Decision struct {
	// Fire is true when a sync job should be claimed for the item.
	Fire bool

	// Reason explains the decision, for logging and tests.
	Reason Reason
}

// Evaluate applies the firing conditions to one save event. Every condition
// must hold: sync enabled, the item existed before the save, the save moved
// it into the accepted status (edge transition, a re-save within the status
// does not count), the actor holds the required role in the item's project,
// and the item has no external key yet.
func Evaluate(before *models.Issue, after models.Issue, actor models.Actor, cfg config.SyncSettings) Decision {
	if !cfg.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if before == nil {
		return Decision{Reason: ReasonCreation}
	}
	if after.StatusID != cfg.AcceptedStatus {
		return Decision{Reason: ReasonNotAccepted}
	}
	if before.StatusID == cfg.AcceptedStatus {
		return Decision{Reason: ReasonNoEdge}
	}
	if !actor.HasRole(after.ProjectID, cfg.RequiredRole) {
		return Decision{Reason: ReasonRoleDenied}
	}
	if after.ExternalKey != "" {
		return Decision{Reason: ReasonAlreadyLinked}
	}
	return Decision{Fire: true, Reason: ReasonFired}
}
