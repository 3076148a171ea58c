// Package models defines data structures shared across the application.
package models

import (
	"time"
)

// Issue is a snapshot of a host tracker work item as delivered by a save
// event. Identifier fields other than ID are opaque strings supplied by the
// host; solder compares them, it never interprets them.
type Issue struct {
	// ID is the host tracker's numeric identifier for the work item (e.g., 4217)
	ID int64

	// ProjectID identifies the project the item belongs to (e.g., "platform")
	ProjectID string

	// StatusID identifies the item's workflow status (e.g., "accepted")
	StatusID string

	// Title is the item's one-line summary
	Title string

	// Description is the full body text of the item
	Description string

	// ExternalKey is the key of the Jira issue already linked to this item,
	// or empty when the item has never been synchronized (e.g., "ABC-123")
	ExternalKey string
}

// Membership is a single (project, role) grant held by an actor.
type Membership struct {
	// ProjectID identifies the project the role is granted in
	ProjectID string

	// RoleID identifies the granted role (e.g., "manager")
	RoleID string
}

// Actor is the user who performed the save that produced an event.
type Actor struct {
	// ID is the host tracker's identifier for the user
	ID string

	// Memberships lists the actor's role grants across projects
	Memberships []Membership
}

// HasRole reports whether the actor holds the given role within the given
// project.
func (a Actor) HasRole(projectID, roleID string) bool {
	for _, m := range a.Memberships {
		if m.ProjectID == projectID && m.RoleID == roleID {
			return true
		}
	}
	return false
}

// JobState is the lifecycle state of a sync job.
type JobState string

const (
	// JobPending means the job is claimed and waiting for a worker.
	JobPending JobState = "pending"

	// JobInFlight means a worker is currently processing the job.
	JobInFlight JobState = "in_flight"

	// JobSucceeded means the external issue exists and the write-back
	// committed.
	JobSucceeded JobState = "succeeded"

	// JobFailedRetryable means the last attempt failed transiently and the
	// job will run again once its backoff elapses.
	JobFailedRetryable JobState = "failed_retryable"

	// JobFailedTerminal means the job failed permanently or exhausted its
	// attempt budget; only an explicit requeue revives it.
	JobFailedTerminal JobState = "failed_terminal"
)

// Terminal reports whether the state ends automatic processing.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailedTerminal
}

// Valid reports whether s is one of the known job states.
func (s JobState) Valid() bool {
	switch s {
	case JobPending, JobInFlight, JobSucceeded, JobFailedRetryable, JobFailedTerminal:
		return true
	}
	return false
}

// JobPayload is the slice of the work item captured at claim time. Workers
// render the Jira issue from this snapshot rather than re-reading the host.
type JobPayload struct {
	// Title is the item's summary at the moment the trigger fired
	Title string `json:"title"`

	// Description is the item's body text at the moment the trigger fired
	Description string `json:"description,omitempty"`

	// ProjectID is the host project the item belonged to
	ProjectID string `json:"project_id"`
}

// SyncJob is one row of the durable queue. At most one row ever exists per
// work item; the row is created by a successful claim and never deleted.
type SyncJob struct {
	// ObjectID is the host work item this job synchronizes
	ObjectID int64

	// State is the job's current lifecycle state
	State JobState

	// Attempts counts processing attempts that have failed so far
	Attempts int

	// NextAttemptAt is the earliest time a worker may pick the job up
	NextAttemptAt time.Time

	// ExternalKey is the created Jira issue key, recorded as soon as the
	// external create succeeds and before the write-back commits
	ExternalKey string

	// LastError describes the most recent failure, empty after success
	LastError string

	// LockedBy is the identity of the worker holding the job while in flight
	LockedBy string

	// LockedAt is when the holding worker claimed the job
	LockedAt time.Time

	// Payload is the work-item snapshot captured at claim time
	Payload JobPayload

	// CreatedAt is when the claim created the job
	CreatedAt time.Time

	// UpdatedAt is when the job last changed state
	UpdatedAt time.Time
}
