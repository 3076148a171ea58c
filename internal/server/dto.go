package server

import (
	"time"

	"github.com/soldercli/solder/pkg/models"
)

// saveEvent is the wire form of one host save delivery. Before is absent for
// creations; After is the state the save committed.
type saveEvent struct {
	Before *issueDTO `json:"before"`
	After  *issueDTO `json:"after" binding:"required"`
	Actor  actorDTO  `json:"actor"`
}

type issueDTO struct {
	ID          int64  `json:"id"`
	ProjectID   string `json:"project_id"`
	StatusID    string `json:"status_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ExternalKey string `json:"external_key"`
}

type actorDTO struct {
	ID          string          `json:"id"`
	Memberships []membershipDTO `json:"memberships"`
}

type membershipDTO struct {
	ProjectID string `json:"project_id"`
	RoleID    string `json:"role_id"`
}

func (d *issueDTO) toModel() *models.Issue {
	if d == nil {
		return nil
	}
	return &models.Issue{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		StatusID:    d.StatusID,
		Title:       d.Title,
		Description: d.Description,
		ExternalKey: d.ExternalKey,
	}
}

func (d actorDTO) toModel() models.Actor {
	actor := models.Actor{ID: d.ID}
	for _, m := range d.Memberships {
		actor.Memberships = append(actor.Memberships, models.Membership{
			ProjectID: m.ProjectID,
			RoleID:    m.RoleID,
		})
	}
	return actor
}

// jobDTO is the read-only representation served by the jobs API.
type jobDTO struct {
	ObjectID      int64  `json:"object_id"`
	State         string `json:"state"`
	Attempts      int    `json:"attempts"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	ExternalKey   string `json:"external_key,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	LockedBy      string `json:"locked_by,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toJobDTO(job models.SyncJob) jobDTO {
	return jobDTO{
		ObjectID:      job.ObjectID,
		State:         string(job.State),
		Attempts:      job.Attempts,
		NextAttemptAt: formatTime(job.NextAttemptAt),
		ExternalKey:   job.ExternalKey,
		LastError:     job.LastError,
		LockedBy:      job.LockedBy,
		CreatedAt:     formatTime(job.CreatedAt),
		UpdatedAt:     formatTime(job.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
