package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soldercli/solder/pkg/models"
)

// ErrNotFound is returned when no job exists for the requested object.
var ErrNotFound = errors.New("job not found")

// jobColumns is the canonical column order used by every SELECT and scanJob.
const jobColumns = `object_id, state, attempts, next_attempt_at, external_key,
	last_error, locked_by, locked_at, payload, created_at, updated_at`

// Claim atomically records that synchronization for the object has been
// decided, creating its Pending job in the same statement. It returns true
// for exactly one caller per object, ever; all later calls (and all
// concurrent racers) get false. The payload snapshots the work item so
// workers never re-read the host for rendering.
func (s *Store) Claim(ctx context.Context, objectID int64, payload models.JobPayload, now time.Time) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (object_id, state, attempts, next_attempt_at,
			external_key, last_error, locked_by, locked_at, payload,
			created_at, updated_at)
		VALUES (?, ?, 0, ?, '', '', '', 0, ?, ?, ?)
		ON CONFLICT(object_id) DO NOTHING`,
		objectID, models.JobPending, msOf(now), string(raw), msOf(now), msOf(now))
	if err != nil {
		return false, fmt.Errorf("claim object %d: %w", objectID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim object %d: %w", objectID, err)
	}
	return n == 1, nil
}

// GetJob returns the job for the object, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, objectID int64) (*models.SyncJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE object_id = ?`, objectID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", objectID, err)
	}
	return job, nil
}

// DueJobs returns up to limit jobs eligible to run at now, oldest due first.
// Several workers may see the same candidates; MarkInFlight arbitrates.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM sync_jobs
		WHERE state IN (?, ?) AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, object_id ASC
		LIMIT ?`,
		models.JobPending, models.JobFailedRetryable, msOf(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// MarkInFlight moves a due job into processing under the worker's lock.
// Returns false when another worker won the job or it is no longer due.
func (s *Store) MarkInFlight(ctx context.Context, objectID int64, workerID string, now time.Time) (bool, error) {
	return s.exec(ctx, `
		UPDATE sync_jobs
		SET state = ?, locked_by = ?, locked_at = ?, updated_at = ?
		WHERE object_id = ? AND state IN (?, ?) AND next_attempt_at <= ?`,
		models.JobInFlight, workerID, msOf(now), msOf(now),
		objectID, models.JobPending, models.JobFailedRetryable, msOf(now))
}

// RecordExternalKey persists the created external issue key on the job while
// it is still held by the worker. This must happen before the write-back so
// that any re-run of the job skips creation.
func (s *Store) RecordExternalKey(ctx context.Context, objectID int64, workerID, key string, now time.Time) (bool, error) {
	return s.exec(ctx, `
		UPDATE sync_jobs
		SET external_key = ?, updated_at = ?
		WHERE object_id = ? AND state = ? AND locked_by = ?`,
		key, msOf(now), objectID, models.JobInFlight, workerID)
}

// MarkSucceeded completes the job. Only the holding worker can do this.
func (s *Store) MarkSucceeded(ctx context.Context, objectID int64, workerID string, now time.Time) (bool, error) {
	return s.exec(ctx, `
		UPDATE sync_jobs
		SET state = ?, last_error = '', locked_by = '', locked_at = 0, updated_at = ?
		WHERE object_id = ? AND state = ? AND locked_by = ?`,
		models.JobSucceeded, msOf(now), objectID, models.JobInFlight, workerID)
}

// MarkRetry records a failed attempt and schedules the next one. The attempt
// counter increments here and nowhere else besides MarkTerminal.
func (s *Store) MarkRetry(ctx context.Context, objectID int64, workerID string, nextAttemptAt time.Time, lastError string, now time.Time) (bool, error) {
	return s.exec(ctx, `
		UPDATE sync_jobs
		SET state = ?, attempts = attempts + 1, next_attempt_at = ?,
			last_error = ?, locked_by = '', locked_at = 0, updated_at = ?
		WHERE object_id = ? AND state = ? AND locked_by = ?`,
		models.JobFailedRetryable, msOf(nextAttemptAt), truncateError(lastError), msOf(now),
		objectID, models.JobInFlight, workerID)
}

// MarkTerminal ends automatic processing for the job. Only an explicit
// requeue revives it.
func (s *Store) MarkTerminal(ctx context.Context, objectID int64, workerID, lastError string, now time.Time) (bool, error) {
	return s.exec(ctx, `
		UPDATE sync_jobs
		SET state = ?, attempts = attempts + 1, last_error = ?,
			locked_by = '', locked_at = 0, updated_at = ?
		WHERE object_id = ? AND state = ? AND locked_by = ?`,
		models.JobFailedTerminal, truncateError(lastError), msOf(now),
		objectID, models.JobInFlight, workerID)
}

// Release hands a job back untouched, to run again at nextAttemptAt. Used
// when processing cannot proceed for reasons that are not the job's fault
// (sync disabled, configuration incomplete); no attempt is burned.
func (s *Store) Release(ctx context.Context, objectID int64, workerID string, nextAttemptAt time.Time, now time.Time) (bool, error) {
	return s.exec(ctx, `
		UPDATE sync_jobs
		SET state = ?, next_attempt_at = ?, locked_by = '', locked_at = 0, updated_at = ?
		WHERE object_id = ? AND state = ? AND locked_by = ?`,
		models.JobPending, msOf(nextAttemptAt), msOf(now),
		objectID, models.JobInFlight, workerID)
}

// ReclaimStale returns in-flight jobs whose lock is older than lockedBefore
// to the Pending state, preserving attempts and any recorded external key.
// Covers workers that died mid-job.
func (s *Store) ReclaimStale(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET state = ?, locked_by = '', locked_at = 0, updated_at = ?
		WHERE state = ? AND locked_at <= ?`,
		models.JobPending, msOf(now), models.JobInFlight, msOf(lockedBefore))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RequeueTerminal is the operator override: it returns a Failed-Terminal job
// to Pending with a fresh attempt budget. A recorded external key survives so
// the retry never creates a second external issue.
func (s *Store) RequeueTerminal(ctx context.Context, objectID int64, now time.Time) (bool, error) {
	return s.exec(ctx, `
		UPDATE sync_jobs
		SET state = ?, attempts = 0, next_attempt_at = ?, last_error = '', updated_at = ?
		WHERE object_id = ? AND state = ?`,
		models.JobPending, msOf(now), msOf(now),
		objectID, models.JobFailedTerminal)
}

// ListJobs returns up to limit jobs, newest first, optionally filtered by
// state (empty state means all).
func (s *Store) ListJobs(ctx context.Context, state models.JobState, limit int) ([]models.SyncJob, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if state == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+jobColumns+`
			FROM sync_jobs
			ORDER BY updated_at DESC, object_id DESC
			LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+jobColumns+`
			FROM sync_jobs
			WHERE state = ?
			ORDER BY updated_at DESC, object_id DESC
			LIMIT ?`, state, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountByState returns the number of jobs in each state.
func (s *Store) CountByState(ctx context.Context) (map[models.JobState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM sync_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobState]int)
	for rows.Next() {
		var (
			state models.JobState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// exec runs a CAS update and reports whether it took effect.
func (s *Store) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob maps one row in jobColumns order onto a SyncJob.
func scanJob(row rowScanner) (*models.SyncJob, error) {
	var (
		job        models.SyncJob
		nextMs     int64
		lockedMs   int64
		createdMs  int64
		updatedMs  int64
		rawPayload string
	)
	err := row.Scan(&job.ObjectID, &job.State, &job.Attempts, &nextMs,
		&job.ExternalKey, &job.LastError, &job.LockedBy, &lockedMs,
		&rawPayload, &createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rawPayload), &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload for %d: %w", job.ObjectID, err)
	}
	job.NextAttemptAt = timeOf(nextMs)
	job.LockedAt = timeOf(lockedMs)
	job.CreatedAt = timeOf(createdMs)
	job.UpdatedAt = timeOf(updatedMs)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// maxErrorLen bounds last_error so an HTTP body dump cannot bloat the row.
const maxErrorLen = 2000

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}

// msOf converts a time to the stored unix-millisecond form; the zero time
// maps to 0.
func msOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// timeOf is the inverse of msOf.
func timeOf(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
