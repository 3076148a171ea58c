package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/host"
	"github.com/soldercli/solder/internal/jira"
	"github.com/soldercli/solder/internal/logging"
	"github.com/soldercli/solder/internal/store"
	"github.com/soldercli/solder/internal/telemetry"
	"github.com/soldercli/solder/internal/writeback"
	"github.com/soldercli/solder/pkg/models"
)

// processJob runs one locked job to completion: create the external issue if
// no key is recorded yet, commit the write-back, mark succeeded. Any failure
// is classified and moved to failed_retryable or failed_terminal; panics are
// converted into a retryable failure so one bad job cannot kill a worker.
func (p *Pool) processJob(ctx context.Context, workerID string, objectID int64, wcfg config.WorkerSettings) {
	// Re-read under the lock; attempts and the recorded key are only
	// trustworthy after MarkInFlight succeeded.
	job, err := p.store.GetJob(ctx, objectID)
	if err != nil {
		logging.Error("failed to load locked job",
			"worker_id", workerID, "object_id", objectID, "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("panic while processing job",
				"worker_id", workerID, "object_id", objectID, "panic", r)
			// ctx may be the cause of the panic's unwinding; use a fresh one.
			delay := delayForAttempt(wcfg.BackoffBase, wcfg.BackoffCap, job.Attempts)
			next := p.now().Add(delay)
			if _, err := p.store.MarkRetry(context.Background(), objectID, workerID,
				next, fmt.Sprintf("panic: %v", r), p.now()); err != nil {
				logging.Error("failed to record panic",
					"object_id", objectID, "error", err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, wcfg.ProcessingTimeout)
	defer cancel()

	cfg, err := p.provider.Snapshot()
	if err != nil {
		p.deferJob(ctx, workerID, objectID, wcfg, fmt.Sprintf("configuration unavailable: %v", err))
		return
	}
	if !cfg.Sync.Enabled {
		p.deferJob(ctx, workerID, objectID, wcfg, "sync disabled")
		return
	}
	if missing := cfg.MissingForSync(); len(missing) > 0 {
		p.deferJob(ctx, workerID, objectID, wcfg, fmt.Sprintf("missing configuration: %v", missing))
		return
	}

	hostClient, err := p.newHost(cfg.Tracker)
	if err != nil {
		p.deferJob(ctx, workerID, objectID, wcfg, fmt.Sprintf("tracker client: %v", err))
		return
	}
	writer := writeback.New(hostClient)

	key := job.ExternalKey
	if key == "" {
		key = p.createIssue(ctx, workerID, job, cfg, wcfg, hostClient, writer)
		if key == "" {
			return
		}
	}

	// Write-back: external key and audit note land on the host atomically.
	reqCtx, cancelReq := context.WithTimeout(ctx, wcfg.RequestTimeout)
	err = writer.Commit(reqCtx, objectID, key)
	cancelReq()
	if err != nil {
		p.failJob(ctx, workerID, job, wcfg, writer, err, "")
		return
	}

	ok, err := p.store.MarkSucceeded(ctx, objectID, workerID, p.now())
	if err != nil || !ok {
		logging.Error("failed to mark job succeeded",
			"worker_id", workerID, "object_id", objectID, "error", err)
		return
	}
	telemetry.RecordJobOutcome(ctx, "succeeded", "")
	logging.Info("sync job succeeded",
		"object_id", objectID, "external_key", key, "attempts", job.Attempts+1)
}

// createIssue performs the creation half of a job: adopt a key the host
// already carries, or render the summary and call the external API once. The
// created key is recorded on the job row before anything else so that a
// crash after this point can never lead to a second creation. Returns the
// key, or "" when the job has already been transitioned.
func (p *Pool) createIssue(ctx context.Context, workerID string, job *models.SyncJob,
	cfg *config.Config, wcfg config.WorkerSettings, hostClient host.Store, writer *writeback.Writer) string {

	objectID := job.ObjectID

	// The object may have been linked out of band since the job was claimed.
	reqCtx, cancel := context.WithTimeout(ctx, wcfg.RequestTimeout)
	existing, err := hostClient.GetExternalKey(reqCtx, objectID)
	cancel()
	if err != nil {
		p.failJob(ctx, workerID, job, wcfg, writer, fmt.Errorf("read host sync state: %w", err), "")
		return ""
	}
	if existing != "" {
		logging.Info("object already linked, adopting key",
			"object_id", objectID, "external_key", existing)
		if ok, err := p.store.RecordExternalKey(ctx, objectID, workerID, existing, p.now()); err != nil || !ok {
			logging.Error("failed to record adopted key",
				"object_id", objectID, "error", err)
			return ""
		}
		if ok, err := p.store.MarkSucceeded(ctx, objectID, workerID, p.now()); err != nil || !ok {
			logging.Error("failed to mark adopted job succeeded",
				"object_id", objectID, "error", err)
			return ""
		}
		telemetry.RecordJobOutcome(ctx, "succeeded", "adopted")
		return ""
	}

	summary, err := renderSummary(cfg.Sync.SummaryTemplate, objectID, job.Payload.Title)
	if err != nil {
		p.failJob(ctx, workerID, job, wcfg, writer, err, "template")
		return ""
	}

	creator, err := p.newCreator(cfg.Jira)
	if err != nil {
		p.deferJob(ctx, workerID, objectID, wcfg, fmt.Sprintf("jira client: %v", err))
		return ""
	}

	reqCtx, cancel = context.WithTimeout(ctx, wcfg.RequestTimeout)
	key, err := creator.CreateIssue(reqCtx, jira.CreateRequest{
		ProjectKey:  cfg.Jira.ProjectKey,
		IssueType:   cfg.Jira.IssueType,
		Summary:     summary,
		Description: job.Payload.Description,
	})
	cancel()
	if err != nil {
		_, kind := classifyFailure(err)
		telemetry.RecordExternalCreate(ctx, kind)
		p.failJob(ctx, workerID, job, wcfg, writer, err, "")
		return ""
	}
	telemetry.RecordExternalCreate(ctx, "created")

	if ok, err := p.store.RecordExternalKey(ctx, objectID, workerID, key, p.now()); err != nil || !ok {
		// The lock was lost after creation and before the key could be
		// recorded. Nothing safe can be done with the job now; the created
		// issue is only findable through this log line.
		logging.Error("failed to record external key after creation",
			"worker_id", workerID, "object_id", objectID,
			"external_key", key, "error", err)
		return ""
	}
	return key
}

// failJob classifies a processing error and transitions the job. An empty
// kind means classify from the error; a non-empty kind forces the label.
func (p *Pool) failJob(ctx context.Context, workerID string, job *models.SyncJob,
	wcfg config.WorkerSettings, writer *writeback.Writer, procErr error, kind string) {

	terminal, classified := classifyFailure(procErr)
	if kind == "" {
		kind = classified
	}

	attempt := job.Attempts + 1
	msg := procErr.Error()

	if !terminal && attempt >= wcfg.MaxAttempts {
		terminal = true
		msg = fmt.Sprintf("attempt limit reached: %s", msg)
	}

	if terminal {
		if ok, err := p.store.MarkTerminal(ctx, job.ObjectID, workerID, msg, p.now()); err != nil || !ok {
			logging.Error("failed to mark job terminal",
				"object_id", job.ObjectID, "error", err)
			return
		}
		logging.Error("sync job failed terminally",
			"object_id", job.ObjectID, "kind", kind, "attempts", attempt, "error", msg)
		telemetry.RecordJobOutcome(ctx, "terminal", kind)
		// Operator signal on the work item itself; best effort.
		noteCtx, cancel := context.WithTimeout(ctx, wcfg.RequestTimeout)
		writer.RecordFailure(noteCtx, job.ObjectID, msg)
		cancel()
		return
	}

	delay := delayForAttempt(wcfg.BackoffBase, wcfg.BackoffCap, job.Attempts)
	next := p.now().Add(delay)
	if ok, err := p.store.MarkRetry(ctx, job.ObjectID, workerID, next, msg, p.now()); err != nil || !ok {
		logging.Error("failed to schedule retry",
			"object_id", job.ObjectID, "error", err)
		return
	}
	logging.Warn("sync job attempt failed, will retry",
		"object_id", job.ObjectID, "kind", kind, "attempt", attempt,
		"next_attempt_in", delay, "error", msg)
	telemetry.RecordJobOutcome(ctx, "retried", kind)
}

// deferJob hands a job back without burning an attempt. Used when processing
// cannot proceed for reasons that are not the job's fault.
func (p *Pool) deferJob(ctx context.Context, workerID string, objectID int64,
	wcfg config.WorkerSettings, reason string) {

	next := p.now().Add(wcfg.BackoffBase)
	if ok, err := p.store.Release(ctx, objectID, workerID, next, p.now()); err != nil || !ok {
		logging.Error("failed to defer job", "object_id", objectID, "error", err)
		return
	}
	logging.Warn("sync job deferred", "object_id", objectID, "reason", reason)
	telemetry.RecordJobOutcome(ctx, "released", "deferred")
}

// classifyFailure decides whether an error ends the job. Rate limits, auth
// rejections, server errors, timeouts and transport problems are worth
// retrying; a 4xx that would repeat identically and a host that no longer
// knows the object are not.
func classifyFailure(err error) (terminal bool, kind string) {
	var apiErr *jira.APIError
	var hostErr *host.StatusError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Permanent(), apiErr.Kind()
	case errors.As(err, &hostErr):
		if hostErr.StatusCode == http.StatusNotFound {
			return true, "host_gone"
		}
		return false, "host"
	case errors.Is(err, context.DeadlineExceeded):
		return false, "timeout"
	default:
		return false, "transport"
	}
}

// summaryData is what SYNC_SUMMARY_TEMPLATE may reference.
type summaryData struct {
	ID    int64
	Title string
}

// renderSummary evaluates the configured summary template at processing
// time, so template edits apply to every job not yet succeeded.
func renderSummary(tmpl string, objectID int64, title string) (string, error) {
	t, err := template.New("summary").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse summary template: %w", err)
	}
	var buf strings.Builder
	if err := t.Execute(&buf, summaryData{ID: objectID, Title: title}); err != nil {
		return "", fmt.Errorf("render summary template: %w", err)
	}
	return buf.String(), nil
}
