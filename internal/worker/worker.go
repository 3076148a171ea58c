// Package worker drains the durable job queue against the external API.
//
// Each worker goroutine owns the jobs it locks: every transition out of
// in_flight is conditioned on both the state and the worker's id, so a job
// reclaimed after a stall can never be finished twice. Creation is guarded by
// the external key recorded on the job row; a re-run of a job that already
// created its issue goes straight to the write-back.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/host"
	"github.com/soldercli/solder/internal/jira"
	"github.com/soldercli/solder/internal/logging"
	"github.com/soldercli/solder/internal/store"
)

// claimBatch bounds how many due jobs a worker considers per poll.
const claimBatch = 10

// Creator creates external issues. *jira.Client satisfies it.
type Creator interface {
	CreateIssue(ctx context.Context, req jira.CreateRequest) (string, error)
}

// Pool runs the queue workers and the stale-job reclaimer.
type Pool struct {
	store    *store.Store
	provider config.Provider

	// Client factories, replaceable in tests. Clients are built per job from
	// a fresh configuration snapshot so credential edits apply to everything
	// not yet succeeded.
	newCreator func(config.JiraSettings) (Creator, error)
	newHost    func(config.TrackerSettings) (host.Store, error)

	now func() time.Time
}

// NewPool builds a pool over the configuration provider and the job store.
func NewPool(provider config.Provider, st *store.Store) *Pool {
	return &Pool{
		store:    st,
		provider: provider,
		newCreator: func(s config.JiraSettings) (Creator, error) {
			return jira.NewClient(s)
		},
		newHost: func(s config.TrackerSettings) (host.Store, error) {
			return host.NewClient(s)
		},
		now: time.Now,
	}
}

// Run starts WORKER_COUNT workers plus the reclaimer and blocks until ctx is
// canceled. The worker count and timing knobs are fixed at startup; the
// sync-defining configuration is re-read per job.
func (p *Pool) Run(ctx context.Context) error {
	cfg, err := p.provider.Snapshot()
	if err != nil {
		return fmt.Errorf("load worker configuration: %w", err)
	}
	wcfg := cfg.Worker

	logging.Info("starting worker pool",
		"workers", wcfg.Count,
		"poll_interval", wcfg.PollInterval,
		"max_attempts", wcfg.MaxAttempts)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < wcfg.Count; i++ {
		g.Go(func() error {
			p.runWorker(ctx, wcfg)
			return nil
		})
	}
	g.Go(func() error {
		p.runReclaimer(ctx, wcfg)
		return nil
	})
	return g.Wait()
}

// runWorker polls for due jobs until ctx is canceled, draining everything
// that is ready before sleeping.
func (p *Pool) runWorker(ctx context.Context, wcfg config.WorkerSettings) {
	workerID := uuid.NewString()
	logging.Debug("worker started", "worker_id", workerID)

	ticker := time.NewTicker(wcfg.PollInterval)
	defer ticker.Stop()

	for {
		for p.runOnce(ctx, workerID, wcfg) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			logging.Debug("worker stopped", "worker_id", workerID)
			return
		case <-ticker.C:
		}
	}
}

// runOnce locks and processes at most one due job. Returns true when a job
// was processed, so the caller keeps draining.
func (p *Pool) runOnce(ctx context.Context, workerID string, wcfg config.WorkerSettings) bool {
	due, err := p.store.DueJobs(ctx, p.now(), claimBatch)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error("failed to query due jobs", "worker_id", workerID, "error", err)
		}
		return false
	}

	for _, job := range due {
		won, err := p.store.MarkInFlight(ctx, job.ObjectID, workerID, p.now())
		if err != nil {
			if ctx.Err() == nil {
				logging.Error("failed to lock job",
					"worker_id", workerID, "object_id", job.ObjectID, "error", err)
			}
			return false
		}
		if !won {
			// Another worker got there first; try the next candidate.
			continue
		}
		p.processJob(ctx, workerID, job.ObjectID, wcfg)
		return true
	}
	return false
}
