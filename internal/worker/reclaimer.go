package worker

import (
	"context"
	"time"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/logging"
	"github.com/soldercli/solder/internal/telemetry"
)

// runReclaimer periodically returns in-flight jobs whose lock has outlived
// the processing timeout to the queue. Attempts and any recorded external
// key survive, so a reclaimed job resumes instead of starting over.
func (p *Pool) runReclaimer(ctx context.Context, wcfg config.WorkerSettings) {
	ticker := time.NewTicker(wcfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := p.now().Add(-wcfg.ProcessingTimeout)
			n, err := p.store.ReclaimStale(ctx, cutoff, p.now())
			if err != nil {
				if ctx.Err() == nil {
					logging.Error("failed to reclaim stale jobs", "error", err)
				}
				continue
			}
			if n > 0 {
				logging.Warn("reclaimed stale in-flight jobs", "count", n)
				telemetry.RecordReclaimed(ctx, n)
			}
		}
	}
}
