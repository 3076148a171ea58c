package worker

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// delayForAttempt returns the wait before retrying a job that has already
// failed attempts times: base doubled per prior failure, capped. The schedule
// is deterministic so operators can predict when a job comes back.
func delayForAttempt(base, cap time.Duration, attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = cap
	bo.MaxElapsedTime = 0
	bo.Reset()

	d := bo.NextBackOff()
	for i := 0; i < attempts; i++ {
		d = bo.NextBackOff()
	}
	return d
}
