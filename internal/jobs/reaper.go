package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// timedOutError is recorded on jobs the reaper force-fails. It is the only
// safety net against leaked async jobs, since there is no cooperative
// cancellation signal into the orchestrator.
const timedOutError = "job timed out"

// StartReaper launches the periodic sweep goroutine. Terminal jobs whose last
// update is older than retention are evicted; pending/processing jobs whose
// last update predates staleTimeout are force-failed. The goroutine exits
// when ctx is cancelled.
func (r *Registry) StartReaper(ctx context.Context, interval, retention, staleTimeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug().Msg("Job reaper stopped")
				return
			case <-ticker.C:
				r.Sweep(r.now(), retention, staleTimeout)
			}
		}
	}()
	log.Info().
		Dur("interval", interval).
		Dur("retention", retention).
		Dur("staleTimeout", staleTimeout).
		Msg("Job reaper started")
}

// Sweep performs one reaper pass against the given reference time. It
// returns the number of evicted and force-failed jobs. Jobs outside both
// windows are left untouched.
func (r *Registry) Sweep(now time.Time, retention, staleTimeout time.Duration) (evicted, timedOut int) {
	r.mu.Lock()
	for id, j := range r.jobs {
		switch {
		case j.Status.Terminal() && now.Sub(j.UpdatedAt) > retention:
			delete(r.jobs, id)
			evicted++
		case !j.Status.Terminal() && now.Sub(j.UpdatedAt) > staleTimeout:
			j.Status = StatusFailed
			j.Details.Error = timedOutError
			j.UpdatedAt = now
			timedOut++
		}
	}
	r.mu.Unlock()

	if r.collector != nil {
		for i := 0; i < evicted+timedOut; i++ {
			r.collector.RecordJobReaped()
		}
	}
	if evicted > 0 || timedOut > 0 {
		log.Info().Int("evicted", evicted).Int("timedOut", timedOut).Msg("Job reaper sweep")
	}
	return evicted, timedOut
}
