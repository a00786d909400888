package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tiktok-carousel-service/internal/metrics"
)

// Registry is the shared in-memory job table. It is read and written from
// request goroutines, detached background upload goroutines, and the reaper,
// so every read-modify-write happens under the mutex. The lock is never held
// across a network or file wait.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job

	collector *metrics.Collector // may be nil in tests
	now       func() time.Time
}

// NewRegistry creates an empty registry. collector may be nil.
func NewRegistry(collector *metrics.Collector) *Registry {
	return &Registry{
		jobs:      make(map[string]*Job),
		collector: collector,
		now:       time.Now,
	}
}

// CreateJob registers a new pending job for totalImages assets and returns a
// snapshot of it.
func (r *Registry) CreateJob(totalImages int) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	j := &Job{
		ID:     generateID(now),
		Status: StatusPending,
		Details: Details{
			TotalImages: totalImages,
			MediaIDs:    []string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[j.ID] = j

	if r.collector != nil {
		r.collector.RecordJobCreated()
	}
	log.Debug().Str("jobId", j.ID).Int("totalImages", totalImages).Msg("Job created")
	return j.clone()
}

// GetJob returns a snapshot of the job, or nil if the ID is unknown.
// Unknown or malformed IDs are a simple miss, not an error.
func (r *Registry) GetJob(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil
	}
	return j.clone()
}

// Update shallow-merges the given fields into the job and refreshes
// UpdatedAt. Recognized keys map onto the typed detail fields; everything
// else lands in Details.Extra. This path performs no state-machine
// enforcement; the forward-only status convention is upheld by the lifecycle
// methods, not here. Returns false if the ID is unknown.
func (r *Registry) Update(id string, fields map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return false
	}

	for k, v := range fields {
		switch k {
		case "status":
			if s, ok := v.(Status); ok {
				j.Status = s
			} else if s, ok := v.(string); ok {
				j.Status = Status(s)
			}
		case "progress":
			if p, ok := v.(float64); ok {
				j.Progress = p
			}
		case "totalImages":
			if n, ok := v.(int); ok {
				j.Details.TotalImages = n
			}
		case "processedImages":
			if n, ok := v.(int); ok {
				j.Details.ProcessedImages = n
			}
		case "tiktokPostId":
			if s, ok := v.(string); ok {
				j.Details.TikTokPostID = s
			}
		case "shareUrl":
			if s, ok := v.(string); ok {
				j.Details.ShareURL = s
			}
		case "error":
			if s, ok := v.(string); ok {
				j.Details.Error = s
			}
		default:
			if j.Details.Extra == nil {
				j.Details.Extra = make(map[string]any)
			}
			j.Details.Extra[k] = v
		}
	}
	j.UpdatedAt = r.now()
	return true
}

// UpdateProgress records that processed assets have finished, appending
// mediaID (when non-empty) to the ordered media list and recomputing the
// progress percentage. A job still pending flips to processing on its first
// progress update. Returns false if the ID is unknown.
func (r *Registry) UpdateProgress(id string, processed int, mediaID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return false
	}

	if mediaID != "" {
		j.Details.MediaIDs = append(j.Details.MediaIDs, mediaID)
	}
	j.Details.ProcessedImages = processed
	j.Progress = computeProgress(processed, j.Details.TotalImages)
	if j.Status == StatusPending {
		j.Status = StatusProcessing
	}
	j.UpdatedAt = r.now()

	log.Debug().
		Str("jobId", id).
		Int("processed", processed).
		Float64("progress", j.Progress).
		Msg("Job progress updated")
	return true
}

// CompleteJob marks the job completed with the published post ID, forcing
// progress to 100 regardless of its prior value. extra fields are merged
// into the job details. Returns false if the ID is unknown.
func (r *Registry) CompleteJob(id, postID string, extra map[string]any) bool {
	r.mu.Lock()

	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	j.Status = StatusCompleted
	j.Progress = 100
	j.Details.TikTokPostID = postID
	for k, v := range extra {
		switch k {
		case "shareUrl":
			if s, ok := v.(string); ok {
				j.Details.ShareURL = s
				continue
			}
		}
		if j.Details.Extra == nil {
			j.Details.Extra = make(map[string]any)
		}
		j.Details.Extra[k] = v
	}
	j.UpdatedAt = r.now()
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RecordJobCompleted()
	}
	log.Info().Str("jobId", id).Str("postId", postID).Msg("Job completed")
	return true
}

// FailJob marks the job failed with the given error message. Progress and
// processed counts already recorded are preserved; failure does not erase
// partial work. Returns false if the ID is unknown.
func (r *Registry) FailJob(id, errMsg string) bool {
	r.mu.Lock()

	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	j.Status = StatusFailed
	j.Details.Error = errMsg
	j.UpdatedAt = r.now()
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RecordJobFailed()
	}
	log.Error().Str("jobId", id).Str("error", errMsg).Msg("Job failed")
	return true
}

// List returns snapshots of all currently-held jobs, newest first.
func (r *Registry) List() []*Job {
	r.mu.Lock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}
