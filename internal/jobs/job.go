// Package jobs provides the in-memory registry tracking carousel creation
// jobs. Jobs exist only for the lifetime of the process; there is no
// persistence and no recovery after restart. A periodic reaper evicts old
// terminal jobs and force-fails stale ones.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the lifecycle state of a job. Transitions only move forward:
// pending → processing → completed | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Details holds per-job accumulated results.
type Details struct {
	TotalImages     int            `json:"totalImages"`
	ProcessedImages int            `json:"processedImages"`
	MediaIDs        []string       `json:"mediaIds"`
	TikTokPostID    string         `json:"tiktokPostId,omitempty"`
	ShareURL        string         `json:"shareUrl,omitempty"`
	Error           string         `json:"error,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Job is the tracked unit of work for one carousel creation request.
type Job struct {
	ID        string    `json:"jobId"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Details   Details   `json:"details"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// clone returns a deep copy safe to hand to callers outside the lock.
func (j *Job) clone() *Job {
	cp := *j
	cp.Details.MediaIDs = append([]string(nil), j.Details.MediaIDs...)
	if j.Details.Extra != nil {
		cp.Details.Extra = make(map[string]any, len(j.Details.Extra))
		for k, v := range j.Details.Extra {
			cp.Details.Extra[k] = v
		}
	}
	return &cp
}

// generateID creates a job ID from the current timestamp plus a random
// suffix. Collisions are practically negligible but not cryptographically
// impossible; the registry does not guard against them.
func generateID(now time.Time) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate random job ID suffix")
	}
	return fmt.Sprintf("job-%d-%s", now.UnixMilli(), hex.EncodeToString(b))
}

// computeProgress applies the progress formula. A zero total yields NaN
// (0/0) rather than a special-cased value; over- or under-range processed
// counts are not clamped.
func computeProgress(processed, total int) float64 {
	return math.Round(float64(processed) / float64(total) * 100)
}
