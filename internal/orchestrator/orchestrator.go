// Package orchestrator coordinates carousel creation end to end: input
// source resolution, per-asset uploads, the final publish call, and job
// tracking for the asynchronous path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tiktok-carousel-service/internal/filehandler"
	"github.com/fpang/tiktok-carousel-service/internal/jobs"
	"github.com/fpang/tiktok-carousel-service/internal/publisher"
)

// defaultTaskTimeout bounds one detached background task end to end.
const defaultTaskTimeout = 10 * time.Minute

// ErrURLSourceNotImplemented is returned for URL-sourced images. The URL
// path fails loudly rather than silently proceeding with zero images.
var ErrURLSourceNotImplemented = errors.New("downloading images from URLs is not implemented")

// ErrJobNotFound is returned when a job ID has no entry in the registry.
var ErrJobNotFound = errors.New("job not found")

// imageUploader is the slice of the upload pipeline the orchestrator drives.
type imageUploader interface {
	UploadImage(ctx context.Context, accountID string, file *filehandler.UploadedFile) (string, error)
	UploadBatch(ctx context.Context, accountID string, files []*filehandler.UploadedFile) ([]string, error)
}

// postCreator is the slice of the publisher the orchestrator drives.
type postCreator interface {
	CreatePost(ctx context.Context, mediaIDs []string, opts publisher.PostOptions, accountID string) (*publisher.PostResult, error)
}

// Request is one carousel creation request. Exactly one of Files,
// ImagesBase64, or ImageURLs must be present.
type Request struct {
	Files        []*filehandler.UploadedFile
	ImagesBase64 []string
	ImageURLs    []string

	Caption   string
	Hashtags  []string
	Draft     bool
	AccountID string

	// Async selects the polled background path; the default is
	// synchronous execution.
	Async bool
}

// Result is the outcome of CreateCarousel. Synchronous requests carry the
// post identity; asynchronous requests carry the job ID to poll.
type Result struct {
	PostID     string
	ShareURL   string
	MediaCount int
	Draft      bool
	JobID      string
}

// Orchestrator wires the pipeline, publisher, and job registry together.
type Orchestrator struct {
	uploads     imageUploader
	posts       postCreator
	registry    *jobs.Registry
	taskTimeout time.Duration
}

// New creates an Orchestrator.
func New(uploads imageUploader, posts postCreator, registry *jobs.Registry) *Orchestrator {
	return &Orchestrator{
		uploads:     uploads,
		posts:       posts,
		registry:    registry,
		taskTimeout: defaultTaskTimeout,
	}
}

// CreateCarousel validates the request, stages its images as local files,
// and either runs the full flow inline (sync) or registers a job and spawns
// a detached background task (async).
func (o *Orchestrator) CreateCarousel(ctx context.Context, req *Request) (*Result, error) {
	files, err := o.resolveSource(req)
	if err != nil {
		return nil, err
	}

	if v := publisher.ValidatePostContent(req.Caption, req.Hashtags); !v.Valid {
		filehandler.Cleanup(paths(files))
		return nil, fmt.Errorf("invalid post content: %s", strings.Join(v.Errors, "; "))
	}

	opts := publisher.PostOptions{
		Caption:  req.Caption,
		Hashtags: req.Hashtags,
		Draft:    req.Draft,
	}

	if req.Async {
		job := o.registry.CreateJob(len(files))
		go o.runJob(job.ID, req.AccountID, files, opts)
		log.Info().
			Str("jobId", job.ID).
			Str("accountId", req.AccountID).
			Int("images", len(files)).
			Msg("Carousel job accepted")
		return &Result{JobID: job.ID, MediaCount: len(files)}, nil
	}

	return o.runSync(ctx, req.AccountID, files, opts, req.Draft)
}

// resolveSource enforces that exactly one image source is present and
// stages base64 payloads into local files.
func (o *Orchestrator) resolveSource(req *Request) ([]*filehandler.UploadedFile, error) {
	sources := 0
	if len(req.Files) > 0 {
		sources++
	}
	if len(req.ImagesBase64) > 0 {
		sources++
	}
	if len(req.ImageURLs) > 0 {
		sources++
	}
	if sources == 0 {
		return nil, fmt.Errorf("no images provided: supply files, a base64 array, or URLs")
	}
	if sources > 1 {
		return nil, fmt.Errorf("more than one image source provided: supply exactly one of files, base64 array, or URLs")
	}

	switch {
	case len(req.ImageURLs) > 0:
		return nil, ErrURLSourceNotImplemented
	case len(req.ImagesBase64) > 0:
		return filehandler.DecodeBase64Images(req.ImagesBase64)
	default:
		return req.Files, nil
	}
}

// runSync executes upload → cleanup → publish inline. Any error along the
// way cleans up local files that still exist before it propagates.
func (o *Orchestrator) runSync(ctx context.Context, accountID string, files []*filehandler.UploadedFile, opts publisher.PostOptions, draft bool) (*Result, error) {
	o.logImageSummaries(files)

	mediaIDs, err := o.uploads.UploadBatch(ctx, accountID, files)
	if err != nil {
		filehandler.Cleanup(paths(files))
		return nil, err
	}

	// Local files are no longer needed once every asset is committed.
	filehandler.Cleanup(paths(files))

	result, err := o.posts.CreatePost(ctx, mediaIDs, opts, accountID)
	if err != nil {
		return nil, err
	}

	return &Result{
		PostID:     result.PostID,
		ShareURL:   result.ShareURL,
		MediaCount: result.MediaCount,
		Draft:      draft,
	}, nil
}

// runJob is the detached background task for one async job. Nothing awaits
// it, so it must never let a failure escape: every error and panic is
// converted into FailJob, and local files are removed on every exit path.
func (o *Orchestrator) runJob(jobID, accountID string, files []*filehandler.UploadedFile, opts publisher.PostOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), o.taskTimeout)
	defer cancel()
	defer filehandler.Cleanup(paths(files))
	defer func() {
		if r := recover(); r != nil {
			o.registry.FailJob(jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	logger := log.With().Str("jobId", jobID).Str("accountId", accountID).Logger()
	logger.Info().Int("images", len(files)).Msg("Starting carousel job")

	o.logImageSummaries(files)

	// Assets go up one at a time; progress is recorded after each so the
	// observable percentage only ever moves forward.
	mediaIDs := make([]string, 0, len(files))
	for i, f := range files {
		id, err := o.uploads.UploadImage(ctx, accountID, f)
		if err != nil {
			o.registry.FailJob(jobID, err.Error())
			return
		}
		mediaIDs = append(mediaIDs, id)
		o.registry.UpdateProgress(jobID, i+1, id)
	}

	result, err := o.posts.CreatePost(ctx, mediaIDs, opts, accountID)
	if err != nil {
		o.registry.FailJob(jobID, err.Error())
		return
	}

	o.registry.CompleteJob(jobID, result.PostID, map[string]any{"shareUrl": result.ShareURL})
	logger.Info().Str("postId", result.PostID).Msg("Carousel job finished")
}

// CancelJob marks a non-terminal job failed. Cancellation is observational
// only: it does not stop an in-flight background task, and a task that
// later completes will overwrite the cancelled status.
func (o *Orchestrator) CancelJob(id string) error {
	job := o.registry.GetJob(id)
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job is already %s", job.Status)
	}
	o.registry.FailJob(id, "cancelled by user")
	return nil
}

// logImageSummaries emits a debug line per asset with its EXIF highlights.
// Extraction failures are expected (base64 payloads rarely carry EXIF) and
// only logged at trace level.
func (o *Orchestrator) logImageSummaries(files []*filehandler.UploadedFile) {
	if log.Debug().Enabled() {
		for _, f := range files {
			summary, err := filehandler.ExtractImageSummary(f.Path)
			if err != nil {
				log.Trace().Err(err).Str("file", f.Filename).Msg("No image metadata")
				continue
			}
			log.Debug().
				Str("file", f.Filename).
				Bool("hasGps", summary.HasGPS).
				Bool("hasDate", summary.HasDate).
				Str("camera", strings.TrimSpace(summary.CameraMake+" "+summary.CameraModel)).
				Msg("Image metadata")
		}
	}
}

func paths(files []*filehandler.UploadedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
