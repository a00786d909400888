// Package uploader turns local image assets into committed remote media IDs
// via the platform's three-phase upload protocol (init, transfer, commit).
//
// The retry policy wraps the entire three-phase sequence: a failed attempt
// restarts from Init so a half-finished session is never resumed. Only
// errors matching known transient signatures are retried, with exponential
// backoff, up to a fixed cap. Batches run strictly sequentially to bound
// load on the upstream API and to keep progress reporting fine-grained.
package uploader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tiktok-carousel-service/internal/filehandler"
	"github.com/fpang/tiktok-carousel-service/internal/metrics"
	"github.com/fpang/tiktok-carousel-service/internal/tiktok"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// mediaAPI is the slice of the platform client the pipeline drives.
type mediaAPI interface {
	InitUpload(ctx context.Context, accessToken string, size int64, mimeType string) (*tiktok.UploadSession, error)
	TransferFile(ctx context.Context, uploadURL, path string, size int64, mimeType string) error
	CommitUpload(ctx context.Context, accessToken, mediaID string) (string, error)
}

// tokenSource issues valid bearer tokens per account.
type tokenSource interface {
	GetValidAccessToken(ctx context.Context, accountID string) (string, error)
}

// transientSignatures is the allow-list of retryable error text. Anything
// not matching fails the upload immediately.
var transientSignatures = []string{
	"network error",
	"timeout",
	"timed out",
	"temporary failure",
	"temporarily unavailable",
	"rate limit",
	"connection refused",
	"connection reset",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
}

// isTransient reports whether the error text matches a retryable signature.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Pipeline uploads image assets for one or more accounts.
type Pipeline struct {
	api       mediaAPI
	tokens    tokenSource
	collector *metrics.Collector // may be nil

	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
}

// NewPipeline creates an upload pipeline. Non-positive maxRetries or
// baseDelay select the defaults (3 retries, 1s base delay).
func NewPipeline(api mediaAPI, tokens tokenSource, collector *metrics.Collector, maxRetries int, baseDelay time.Duration) *Pipeline {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Pipeline{
		api:        api,
		tokens:     tokens,
		collector:  collector,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      time.Sleep,
	}
}

// UploadImage uploads one asset and returns its committed media ID. On a
// transient failure the full three-phase sequence is retried from Init after
// a backoff of baseDelay × 2^attempt; non-transient errors fail immediately.
func (p *Pipeline) UploadImage(ctx context.Context, accountID string, file *filehandler.UploadedFile) (string, error) {
	for attempt := 0; ; attempt++ {
		mediaID, err := p.uploadOnce(ctx, accountID, file)
		if err == nil {
			if p.collector != nil {
				p.collector.RecordUpload()
			}
			return mediaID, nil
		}

		if !isTransient(err) {
			return "", err
		}
		if attempt >= p.maxRetries {
			return "", fmt.Errorf("upload failed after %d attempts: %w", attempt+1, err)
		}

		delay := p.baseDelay * (1 << attempt)
		log.Warn().
			Err(err).
			Str("file", file.Filename).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Transient upload failure, retrying")
		if p.collector != nil {
			p.collector.RecordUploadRetry()
		}
		p.sleep(delay)
	}
}

// uploadOnce runs the three phases in strict order for a single attempt.
func (p *Pipeline) uploadOnce(ctx context.Context, accountID string, file *filehandler.UploadedFile) (string, error) {
	token, err := p.tokens.GetValidAccessToken(ctx, accountID)
	if err != nil {
		return "", err
	}

	session, err := p.api.InitUpload(ctx, token, file.Size, file.MimeType)
	if err != nil {
		return "", err
	}

	if err := p.api.TransferFile(ctx, session.UploadURL, file.Path, file.Size, file.MimeType); err != nil {
		return "", err
	}

	if _, err := p.api.CommitUpload(ctx, token, session.MediaID); err != nil {
		return "", err
	}

	return session.MediaID, nil
}

// UploadBatch uploads assets strictly sequentially, never concurrently. If
// any asset ultimately fails, the whole batch fails and successes are
// discarded from the return value; the error lists every per-index failure.
func (p *Pipeline) UploadBatch(ctx context.Context, accountID string, files []*filehandler.UploadedFile) ([]string, error) {
	mediaIDs := make([]string, 0, len(files))
	var failures []string

	for i, f := range files {
		id, err := p.UploadImage(ctx, accountID, f)
		if err != nil {
			failures = append(failures, fmt.Sprintf("image %d: %v", i, err))
			continue
		}
		mediaIDs = append(mediaIDs, id)
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("batch upload failed: %s", strings.Join(failures, "; "))
	}
	return mediaIDs, nil
}

// UploadBase64 decodes base64 payloads to temporary files and delegates to
// the batch path. The temporary files are removed on every exit path.
func (p *Pipeline) UploadBase64(ctx context.Context, accountID string, encoded []string) ([]string, error) {
	files, err := filehandler.DecodeBase64Images(encoded)
	if err != nil {
		return nil, err
	}
	defer func() {
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		filehandler.Cleanup(paths)
	}()

	return p.UploadBatch(ctx, accountID, files)
}
