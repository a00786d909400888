package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/tiktok-carousel-service/internal/filehandler"
	"github.com/fpang/tiktok-carousel-service/internal/jobs"
	"github.com/fpang/tiktok-carousel-service/internal/publisher"
)

// fakeUploader scripts per-index upload outcomes.
type fakeUploader struct {
	failAt    map[int]error // index → error
	calls     int
	batchErr  error
	batchOnly bool
}

func (f *fakeUploader) UploadImage(_ context.Context, _ string, _ *filehandler.UploadedFile) (string, error) {
	idx := f.calls
	f.calls++
	if err, ok := f.failAt[idx]; ok {
		return "", err
	}
	return fmt.Sprintf("m-%d", idx+1), nil
}

func (f *fakeUploader) UploadBatch(ctx context.Context, accountID string, files []*filehandler.UploadedFile) ([]string, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	ids := make([]string, len(files))
	for i := range files {
		id, err := f.UploadImage(ctx, accountID, files[i])
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// fakePoster records publish calls; panicOnCall exercises the panic sink.
type fakePoster struct {
	gotMediaIDs []string
	gotOpts     publisher.PostOptions
	err         error
	panicOnCall bool
}

func (f *fakePoster) CreatePost(_ context.Context, mediaIDs []string, opts publisher.PostOptions, _ string) (*publisher.PostResult, error) {
	if f.panicOnCall {
		panic("poster exploded")
	}
	f.gotMediaIDs = mediaIDs
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &publisher.PostResult{PostID: "post-1", ShareURL: "https://t/1", MediaCount: len(mediaIDs)}, nil
}

func stagedFiles(t *testing.T, n int) []*filehandler.UploadedFile {
	t.Helper()
	files := make([]*filehandler.UploadedFile, n)
	for i := range files {
		path := filepath.Join(t.TempDir(), fmt.Sprintf("img-%d.jpg", i))
		require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o600))
		files[i] = &filehandler.UploadedFile{Path: path, Filename: filepath.Base(path), MimeType: "image/jpeg", Size: 3}
	}
	return files
}

func allRemoved(files []*filehandler.UploadedFile) bool {
	for _, f := range files {
		if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
			return false
		}
	}
	return true
}

func TestCreateCarouselRequiresExactlyOneSource(t *testing.T) {
	o := New(&fakeUploader{}, &fakePoster{}, jobs.NewRegistry(nil))

	_, err := o.CreateCarousel(context.Background(), &Request{AccountID: "a"})
	assert.ErrorContains(t, err, "no images provided")

	_, err = o.CreateCarousel(context.Background(), &Request{
		AccountID:    "a",
		Files:        stagedFiles(t, 1),
		ImagesBase64: []string{"aGk="},
	})
	assert.ErrorContains(t, err, "more than one image source")
}

func TestCreateCarouselURLSourceFailsLoudly(t *testing.T) {
	o := New(&fakeUploader{}, &fakePoster{}, jobs.NewRegistry(nil))
	_, err := o.CreateCarousel(context.Background(), &Request{
		AccountID: "a",
		ImageURLs: []string{"https://example.com/a.jpg"},
	})
	assert.ErrorIs(t, err, ErrURLSourceNotImplemented)
}

func TestCreateCarouselRejectsInvalidContentBeforeUpload(t *testing.T) {
	up := &fakeUploader{}
	o := New(up, &fakePoster{}, jobs.NewRegistry(nil))
	files := stagedFiles(t, 1)

	tags := make([]string, 31)
	for i := range tags {
		tags[i] = "t"
	}
	_, err := o.CreateCarousel(context.Background(), &Request{
		AccountID: "a",
		Files:     files,
		Hashtags:  tags,
	})
	require.ErrorContains(t, err, "invalid post content")
	assert.Zero(t, up.calls, "validation failures must precede any upload")
	assert.True(t, allRemoved(files), "files cleaned up on validation failure")
}

func TestCreateCarouselSync(t *testing.T) {
	up := &fakeUploader{}
	poster := &fakePoster{}
	o := New(up, poster, jobs.NewRegistry(nil))
	files := stagedFiles(t, 3)

	result, err := o.CreateCarousel(context.Background(), &Request{
		AccountID: "a",
		Files:     files,
		Caption:   "hello",
		Draft:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, "post-1", result.PostID)
	assert.Equal(t, "https://t/1", result.ShareURL)
	assert.Equal(t, 3, result.MediaCount)
	assert.True(t, result.Draft)
	assert.Empty(t, result.JobID)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, poster.gotMediaIDs)
	assert.True(t, poster.gotOpts.Draft)
	assert.True(t, allRemoved(files), "files cleaned up after successful upload")
}

func TestCreateCarouselSyncUploadFailureCleansUp(t *testing.T) {
	up := &fakeUploader{batchErr: errors.New("batch upload failed: image 1: timeout")}
	o := New(up, &fakePoster{}, jobs.NewRegistry(nil))
	files := stagedFiles(t, 2)

	_, err := o.CreateCarousel(context.Background(), &Request{AccountID: "a", Files: files})
	require.ErrorContains(t, err, "batch upload failed")
	assert.True(t, allRemoved(files))
}

func TestCreateCarouselAsyncReturnsJobImmediately(t *testing.T) {
	reg := jobs.NewRegistry(nil)
	o := New(&fakeUploader{}, &fakePoster{}, reg)

	result, err := o.CreateCarousel(context.Background(), &Request{
		AccountID: "a",
		Files:     stagedFiles(t, 2),
		Async:     true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.JobID)
	assert.Equal(t, 2, result.MediaCount)
	assert.Empty(t, result.PostID)

	require.Eventually(t, func() bool {
		j := reg.GetJob(result.JobID)
		return j != nil && j.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	j := reg.GetJob(result.JobID)
	assert.Equal(t, float64(100), j.Progress)
	assert.Equal(t, []string{"m-1", "m-2"}, j.Details.MediaIDs)
	assert.Equal(t, "post-1", j.Details.TikTokPostID)
	assert.Equal(t, "https://t/1", j.Details.ShareURL)
}

func TestRunJobRecordsPerAssetProgress(t *testing.T) {
	reg := jobs.NewRegistry(nil)
	o := New(&fakeUploader{}, &fakePoster{}, reg)
	files := stagedFiles(t, 4)
	job := reg.CreateJob(len(files))

	o.runJob(job.ID, "a", files, publisher.PostOptions{})

	got := reg.GetJob(job.ID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 4, got.Details.ProcessedImages)
	assert.Equal(t, []string{"m-1", "m-2", "m-3", "m-4"}, got.Details.MediaIDs)
	assert.True(t, allRemoved(files))
}

func TestRunJobUploadFailurePreservesPartialProgress(t *testing.T) {
	reg := jobs.NewRegistry(nil)
	up := &fakeUploader{failAt: map[int]error{2: errors.New("upload failed after 4 attempts: timeout")}}
	o := New(up, &fakePoster{}, reg)
	files := stagedFiles(t, 4)
	job := reg.CreateJob(len(files))

	o.runJob(job.ID, "a", files, publisher.PostOptions{})

	got := reg.GetJob(job.ID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.Details.Error, "after 4 attempts")
	assert.Equal(t, 2, got.Details.ProcessedImages, "work recorded before the failure survives")
	assert.Equal(t, []string{"m-1", "m-2"}, got.Details.MediaIDs)
	assert.True(t, allRemoved(files))
}

func TestRunJobPublishFailureFailsJob(t *testing.T) {
	reg := jobs.NewRegistry(nil)
	o := New(&fakeUploader{}, &fakePoster{err: errors.New("TikTok API error: spam risk (code: spam_risk)")}, reg)
	files := stagedFiles(t, 2)
	job := reg.CreateJob(len(files))

	o.runJob(job.ID, "a", files, publisher.PostOptions{})

	got := reg.GetJob(job.ID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.Details.Error, "spam risk")
}

func TestRunJobPanicIsConvertedToFailure(t *testing.T) {
	reg := jobs.NewRegistry(nil)
	o := New(&fakeUploader{}, &fakePoster{panicOnCall: true}, reg)
	files := stagedFiles(t, 1)
	job := reg.CreateJob(len(files))

	require.NotPanics(t, func() {
		o.runJob(job.ID, "a", files, publisher.PostOptions{})
	})

	got := reg.GetJob(job.ID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.Details.Error, "internal error")
	assert.True(t, allRemoved(files), "files cleaned up even on panic")
}

func TestCancelJob(t *testing.T) {
	reg := jobs.NewRegistry(nil)
	o := New(&fakeUploader{}, &fakePoster{}, reg)

	assert.ErrorIs(t, o.CancelJob("job-0-00000000"), ErrJobNotFound)

	job := reg.CreateJob(2)
	require.NoError(t, o.CancelJob(job.ID))
	got := reg.GetJob(job.ID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "cancelled by user", got.Details.Error)

	assert.ErrorContains(t, o.CancelJob(job.ID), "already failed")
}

func TestCancelDoesNotStopRunningTask(t *testing.T) {
	// Soft cancellation: a task already in flight overwrites the
	// cancelled status when it finishes.
	reg := jobs.NewRegistry(nil)
	o := New(&fakeUploader{}, &fakePoster{}, reg)
	files := stagedFiles(t, 1)
	job := reg.CreateJob(len(files))

	require.NoError(t, o.CancelJob(job.ID))
	o.runJob(job.ID, "a", files, publisher.PostOptions{})

	got := reg.GetJob(job.ID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
}
