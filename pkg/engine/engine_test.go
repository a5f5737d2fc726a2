package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewright/sitewright/pkg/assembler"
	"github.com/sitewright/sitewright/pkg/assets"
	"github.com/sitewright/sitewright/pkg/logging"
	"github.com/sitewright/sitewright/pkg/models"
	"github.com/sitewright/sitewright/pkg/retry"
	"github.com/sitewright/sitewright/pkg/store"
	"github.com/sitewright/sitewright/pkg/synth"
)

// fakeClient lets each test script the external content service
type fakeClient struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, user string) (string, error)
}

func (f *fakeClient) Complete(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &synth.ExternalServiceError{Retryable: true, Reason: "request failed", Err: err}
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, user)
}

func validCompletion(title string) string {
	return fmt.Sprintf(`{
		"title": %q,
		"sections": {"header": "<nav>nav</nav>", "hero": "<h1>hi</h1>", "main": "<p>body</p>", "footer": "<p>bye</p>"},
		"css": "",
		"js": "",
		"seo": {"title": %q, "description": "d", "keywords": "k"}
	}`, title, title)
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2.0}
}

func newTestEngine(t *testing.T, client synth.Client, workers int) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Workers = workers
	opts.RetryConfig = fastRetry()
	opts.StaleAfter = 0 // reaper off in tests

	e := New(
		store.NewMemoryStore(),
		synth.New(client),
		assets.NewProcessor(2),
		assembler.New(assembler.NewCatalog(), t.TempDir()),
		logging.NewLogger(logging.ERROR, false),
		opts,
	)
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	t.Cleanup(func() {
		cancel()
		e.Stop()
	})
	return e
}

func testRequest() *models.GenerationRequest {
	return &models.GenerationRequest{
		SiteName:      "Test Site",
		Description:   "A site for testing",
		Style:         models.StyleModern,
		Theme:         models.ThemeLight,
		TargetDevices: []models.Breakpoint{models.BreakpointMobile, models.BreakpointDesktop},
	}
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 8 {
		for y := 0; y < height; y += 8 {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func waitTerminal(t *testing.T, e *Engine, id string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := e.GetStatus(id)
		if err != nil {
			return false
		}
		job = j
		return job.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitRejectsInvalidBrief(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) { return validCompletion("x"), nil }}
	e := newTestEngine(t, client, 1)

	req := testRequest()
	req.SiteName = ""
	_, err := e.Submit(req)
	require.Error(t, err)

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestEndToEndWithoutImages(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) { return validCompletion("Test Site"), nil }}
	e := newTestEngine(t, client, 2)

	job, err := e.Submit(testRequest())
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, models.ProgressCompleted, done.Progress)
	assert.NotEmpty(t, done.ResultLocation)
	assert.Empty(t, done.ErrorDetail)

	_, err = os.Stat(done.ResultLocation)
	require.NoError(t, err)
}

func TestProgressCheckpointsAreMonotonic(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) { return validCompletion("Test Site"), nil }}
	e := newTestEngine(t, client, 1)

	job, err := e.Submit(testRequest())
	require.NoError(t, err)

	last := -1
	decreased := false
	require.Eventually(t, func() bool {
		j, err := e.GetStatus(job.ID)
		if err != nil {
			return false
		}
		if j.Progress < last {
			decreased = true
		}
		last = j.Progress
		return j.Status.Terminal()
	}, 10*time.Second, time.Millisecond)
	assert.False(t, decreased, "progress must never decrease")
	assert.Equal(t, models.ProgressCompleted, last)
}

func TestBoundedPoolLeavesExcessQueued(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{fn: func(int, string) (string, error) {
		<-release
		return validCompletion("Test Site"), nil
	}}
	e := newTestEngine(t, client, 2)

	ids := make([]string, 5)
	for i := range ids {
		req := testRequest()
		req.Description = fmt.Sprintf("unique brief %d", i)
		job, err := e.Submit(req)
		require.NoError(t, err)
		ids[i] = job.ID
	}

	// two workers claim, the other three jobs stay queued
	require.Eventually(t, func() bool {
		processing := 0
		for _, id := range ids {
			j, err := e.GetStatus(id)
			if err != nil {
				return false
			}
			if j.Status == models.JobStatusProcessing {
				processing++
			}
		}
		return processing == 2
	}, 5*time.Second, 5*time.Millisecond)

	queued := 0
	for _, id := range ids {
		j, err := e.GetStatus(id)
		require.NoError(t, err)
		if j.Status == models.JobStatusQueued {
			queued++
		}
	}
	assert.Equal(t, 3, queued)

	close(release)
	for _, id := range ids {
		job := waitTerminal(t, e, id)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	client := &fakeClient{fn: func(call int, user string) (string, error) {
		if call == 1 {
			return "", &synth.ExternalServiceError{Retryable: true, Reason: "status 503"}
		}
		return validCompletion("Test Site"), nil
	}}
	e := newTestEngine(t, client, 1)

	job, err := e.Submit(testRequest())
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.RetryCount)
}

func TestPermanentFailureFailsWithoutRetry(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) {
		return "", &synth.ExternalServiceError{Reason: "invalid api key"}
	}}
	e := newTestEngine(t, client, 1)

	job, err := e.Submit(testRequest())
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, models.JobStatusError, done.Status)
	assert.Equal(t, 0, done.RetryCount)
	assert.Contains(t, done.ErrorDetail, "invalid api key")
	client.mu.Lock()
	assert.Equal(t, 1, client.calls)
	client.mu.Unlock()
}

func TestMultiLanguagePartialFailureFailsJob(t *testing.T) {
	client := &fakeClient{fn: func(call int, user string) (string, error) {
		if strings.Contains(user, "Content language: es") {
			return "", &synth.ExternalServiceError{Reason: "refused"}
		}
		return validCompletion("Test Site"), nil
	}}
	e := newTestEngine(t, client, 1)

	req := testRequest()
	req.MultiLanguage = true
	job, err := e.Submit(req)
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, models.JobStatusError, done.Status)
	assert.Contains(t, done.ErrorDetail, "refused")
}

func TestBadImageFailsAssetStage(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) { return validCompletion("Test Site"), nil }}
	e := newTestEngine(t, client, 1)

	req := testRequest()
	req.Images = []models.SourceImage{
		{Filename: "fine.png", Data: pngBytes(t, 64, 64)},
		{Filename: "garbage.bin", Data: []byte("definitely not an image")},
	}
	job, err := e.Submit(req)
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, models.JobStatusError, done.Status)
	assert.Contains(t, done.ErrorDetail, "garbage.bin")
}

func TestVariantCountMatchesImagesTimesDevices(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) { return validCompletion("Test Site"), nil }}
	e := newTestEngine(t, client, 1)

	req := testRequest()
	req.TargetDevices = []models.Breakpoint{models.BreakpointMobile, models.BreakpointTablet, models.BreakpointDesktop}
	req.Images = []models.SourceImage{
		{Filename: "a.png", Data: pngBytes(t, 1600, 900)},
		{Filename: "b.png", Data: pngBytes(t, 1500, 1000)},
	}
	job, err := e.Submit(req)
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)

	sitePath, err := e.GetArtifact(job.ID, "html")
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(sitePath, "assets"))
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestArtifactGating(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{fn: func(int, string) (string, error) {
		<-release
		return validCompletion("Test Site"), nil
	}}
	e := newTestEngine(t, client, 1)

	job, err := e.Submit(testRequest())
	require.NoError(t, err)

	_, err = e.GetArtifact(job.ID, "zip")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = e.GetArtifact("no-such-id", "zip")
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	close(release)
	done := waitTerminal(t, e, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)

	path, err := e.GetArtifact(job.ID, "zip")
	require.NoError(t, err)
	assert.Equal(t, done.ResultLocation, path)

	_, err = e.GetArtifact(job.ID, "exe")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestFailedJobHasNoArtifact(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) {
		return "", &synth.ExternalServiceError{Reason: "nope"}
	}}
	e := newTestEngine(t, client, 1)

	job, err := e.Submit(testRequest())
	require.NoError(t, err)
	waitTerminal(t, e, job.ID)

	_, err = e.GetArtifact(job.ID, "zip")
	assert.ErrorIs(t, err, ErrJobFailed)
}

func TestCancelQueuedJob(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{fn: func(int, string) (string, error) {
		<-release
		return validCompletion("Test Site"), nil
	}}
	e := newTestEngine(t, client, 1)
	defer close(release)

	// first job occupies the single worker
	blocker, err := e.Submit(testRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := e.GetStatus(blocker.ID)
		return err == nil && j.Status == models.JobStatusProcessing
	}, 5*time.Second, 5*time.Millisecond)

	req := testRequest()
	req.Description = "second brief"
	queued, err := e.Submit(req)
	require.NoError(t, err)

	status, err := e.Cancel(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, status)

	j, err := e.GetStatus(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, j.Status)
	_, err = e.GetArtifact(queued.ID, "zip")
	assert.ErrorIs(t, err, ErrJobFailed)
}

func TestCancelProcessingJobAbortsSynthesis(t *testing.T) {
	started := make(chan struct{})
	client := &fakeClient{fn: func(int, string) (string, error) {
		close(started)
		// block until the per-job context is canceled via ctx check in Complete
		time.Sleep(50 * time.Millisecond)
		return "", &synth.ExternalServiceError{Retryable: true, Reason: "request failed", Err: context.Canceled}
	}}
	e := newTestEngine(t, client, 1)

	job, err := e.Submit(testRequest())
	require.NoError(t, err)
	<-started

	status, err := e.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, status)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, models.JobStatusCanceled, done.Status)
}

func TestResultCacheReusesIdenticalBrief(t *testing.T) {
	client := &fakeClient{fn: func(int, string) (string, error) { return validCompletion("Test Site"), nil }}
	e := newTestEngine(t, client, 1)

	first, err := e.Submit(testRequest())
	require.NoError(t, err)
	done := waitTerminal(t, e, first.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status)

	second, err := e.Submit(testRequest())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.JobStatusCompleted, second.Status)

	// a different brief schedules fresh work
	req := testRequest()
	req.Description = "something else entirely"
	third, err := e.Submit(req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	waitTerminal(t, e, third.ID)
}
