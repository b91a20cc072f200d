package upload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/client"
	cerrors "github.com/factline/cli/pkg/errors"
	"github.com/factline/cli/pkg/events"
	"github.com/factline/cli/pkg/notify"
	"github.com/factline/cli/pkg/pending"
	"github.com/factline/cli/pkg/poller"
	"github.com/factline/cli/pkg/registry"
	"github.com/factline/cli/pkg/stream"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer implements the content endpoints the orchestrator calls.
type fakeServer struct {
	*httptest.Server

	mu           sync.Mutex
	requests     []string
	statuses     []string
	statusCalls  int
	startBody    string
	submitStatus int
	submitBody   string
	forms        []map[string][]string
}

func newFakeServer(t *testing.T) *fakeServer {
	s := &fakeServer{
		startBody:    `{"success":true,"task_id":"task-1"}`,
		statuses:     []string{`{"state":"PENDING","status":"queued"}`},
		submitStatus: http.StatusCreated,
		submitBody:   `{"id":"c-1","processing_status":"pending"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/{collection}/pre-analyze", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		s.mu.Lock()
		body := s.startBody
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("GET /api/v1/pre-analysis/{task}/status", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		s.mu.Lock()
		i := min(s.statusCalls, len(s.statuses)-1)
		s.statusCalls++
		body := s.statuses[i]
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("POST /api/v1/{collection}", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.forms = append(s.forms, r.MultipartForm.Value)
		status, body := s.submitStatus, s.submitBody
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) record(r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.mu.Unlock()
}

func (s *fakeServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *fakeServer) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

func (s *fakeServer) LastForm() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forms) == 0 {
		return nil
	}
	return s.forms[len(s.forms)-1]
}

type fakeTracker struct {
	target   stream.Target
	observer stream.Observer
}

func (f *fakeTracker) Connect()    {}
func (f *fakeTracker) Disconnect() {}

type fakeFactory struct {
	mu       sync.Mutex
	trackers []*fakeTracker
}

func (f *fakeFactory) build(target stream.Target, observer stream.Observer) registry.Tracker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTracker{target: target, observer: observer}
	f.trackers = append(f.trackers, t)
	return t
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trackers)
}

func (f *fakeFactory) last() *fakeTracker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trackers[len(f.trackers)-1]
}

type recordingPresenter struct {
	mu        sync.Mutex
	snackbars []notify.Snackbar
	notices   []notify.ProgressNotice
}

func (p *recordingPresenter) ShowSnackbar(s notify.Snackbar) {
	p.mu.Lock()
	p.snackbars = append(p.snackbars, s)
	p.mu.Unlock()
}

func (p *recordingPresenter) HideSnackbar(id string, reason notify.DismissReason) {}

func (p *recordingPresenter) RenderNotices(notices []notify.ProgressNotice) {
	p.mu.Lock()
	p.notices = notices
	p.mu.Unlock()
}

func (p *recordingPresenter) Snackbars() []notify.Snackbar {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Snackbar(nil), p.snackbars...)
}

type harness struct {
	t         *testing.T
	server    *fakeServer
	clock     clockwork.FakeClock
	factory   *fakeFactory
	registry  *registry.Registry
	queue     *notify.Queue
	presenter *recordingPresenter
	store     *pending.MemoryStore
	bus       *events.Bus
	feed      chan events.ProcessingComplete
	orch      *Orchestrator
	navigated []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		server:    newFakeServer(t),
		clock:     clockwork.NewFakeClock(),
		factory:   &fakeFactory{},
		presenter: &recordingPresenter{},
		store:     pending.NewMemoryStore(),
		bus:       events.NewBus(),
		feed:      make(chan events.ProcessingComplete, 8),
	}
	require.NoError(t, h.bus.Subscribe("feed", h.feed))

	h.registry = registry.New(h.factory.build)
	// Snackbar timers run on their own clock so they never count as poll waiters.
	h.queue = notify.NewQueue(h.presenter, notify.WithClock(clockwork.NewFakeClock()))

	cfg := DefaultConfig()
	cfg.CompressImages = false
	cfg.WebBaseURL = "https://factline.test"
	cfg.Credential = "jwt-token"

	svc := api.NewService(client.New(h.server.URL, 5*time.Second))
	h.orch = New(Deps{
		API:      svc,
		Registry: h.registry,
		Queue:    h.queue,
		Store:    h.store,
		Bus:      h.bus,
	}, cfg, WithClock(h.clock), WithNavigator(func(target string) {
		h.navigated = append(h.navigated, target)
	}))

	t.Cleanup(func() {
		h.orch.Close()
		h.registry.Teardown()
		h.queue.Close()
	})
	return h
}

// file creates a sparse file of the given size.
func (h *harness) file(name string, size int64) string {
	h.t.Helper()
	path := filepath.Join(h.t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(h.t, err)
	require.NoError(h.t, f.Truncate(size))
	require.NoError(h.t, f.Close())
	return path
}

// startPolling waits for the poller's timers to exist.
func (h *harness) startPolling(kind api.ContentKind) {
	h.t.Helper()
	waiters := 1
	if kind.Media() == api.MediaVideo {
		waiters = 2
	}
	h.clock.BlockUntil(waiters)
}

// tick advances one poll interval and waits for the status request.
func (h *harness) tick() {
	h.t.Helper()
	before := h.server.StatusCalls()
	h.clock.Advance(2 * time.Second)
	require.Eventually(h.t, func() bool {
		return h.server.StatusCalls() > before
	}, time.Second, time.Millisecond)
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("pre-analysis did not finish")
	}
}

func TestOversizedImageRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	path := h.file("photo.jpg", 25*megabyte)

	s, err := h.orch.Select(context.Background(), api.KindPost, path)

	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "max: 20 MB")
	assert.Empty(t, h.server.Requests())
}

func TestVideoCeilingIsSeparate(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Select(context.Background(), api.KindReel, h.file("clip.mp4", 101*megabyte))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max: 100 MB")

	_, err = h.orch.Select(context.Background(), api.KindReel, h.file("clip.mov", 21*megabyte))
	require.NoError(t, err)
}

func TestUnsupportedOrMissingFile(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Select(context.Background(), api.KindPost, h.file("notes.txt", 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported file type: .txt")

	_, err = h.orch.Select(context.Background(), api.KindReel, h.file("photo.jpg", 10))
	require.Error(t, err, "reels only take video")

	_, err = h.orch.Select(context.Background(), api.KindPost, filepath.Join(t.TempDir(), "gone.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "File not found")

	assert.Empty(t, h.server.Requests())
}

func TestVideoIncompletePreAnalysisStillSubmits(t *testing.T) {
	h := newHarness(t)
	h.server.statuses = []string{`{"state":"SUCCESS","status":"done","result":{"success":false}}`}

	s, err := h.orch.Select(context.Background(), api.KindReel, h.file("clip.mp4", megabyte))
	require.NoError(t, err)
	assert.Equal(t, StagePreAnalyzing, s.Stage())

	h.startPolling(api.KindReel)
	h.tick()
	waitReady(t, s)

	pre := s.PreAnalysis()
	assert.Equal(t, "task-1", pre.TaskID)
	assert.Equal(t, poller.OutcomeUnavailable, pre.Outcome)
	assert.Equal(t, poller.ReasonIncomplete, pre.Reason)
	assert.Empty(t, s.Token())
	assert.Equal(t, StageSubmitReady, s.Stage())

	bars := h.presenter.Snackbars()
	require.Len(t, bars, 1)
	assert.Equal(t, notify.SeverityInfo, bars[0].Severity)
	assert.Contains(t, bars[0].Message, "processed during upload")

	content, err := h.orch.Submit(context.Background(), s, "sunset")
	require.NoError(t, err)
	assert.Equal(t, "c-1", content.ID)

	form := h.server.LastForm()
	assert.Equal(t, []string{"sunset"}, form["caption"])
	assert.NotContains(t, form, "processing_token")
	assert.Equal(t, StageTracked, s.Stage())
	assert.True(t, h.registry.IsTracked("c-1"))
}

func TestImagePreAnalysisTokenIsSubmitted(t *testing.T) {
	h := newHarness(t)
	h.server.statuses = []string{
		`{"state":"PROGRESS","status":"analyzing","progress":50}`,
		`{"state":"SUCCESS","status":"done","result":{"processing_token":"pt-7"}}`,
	}

	s, err := h.orch.Select(context.Background(), api.KindPost, h.file("photo.png", 1024))
	require.NoError(t, err)

	h.startPolling(api.KindPost)
	h.tick()
	h.tick()
	waitReady(t, s)

	assert.Equal(t, poller.OutcomeSucceeded, s.PreAnalysis().Outcome)
	assert.Equal(t, "pt-7", s.Token())
	assert.Empty(t, h.presenter.Snackbars())

	_, err = h.orch.Submit(context.Background(), s, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pt-7"}, h.server.LastForm()["processing_token"])

	tracker := h.factory.last()
	assert.Equal(t, stream.Target{Kind: api.KindPost, ContentID: "c-1", Token: "jwt-token"}, tracker.target)

	notice, ok := h.queue.Notice("c-1")
	require.True(t, ok)
	assert.True(t, notice.Persistent)
	assert.Equal(t, "Processing post", notice.Title)

	records, err := h.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c-1", records[0].ContentID)
	assert.Equal(t, api.KindPost, records[0].Kind)
}

func TestModerationFindingDependsOnMedia(t *testing.T) {
	flagged := `{"state":"SUCCESS","status":"done","result":{"moderation_error":{"message":"graphic content","category":"violence"}}}`

	t.Run("image warns", func(t *testing.T) {
		h := newHarness(t)
		h.server.statuses = []string{flagged}

		s, err := h.orch.Select(context.Background(), api.KindPost, h.file("photo.jpg", 1024))
		require.NoError(t, err)
		h.startPolling(api.KindPost)
		h.tick()
		waitReady(t, s)

		pre := s.PreAnalysis()
		assert.Equal(t, poller.OutcomeModerationFailed, pre.Outcome)
		require.NotNil(t, pre.Moderation)
		assert.Equal(t, "violence", pre.Moderation.Category)

		bars := h.presenter.Snackbars()
		require.Len(t, bars, 1)
		assert.Equal(t, notify.SeverityWarning, bars[0].Severity)
		assert.Contains(t, bars[0].Message, "graphic content")
	})

	t.Run("video reads as unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.server.statuses = []string{flagged}

		s, err := h.orch.Select(context.Background(), api.KindReel, h.file("clip.webm", 1024))
		require.NoError(t, err)
		h.startPolling(api.KindReel)
		h.tick()
		waitReady(t, s)

		bars := h.presenter.Snackbars()
		require.Len(t, bars, 1)
		assert.Equal(t, notify.SeverityInfo, bars[0].Severity)
		assert.Contains(t, bars[0].Message, "processed during upload")
	})
}

func TestPreAnalysisStartFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.server.startBody = `{"success":false,"task_id":"task-x","message":"busy"}`

	s, err := h.orch.Select(context.Background(), api.KindPost, h.file("photo.jpg", 1024))
	require.NoError(t, err)
	waitReady(t, s)

	assert.Equal(t, StageSubmitReady, s.Stage())
	assert.Equal(t, poller.OutcomeUnavailable, s.PreAnalysis().Outcome)

	_, err = h.orch.Submit(context.Background(), s, "")
	require.NoError(t, err)
}

func TestSubmitModerationRejection(t *testing.T) {
	h := newHarness(t)
	h.server.startBody = `{"success":false}`
	h.server.submitStatus = http.StatusBadRequest
	h.server.submitBody = `{"detail":{"code":"moderation_failed","moderation_error":{"message":"Contains hate symbols","category":"hate","reasons":["symbol detected"]}}}`

	s, err := h.orch.Select(context.Background(), api.KindPost, h.file("photo.jpg", 1024))
	require.NoError(t, err)
	waitReady(t, s)

	content, err := h.orch.Submit(context.Background(), s, "caption")
	require.Error(t, err)
	assert.Nil(t, content)

	detail, ok := cerrors.AsModeration(err)
	require.True(t, ok, "expected a structured moderation error, got %v", err)
	assert.Equal(t, "Contains hate symbols", detail.Message)
	assert.Equal(t, "hate", detail.Category)
	assert.Equal(t, []string{"symbol detected"}, detail.Reasons)

	assert.Zero(t, h.factory.count())
	assert.Zero(t, h.registry.Len())
	assert.Empty(t, h.queue.Notices())
	records, _ := h.store.List(context.Background())
	assert.Empty(t, records)
	assert.Equal(t, StageSubmitReady, s.Stage(), "the user may fix the content and try again")
}

func TestSubmitServerErrorIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.server.startBody = `{"success":false}`
	h.server.submitStatus = http.StatusInternalServerError
	h.server.submitBody = `{"detail":"boom"}`

	s, err := h.orch.Select(context.Background(), api.KindPost, h.file("photo.jpg", 1024))
	require.NoError(t, err)

	_, err = h.orch.Submit(context.Background(), s, "")
	require.Error(t, err)
	var cliErr *cerrors.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.True(t, cliErr.Retryable())
	assert.Zero(t, h.factory.count())
}

func TestSubmitAbandonsRunningPreAnalysis(t *testing.T) {
	h := newHarness(t)

	s, err := h.orch.Select(context.Background(), api.KindPost, h.file("photo.jpg", 1024))
	require.NoError(t, err)
	h.startPolling(api.KindPost)

	_, err = h.orch.Submit(context.Background(), s, "quick")
	require.NoError(t, err)
	waitReady(t, s)

	pre := s.PreAnalysis()
	assert.Equal(t, poller.OutcomeUnavailable, pre.Outcome)
	assert.Equal(t, "abandoned", pre.Reason)
	assert.NotContains(t, h.server.LastForm(), "processing_token")

	h.clock.Advance(10 * time.Second)
	assert.Zero(t, h.server.StatusCalls())

	_, err = h.orch.Submit(context.Background(), s, "again")
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeValidation))
}

func TestRemoveStopsPolling(t *testing.T) {
	h := newHarness(t)

	s, err := h.orch.Select(context.Background(), api.KindPost, h.file("photo.jpg", 1024))
	require.NoError(t, err)
	h.startPolling(api.KindPost)

	s.Remove()
	s.Remove()

	assert.Equal(t, StageIdle, s.Stage())
	waitReady(t, s)
	h.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return h.server.StatusCalls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	_, err = h.orch.Submit(context.Background(), s, "")
	assert.Error(t, err)
}

func TestCompleteWithNotApplicableVerification(t *testing.T) {
	h := newHarness(t)

	job, err := h.orch.Track(context.Background(), api.KindPost, "p-42")
	require.NoError(t, err)
	tracker := h.factory.last()

	tracker.observer.OnUpdate(api.StatusFrame{ProcessingStatus: "processing", Progress: 40, Message: "Checking facts"})
	notice, ok := h.queue.Notice("p-42")
	require.True(t, ok)
	assert.Equal(t, 40, notice.Progress)
	assert.Equal(t, "Checking facts", notice.Message)

	done := api.StatusFrame{ProcessingStatus: api.StatusComplete, Progress: 100, VerificationStatus: "not_applicable"}
	tracker.observer.OnUpdate(done)
	tracker.observer.OnComplete(done)

	_, ok = h.queue.Notice("p-42")
	assert.False(t, ok, "notice removed")

	bars := h.presenter.Snackbars()
	require.Len(t, bars, 1)
	assert.Equal(t, notify.SeveritySuccess, bars[0].Severity)
	assert.Equal(t, "Your post is live!", bars[0].Message)
	assert.True(t, bars[0].Clickable)
	assert.Equal(t, "https://factline.test/posts/p-42", bars[0].Target)

	select {
	case ev := <-h.feed:
		assert.Equal(t, events.ProcessingComplete{
			ContentID:          "p-42",
			ContentType:        api.KindPost,
			Status:             api.StatusComplete,
			VerificationStatus: "not_applicable",
		}, ev)
	default:
		t.Fatal("no feed refresh event")
	}

	result, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.JobSucceeded, result.State)
	assert.Equal(t, "not_applicable", result.VerificationStatus)

	records, _ := h.store.List(context.Background())
	assert.Empty(t, records)
	assert.False(t, h.registry.IsTracked("p-42"))

	require.True(t, h.queue.Activate(bars[0].ID))
	assert.Equal(t, []string{"https://factline.test/posts/p-42"}, h.navigated)
}

func TestQueuedTerminalNoticeSurvivesShutdown(t *testing.T) {
	h := newHarness(t)
	h.server.statuses = []string{`{"state":"SUCCESS","status":"done","result":{"success":false}}`}

	s, err := h.orch.Select(context.Background(), api.KindReel, h.file("clip.mp4", megabyte))
	require.NoError(t, err)
	h.startPolling(api.KindReel)
	h.tick()
	waitReady(t, s)

	_, err = h.orch.Submit(context.Background(), s, "")
	require.NoError(t, err)
	job := s.Job()
	require.NotNil(t, job)

	done := api.StatusFrame{ProcessingStatus: api.StatusComplete, Progress: 100, VerificationStatus: "not_applicable"}
	tracker := h.factory.last()
	tracker.observer.OnUpdate(done)
	tracker.observer.OnComplete(done)

	_, err = job.Wait(context.Background())
	require.NoError(t, err)

	// The pre-analysis snackbar is still on screen; the terminal one waits.
	require.Len(t, h.presenter.Snackbars(), 1)
	assert.Equal(t, 1, h.queue.Pending())

	h.orch.Close()
	h.registry.Teardown()
	assert.Equal(t, 1, h.queue.Drain())
	h.queue.Close()

	bars := h.presenter.Snackbars()
	require.Len(t, bars, 2)
	assert.Equal(t, "Pre-processing unavailable. Your reel will be processed during upload.", bars[0].Message)
	assert.Equal(t, notify.SeveritySuccess, bars[1].Severity)
	assert.Equal(t, "Your reel is live!", bars[1].Message)
	assert.Zero(t, h.queue.Pending())
}

func TestRejectedOutcomeWarns(t *testing.T) {
	h := newHarness(t)

	job, err := h.orch.Track(context.Background(), api.KindReel, "r-7")
	require.NoError(t, err)

	frame := api.StatusFrame{ProcessingStatus: api.StatusRejected, Message: "Misleading claim"}
	tracker := h.factory.last()
	tracker.observer.OnUpdate(frame)
	tracker.observer.OnComplete(frame)

	bars := h.presenter.Snackbars()
	require.Len(t, bars, 1)
	assert.Equal(t, notify.SeverityWarning, bars[0].Severity)
	assert.Equal(t, "Your reel was rejected: Misleading claim", bars[0].Message)
	assert.False(t, bars[0].Clickable)
	assert.Equal(t, api.JobRejected, job.Result().State)
}

func TestStreamLossKeepsPendingRecord(t *testing.T) {
	h := newHarness(t)

	job, err := h.orch.Track(context.Background(), api.KindReel, "r-1")
	require.NoError(t, err)
	tracker := h.factory.last()

	tracker.observer.OnReconnecting(1, 2*time.Second)
	notice, ok := h.queue.Notice("r-1")
	require.True(t, ok)
	assert.Contains(t, notice.Message, "retrying in 2s")

	tracker.observer.OnError(stream.ErrReconnectExhausted)

	_, err = job.Wait(context.Background())
	assert.ErrorIs(t, err, stream.ErrReconnectExhausted)

	_, ok = h.queue.Notice("r-1")
	assert.False(t, ok)
	bars := h.presenter.Snackbars()
	require.Len(t, bars, 1)
	assert.Equal(t, notify.SeverityWarning, bars[0].Severity)

	records, _ := h.store.List(context.Background())
	require.Len(t, records, 1, "kept for resume")
	assert.Empty(t, h.feed)
	assert.False(t, h.registry.IsTracked("r-1"))
}

func TestResumeTracksPendingRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.store.Save(ctx, pending.Record{Kind: api.KindPost, ContentID: "p-1", CreatedAt: base}))
	require.NoError(t, h.store.Save(ctx, pending.Record{Kind: api.KindReel, ContentID: "r-1", CreatedAt: base.Add(time.Minute)}))

	jobs, err := h.orch.Resume(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "p-1", jobs[0].ContentID)
	assert.Equal(t, api.KindReel, jobs[1].Kind)
	assert.Equal(t, 2, h.factory.count())
	assert.Len(t, h.queue.Notices(), 2)

	again, err := h.orch.Track(ctx, api.KindPost, "p-1")
	require.NoError(t, err)
	assert.Same(t, jobs[0], again)
	assert.Equal(t, 2, h.factory.count(), "no second tracker")
}

func TestCloseReleasesWaiters(t *testing.T) {
	h := newHarness(t)

	job, err := h.orch.Track(context.Background(), api.KindPost, "p-1")
	require.NoError(t, err)

	h.orch.Close()

	_, err = job.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = h.orch.Track(context.Background(), api.KindPost, "p-2")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.orch.Select(context.Background(), api.KindPost, h.file("photo.jpg", 10))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "pre_analyzing", StagePreAnalyzing.String())
	assert.Equal(t, "terminal", StageTerminal.String())
	assert.Equal(t, "unknown", Stage(99).String())
}
