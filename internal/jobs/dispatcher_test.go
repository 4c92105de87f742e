package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/research"
)

// fakeStore records job state transitions in memory.
type fakeStore struct {
	mu        sync.Mutex
	pending   []model.ResearchJob
	progress  map[string]int
	completed map[string]bool
	failed    map[string]string
	applied   map[string]map[string]any
	swept     int
}

func newFakeStore(pending ...model.ResearchJob) *fakeStore {
	return &fakeStore{
		pending:   pending,
		progress:  make(map[string]int),
		completed: make(map[string]bool),
		failed:    make(map[string]string),
		applied:   make(map[string]map[string]any),
	}
}

func (s *fakeStore) ClaimNextJob(ctx context.Context) (*model.ResearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	job := s.pending[0]
	s.pending = s.pending[1:]
	job.Status = model.JobStatusRunning
	return &job, nil
}

func (s *fakeStore) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[jobID] = progress
	return nil
}

func (s *fakeStore) UpdateJobHeartbeat(ctx context.Context, jobID string) error { return nil }

func (s *fakeStore) CompleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[jobID] = true
	return nil
}

func (s *fakeStore) FailJob(ctx context.Context, jobID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[jobID] = message
	return nil
}

func (s *fakeStore) FailStaleJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swept++
	return 0, nil
}

func (s *fakeStore) UpdateOperatorFields(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[id] = fields
	return nil
}

func (s *fakeStore) jobProgress(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[id]
}

func (s *fakeStore) isCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[id]
}

func (s *fakeStore) failMessage(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[id]
}

func (s *fakeStore) appliedFields(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied[id]
}

// fakeOpener serves a canned SSE stream body per call.
type fakeOpener struct {
	mu     sync.Mutex
	bodies []io.ReadCloser
	err    error
}

func (o *fakeOpener) OpenResearchStream(ctx context.Context, job model.ResearchJob) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	if len(o.bodies) == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	body := o.bodies[0]
	o.bodies = o.bodies[1:]
	return body, nil
}

func encodeStream(t *testing.T, events ...research.Event) io.ReadCloser {
	t.Helper()
	var b strings.Builder
	for _, ev := range events {
		data, err := json.Marshal(ev)
		require.NoError(t, err)
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", ev.Type, data)
	}
	return io.NopCloser(strings.NewReader(b.String()))
}

func testConfig() Config {
	return Config{
		MaxConcurrent:     2,
		DispatchDelay:     time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		ReadTimeout:       time.Minute,
		StreamTimeout:     time.Minute,
	}
}

func TestDispatcher_CompletesOnPreview(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{bodies: []io.ReadCloser{encodeStream(t,
		research.Event{Type: research.EventStatus, Progress: 10},
		research.Event{Type: research.EventStatus, Progress: 55},
		research.Event{Type: research.EventPreview, Progress: 98, Preview: &research.Preview{EntityID: "p1"}},
		research.Event{Type: research.EventComplete, Progress: 100},
	)}}
	d := NewDispatcher(store, opener, testConfig())

	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort, EntityID: "p1"})

	assert.True(t, store.isCompleted("job-1"))
	assert.Empty(t, store.failMessage("job-1"))
	assert.Equal(t, 55, store.jobProgress("job-1"))
	// Port jobs never auto-apply, regardless of confidence.
	assert.Nil(t, store.appliedFields("p1"))
}

func TestDispatcher_ProgressTakesMax(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{bodies: []io.ReadCloser{encodeStream(t,
		research.Event{Type: research.EventStatus, Progress: 40},
		research.Event{Type: research.EventStatus, Progress: 10},
		research.Event{Type: research.EventPreview, Preview: &research.Preview{}},
	)}}
	d := NewDispatcher(store, opener, testConfig())

	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort})

	// A lower progress value never overwrites a higher one.
	assert.Equal(t, 40, store.jobProgress("job-1"))
}

func TestDispatcher_FailsOnErrorEvent(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{bodies: []io.ReadCloser{encodeStream(t,
		research.Event{Type: research.EventStatus, Progress: 10},
		research.Event{Type: research.EventError, Error: &research.Error{
			Category: research.CategoryNetwork,
			Message:  "all research queries failed",
		}},
	)}}
	d := NewDispatcher(store, opener, testConfig())

	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort})

	assert.False(t, store.isCompleted("job-1"))
	assert.Equal(t, "all research queries failed", store.failMessage("job-1"))
}

func TestDispatcher_FailsWhenStreamEndsWithoutPreview(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{bodies: []io.ReadCloser{encodeStream(t,
		research.Event{Type: research.EventStatus, Progress: 10},
	)}}
	d := NewDispatcher(store, opener, testConfig())

	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort})

	assert.Equal(t, "research stream ended without a preview", store.failMessage("job-1"))
}

func TestDispatcher_FailsWhenStreamCannotOpen(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{err: eris.New("connection refused")}
	d := NewDispatcher(store, opener, testConfig())

	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort})

	assert.Contains(t, store.failMessage("job-1"), "open research stream")
}

func TestDispatcher_LateErrorAfterPreviewIsIgnored(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{bodies: []io.ReadCloser{encodeStream(t,
		research.Event{Type: research.EventPreview, Preview: &research.Preview{}},
		research.Event{Type: research.EventError, Error: &research.Error{Message: "late cleanup noise"}},
	)}}
	d := NewDispatcher(store, opener, testConfig())

	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort})

	assert.True(t, store.isCompleted("job-1"))
	assert.Empty(t, store.failMessage("job-1"))
}

// stalledStream serves its prefix then blocks every Read until Close.
type stalledStream struct {
	prefix *strings.Reader
	closed chan struct{}
	once   sync.Once
}

func newStalledStream(prefix string) *stalledStream {
	return &stalledStream{prefix: strings.NewReader(prefix), closed: make(chan struct{})}
}

func (s *stalledStream) Read(p []byte) (int, error) {
	if s.prefix.Len() > 0 {
		return s.prefix.Read(p)
	}
	<-s.closed
	return 0, io.EOF
}

func (s *stalledStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestDispatcher_CompletesTheInstantPreviewArrives(t *testing.T) {
	store := newFakeStore()
	data, err := json.Marshal(research.Event{Type: research.EventPreview, Preview: &research.Preview{}})
	require.NoError(t, err)
	stream := newStalledStream(fmt.Sprintf("event: preview\ndata: %s\n\n", data))
	opener := &fakeOpener{bodies: []io.ReadCloser{stream}}

	cfg := testConfig()
	cfg.ReadTimeout = time.Hour
	cfg.StreamTimeout = time.Hour
	d := NewDispatcher(store, opener, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort})
	}()

	// The store row flips to completed while the stream is still open.
	require.Eventually(t, func() bool { return store.isCompleted("job-1") },
		time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("stream drained before it was released")
	default:
	}

	stream.Close()
	<-done
	assert.Empty(t, store.failMessage("job-1"))
}

func TestDispatcher_StalledStreamFailsWithReadTimeout(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{bodies: []io.ReadCloser{newStalledStream("event: status\ndata: {\"progress\":10}\n\n")}}

	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	cfg.StreamTimeout = time.Hour
	d := NewDispatcher(store, opener, cfg)

	start := time.Now()
	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypePort})

	// The hung stream cannot pin the job in running; the read deadline fails
	// it and frees the slot.
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, store.isCompleted("job-1"))
	assert.Contains(t, store.failMessage("job-1"), "no event within")
}

func TestDispatcher_AutoAppliesTerminalJobs(t *testing.T) {
	store := newFakeStore()
	preview := &research.Preview{
		EntityID: "op-1",
		Proposals: []model.FieldProposal{
			{Field: "operator_type", ProposedValue: "terminal operator", Confidence: 0.95},
			{Field: "capacity", ProposedValue: "4.5M TEU", Confidence: 0.80}, // exactly at threshold: excluded
			{Field: "cargo_types", ProposedValue: []string{"Container"}, Confidence: 0.9,
				ValidationErrors: []string{"unusable"}},
			{Field: "notes", ProposedValue: "intel", Confidence: 0.99},
		},
	}
	opener := &fakeOpener{bodies: []io.ReadCloser{encodeStream(t,
		research.Event{Type: research.EventPreview, Preview: preview},
	)}}
	d := NewDispatcher(store, opener, testConfig())

	d.process(context.Background(), model.ResearchJob{ID: "job-1", Type: model.JobTypeTerminal, EntityID: "op-1"})

	require.True(t, store.isCompleted("job-1"))
	applied := store.appliedFields("op-1")
	require.NotNil(t, applied)
	assert.Equal(t, map[string]any{"operator_type": "terminal operator"}, applied)
}

func TestDispatcher_ConcurrencyCap(t *testing.T) {
	store := newFakeStore(
		model.ResearchJob{ID: "job-1", Type: model.JobTypePort},
		model.ResearchJob{ID: "job-2", Type: model.JobTypePort},
		model.ResearchJob{ID: "job-3", Type: model.JobTypePort},
	)

	release := make(chan struct{})
	opener := &blockingOpener{release: release}
	d := NewDispatcher(store, opener, testConfig())

	ctx := context.Background()
	d.cycle(ctx)

	// Two slots fill; the third job stays pending.
	require.Eventually(t, func() bool { return d.ActiveJobs() == 2 }, time.Second, time.Millisecond)
	store.mu.Lock()
	remaining := len(store.pending)
	store.mu.Unlock()
	assert.Equal(t, 1, remaining)
	assert.GreaterOrEqual(t, store.swept, 1)

	close(release)
	require.Eventually(t, func() bool { return d.ActiveJobs() == 0 }, time.Second, time.Millisecond)

	d.cycle(ctx)
	require.Eventually(t, func() bool { return d.ActiveJobs() == 0 && store.isCompleted("job-3") },
		time.Second, time.Millisecond)
}

// blockingOpener parks every stream until released, then ends it with a
// preview.
type blockingOpener struct {
	release chan struct{}
}

func (o *blockingOpener) OpenResearchStream(ctx context.Context, job model.ResearchJob) (io.ReadCloser, error) {
	return &blockingBody{release: o.release}, nil
}

type blockingBody struct {
	release chan struct{}
	once    sync.Once
	reader  io.Reader
}

func (b *blockingBody) Read(p []byte) (int, error) {
	<-b.release
	b.once.Do(func() {
		data, _ := json.Marshal(research.Event{Type: research.EventPreview, Preview: &research.Preview{}})
		b.reader = strings.NewReader(fmt.Sprintf("event: preview\ndata: %s\n\n", data))
	})
	return b.reader.Read(p)
}

func (b *blockingBody) Close() error { return nil }
