package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visekai/tessellate/internal/assemble"
	"github.com/visekai/tessellate/internal/engine"
	"github.com/visekai/tessellate/internal/job"
	"github.com/visekai/tessellate/internal/jobstore"
	"github.com/visekai/tessellate/internal/tiler"
)

// recordingStore wraps a store and records the sequence of states written
// per job id, so tests can assert the state machine never moves backwards.
type recordingStore struct {
	jobstore.Store

	mu     sync.Mutex
	states map[uuid.UUID][]job.State
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	inner, err := jobstore.NewMemoryStore(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })
	return &recordingStore{Store: inner, states: make(map[uuid.UUID][]job.State)}
}

func (r *recordingStore) Put(ctx context.Context, j job.Job) error {
	r.mu.Lock()
	r.states[j.ID] = append(r.states[j.ID], j.State)
	r.mu.Unlock()
	return r.Store.Put(ctx, j)
}

func (r *recordingStore) statesFor(id uuid.UUID) []job.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]job.State, len(r.states[id]))
	copy(out, r.states[id])
	return out
}

type fixture struct {
	scheduler *Scheduler
	model     *engine.FakeModel
	store     *recordingStore
}

type fixtureOpts struct {
	model     *engine.FakeModel
	scheduler Config
	engine    engine.Config
	tiler     tiler.Config
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	if opts.model == nil {
		opts.model = &engine.FakeModel{}
	}
	if opts.scheduler.MaxConcurrentJobs == 0 {
		opts.scheduler = DefaultConfig()
		opts.scheduler.RetryBackoff = time.Millisecond
	}
	if opts.engine.MaxBatchSize == 0 {
		opts.engine = engine.DefaultConfig()
	}
	if opts.tiler.BasePixelSize == 0 {
		opts.tiler = tiler.DefaultConfig()
	}

	tl, err := tiler.New(opts.tiler)
	require.NoError(t, err)
	eng, err := engine.New(opts.model, opts.engine)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	asm, err := assemble.New(assemble.DefaultConfig())
	require.NoError(t, err)
	store := newRecordingStore(t)

	s, err := New(tl, eng, asm, store, opts.scheduler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &fixture{scheduler: s, model: opts.model, store: store}
}

func awaitTerminal(t *testing.T, s *Scheduler, id uuid.UUID) job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := s.Get(context.Background(), id)
		require.NoError(t, err)
		if j.State.Terminal() {
			return j
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return job.Job{}
}

func TestNew_Validation(t *testing.T) {
	tl, err := tiler.New(tiler.DefaultConfig())
	require.NoError(t, err)
	eng, err := engine.New(&engine.FakeModel{}, engine.DefaultConfig())
	require.NoError(t, err)
	defer eng.Close()
	asm, err := assemble.New(assemble.DefaultConfig())
	require.NoError(t, err)
	store, err := jobstore.NewMemoryStore(0)
	require.NoError(t, err)
	defer store.Close()

	_, err = New(nil, eng, asm, store, DefaultConfig())
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxBatchSize = eng.Config().MaxBatchSize + 1
	_, err = New(tl, eng, asm, store, cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.MaxConcurrentJobs = 0
	_, err = New(tl, eng, asm, store, cfg)
	require.Error(t, err)
}

func TestSubmit_CompletesSuccessfully(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	id, err := f.scheduler.Submit(context.Background(), testPNG(t, 2000, 3000), "document", "base", "markdown")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	j := awaitTerminal(t, f.scheduler, id)
	require.Equal(t, job.StateCompleted, j.State)
	require.NotNil(t, j.Result)
	assert.NotEmpty(t, j.Result.Text)
	assert.NotEmpty(t, j.Result.Markdown)
	assert.Greater(t, j.Result.Confidence, 0.0)
	assert.GreaterOrEqual(t, len(j.Result.Tiles), 3)
	require.NotNil(t, j.StartedAt)
	require.NotNil(t, j.CompletedAt)
	assert.False(t, j.CompletedAt.Before(*j.StartedAt))
	assert.Empty(t, j.Error)
}

func TestSubmit_StateTransitionsAreMonotonic(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	id, err := f.scheduler.Submit(context.Background(), testPNG(t, 800, 600), "document", "base", "")
	require.NoError(t, err)
	awaitTerminal(t, f.scheduler, id)

	rank := map[job.State]int{
		job.StatePending:   0,
		job.StateRunning:   1,
		job.StateCompleted: 2,
		job.StateFailed:    2,
	}
	states := f.store.statesFor(id)
	require.NotEmpty(t, states)
	assert.Equal(t, job.StatePending, states[0])
	for i := 1; i < len(states); i++ {
		assert.GreaterOrEqual(t, rank[states[i]], rank[states[i-1]],
			"state went backwards: %v", states)
	}
	assert.Equal(t, job.StateCompleted, states[len(states)-1])
}

func TestSubmit_UnknownModeRejectedWithoutJob(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.scheduler.Submit(context.Background(), testPNG(t, 100, 100), "sideways", "base", "")
	var unsupported *tiler.UnsupportedModeError
	require.ErrorAs(t, err, &unsupported)

	jobs, err := f.scheduler.List(context.Background(), jobstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected submissions must not create job records")
	assert.Equal(t, 0, f.model.Calls())
}

func TestSubmit_UnknownResolutionRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.scheduler.Submit(context.Background(), testPNG(t, 100, 100), "document", "colossal", "")
	var unsupported *tiler.UnsupportedModeError
	require.ErrorAs(t, err, &unsupported)
}

func TestSubmit_UnknownFormatRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.scheduler.Submit(context.Background(), testPNG(t, 100, 100), "document", "base", "pdf")
	require.Error(t, err)
}

func TestSubmit_CorruptImageFailsJob(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	id, err := f.scheduler.Submit(context.Background(), []byte("not an image"), "document", "base", "")
	require.NoError(t, err, "undecodable input is detected after admission, not at submit")

	j := awaitTerminal(t, f.scheduler, id)
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, job.ErrKindInvalidImage, j.ErrorKind)
	assert.NotEmpty(t, j.Error)
	assert.Nil(t, j.Result)
	assert.Equal(t, 0, f.model.Calls())
}

func TestSubmit_TimeoutRetriedThenSucceeds(t *testing.T) {
	tcfg := tiler.DefaultConfig()
	tcfg.CropMode = false // single tile, single batch
	model := &engine.FakeModel{
		Errs: []error{context.DeadlineExceeded, context.DeadlineExceeded},
	}
	f := newFixture(t, fixtureOpts{model: model, tiler: tcfg})

	id, err := f.scheduler.Submit(context.Background(), testPNG(t, 300, 300), "document", "base", "")
	require.NoError(t, err)

	j := awaitTerminal(t, f.scheduler, id)
	assert.Equal(t, job.StateCompleted, j.State)
	assert.Equal(t, 3, model.Calls(), "two timeouts then one success")
}

func TestSubmit_TimeoutRetriesExhausted(t *testing.T) {
	tcfg := tiler.DefaultConfig()
	tcfg.CropMode = false
	model := &engine.FakeModel{
		Errs: []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded},
	}
	f := newFixture(t, fixtureOpts{model: model, tiler: tcfg})

	id, err := f.scheduler.Submit(context.Background(), testPNG(t, 300, 300), "document", "base", "")
	require.NoError(t, err)

	j := awaitTerminal(t, f.scheduler, id)
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, job.ErrKindEngineTimeout, j.ErrorKind)
	assert.Equal(t, 3, model.Calls(), "retry budget is two retries after the first attempt")
}

func TestSubmit_UnavailableNotRetried(t *testing.T) {
	tcfg := tiler.DefaultConfig()
	tcfg.CropMode = false
	model := &engine.FakeModel{Errs: []error{errors.New("device fault")}}
	f := newFixture(t, fixtureOpts{model: model, tiler: tcfg})

	id, err := f.scheduler.Submit(context.Background(), testPNG(t, 300, 300), "document", "base", "")
	require.NoError(t, err)

	j := awaitTerminal(t, f.scheduler, id)
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, job.ErrKindEngineUnavailable, j.ErrorKind)
	assert.Equal(t, 1, model.Calls(), "device failures are not retried")
}

func TestCancel_RunningJobStopsAfterInflightBatch(t *testing.T) {
	scfg := DefaultConfig()
	scfg.MaxBatchSize = 2 // 7 tiles, 4 batches
	scfg.RetryBackoff = time.Millisecond
	model := &engine.FakeModel{Delay: 300 * time.Millisecond}
	f := newFixture(t, fixtureOpts{model: model, scheduler: scfg})

	id, err := f.scheduler.Submit(context.Background(), testPNG(t, 2000, 3000), "document", "base", "")
	require.NoError(t, err)

	// Wait for the first batch to be in flight, then cancel.
	deadline := time.Now().Add(5 * time.Second)
	for model.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, model.Calls())
	require.NoError(t, f.scheduler.Cancel(context.Background(), id))

	j := awaitTerminal(t, f.scheduler, id)
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, job.ErrKindCancelled, j.ErrorKind)
	assert.Equal(t, 1, model.Calls(), "no batch is issued after cancellation")
}

func TestCancel_PendingJobNeverRuns(t *testing.T) {
	scfg := DefaultConfig()
	scfg.MaxConcurrentJobs = 1
	scfg.RetryBackoff = time.Millisecond
	model := &engine.FakeModel{Delay: 300 * time.Millisecond}
	f := newFixture(t, fixtureOpts{model: model, scheduler: scfg})

	blocker, err := f.scheduler.Submit(context.Background(), testPNG(t, 500, 500), "document", "base", "")
	require.NoError(t, err)

	// The second job queues behind the only worker slot.
	queued, err := f.scheduler.Submit(context.Background(), testPNG(t, 500, 500), "document", "base", "")
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Cancel(context.Background(), queued))

	j := awaitTerminal(t, f.scheduler, queued)
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, job.ErrKindCancelled, j.ErrorKind)
	assert.Nil(t, j.StartedAt, "a job cancelled while pending never starts")

	done := awaitTerminal(t, f.scheduler, blocker)
	assert.Equal(t, job.StateCompleted, done.State)
}

func TestCancel_TerminalJobRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	id, err := f.scheduler.Submit(context.Background(), testPNG(t, 400, 400), "document", "base", "")
	require.NoError(t, err)
	awaitTerminal(t, f.scheduler, id)

	err = f.scheduler.Cancel(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot cancel")
}

func TestCancel_UnknownJob(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	err := f.scheduler.Cancel(context.Background(), uuid.New())
	require.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestSubmit_ManyConcurrentJobsAllFinish(t *testing.T) {
	scfg := DefaultConfig()
	scfg.MaxConcurrentJobs = 2
	scfg.RetryBackoff = time.Millisecond
	f := newFixture(t, fixtureOpts{scheduler: scfg})

	ids := make([]uuid.UUID, 6)
	for i := range ids {
		id, err := f.scheduler.Submit(context.Background(), testPNG(t, 600, 400), "document", "base", "")
		require.NoError(t, err)
		ids[i] = id
	}

	for _, id := range ids {
		j := awaitTerminal(t, f.scheduler, id)
		assert.Equal(t, job.StateCompleted, j.State)
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.scheduler.Close())

	_, err := f.scheduler.Submit(context.Background(), testPNG(t, 100, 100), "document", "base", "")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want job.ErrorKind
	}{
		{&tiler.InvalidImageError{Reason: "bad"}, job.ErrKindInvalidImage},
		{&tiler.UnsupportedModeError{Mode: "x"}, job.ErrKindUnsupportedMode},
		{&engine.EngineTimeoutError{}, job.ErrKindEngineTimeout},
		{&engine.EngineUnavailableError{}, job.ErrKindEngineUnavailable},
		{&engine.BatchTooLargeError{Size: 9, Max: 8}, job.ErrKindBatchTooLarge},
		{context.Canceled, job.ErrKindCancelled},
		{errors.New("anything else"), job.ErrKindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err))
	}
}

func TestSplitBatches(t *testing.T) {
	tiles := make([]tiler.Tile, 7)
	for i := range tiles {
		tiles[i].Index = i
	}

	batches := splitBatches(tiles, 3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, 6, batches[2][0].Index)

	assert.Len(t, splitBatches(tiles, 10), 1)
	assert.Empty(t, splitBatches(nil, 3))
}
