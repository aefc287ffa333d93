package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGraphSink struct {
	published []*model.Topology
	err       error
}

func (f *fakeGraphSink) Publish(ctx context.Context, topology *model.Topology) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, topology)
	return nil
}

type fakeStateStore struct {
	saved []*state.State
	err   error
}

func (f *fakeStateStore) Load() (*state.State, error) {
	return nil, nil
}

func (f *fakeStateStore) Save(st *state.State) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, st)
	return nil
}

type fakeTickBus struct {
	outputs []model.TickOutput
}

func (f *fakeTickBus) Publish(output model.TickOutput) error {
	f.outputs = append(f.outputs, output)
	return nil
}

func newTestScheduler(
	st *state.State,
	source SpanSource,
	sink GraphSink,
	store StateStore,
	bus TickEventBus,
) *Scheduler {
	logger := zap.NewNop()
	return NewScheduler(
		st,
		NewIngestor(source, nil, logger),
		NewReaper(st, 5*time.Minute, 7*24*time.Hour, logger),
		sink,
		store,
		bus,
		time.Minute,
		7*24*time.Hour,
		logger,
	)
}

func TestSchedulerTick(t *testing.T) {
	t.Run("A successful tick publishes, commits the cursor and persists", func(t *testing.T) {
		// Spans must fall inside the skew and staleness windows measured
		// against the wall clock at end of tick.
		base := time.Now().Add(-time.Minute)
		st := state.New()
		source := &fakeSpanSource{pages: [][]model.Span{
			{span("T1", "Sp", "a", "x", base)},
			{span("T1", "Sc", "b", "y", base.Add(time.Second), "Sp")},
		}}
		sink := &fakeGraphSink{}
		store := &fakeStateStore{}
		bus := &fakeTickBus{}
		scheduler := newTestScheduler(st, source, sink, store, bus)

		require.NoError(t, scheduler.runTick(context.Background()))

		require.Len(t, sink.published, 1)
		assert.Len(t, sink.published[0].Items.Items, 4)
		require.NotNil(t, st.Cursor)
		assert.True(t, st.Cursor.Equal(base.Add(time.Second)))
		require.Len(t, store.saved, 1)
		require.Len(t, bus.outputs, 1)
		assert.Equal(t, 2, bus.outputs[0].SpansProcessed)
		assert.Equal(t, 2, bus.outputs[0].Services)
	})

	t.Run("A transport error aborts the tick without advancing the cursor", func(t *testing.T) {
		st := state.New()
		source := &fakeSpanSource{
			pages: [][]model.Span{{span("T1", "S1", "a", "x", t0)}},
			err:   errors.New("connection reset"),
		}
		sink := &fakeGraphSink{}
		store := &fakeStateStore{}
		scheduler := newTestScheduler(st, source, sink, store, nil)

		err := scheduler.runTick(context.Background())
		require.Error(t, err)
		assert.Nil(t, st.Cursor)
		assert.Empty(t, sink.published)
		assert.Empty(t, store.saved)
	})

	t.Run("A failed publish aborts the tick without advancing the cursor", func(t *testing.T) {
		st := state.New()
		source := &fakeSpanSource{pages: [][]model.Span{{span("T1", "S1", "a", "x", t0)}}}
		sink := &fakeGraphSink{err: errors.New("bad gateway")}
		store := &fakeStateStore{}
		scheduler := newTestScheduler(st, source, sink, store, nil)

		err := scheduler.runTick(context.Background())
		require.Error(t, err)
		assert.Nil(t, st.Cursor)
		assert.Empty(t, store.saved)
	})

	t.Run("A failed save keeps the in-memory cursor", func(t *testing.T) {
		st := state.New()
		source := &fakeSpanSource{pages: [][]model.Span{{span("T1", "S1", "a", "x", t0)}}}
		sink := &fakeGraphSink{}
		store := &fakeStateStore{err: errors.New("disk full")}
		scheduler := newTestScheduler(st, source, sink, store, nil)

		require.NoError(t, scheduler.runTick(context.Background()))
		require.NotNil(t, st.Cursor)
		assert.True(t, st.Cursor.Equal(t0))
	})

	t.Run("The next tick resumes from the committed cursor", func(t *testing.T) {
		st := state.New()
		st.CommitCursor(t0)
		source := &fakeSpanSource{}
		scheduler := newTestScheduler(st, source, &fakeGraphSink{}, &fakeStateStore{}, nil)

		require.NoError(t, scheduler.runTick(context.Background()))
		assert.True(t, source.since.Equal(t0))
	})

	t.Run("An empty tick keeps the cursor unchanged", func(t *testing.T) {
		st := state.New()
		st.CommitCursor(t0)
		scheduler := newTestScheduler(st, &fakeSpanSource{}, &fakeGraphSink{}, &fakeStateStore{}, nil)

		require.NoError(t, scheduler.runTick(context.Background()))
		require.NotNil(t, st.Cursor)
		assert.True(t, st.Cursor.Equal(t0))
	})

	t.Run("Stale entries are reaped before publishing", func(t *testing.T) {
		st := state.New()
		svc := st.UpsertService(state.ServiceKey{Name: "stale"}, nil, time.Now().Add(-8*24*time.Hour))
		st.UpsertOperation(svc, "x", time.Now().Add(-8*24*time.Hour))
		sink := &fakeGraphSink{}
		scheduler := newTestScheduler(st, &fakeSpanSource{}, sink, &fakeStateStore{}, nil)

		require.NoError(t, scheduler.runTick(context.Background()))
		require.Len(t, sink.published, 1)
		assert.Empty(t, sink.published[0].Items.Items)
		assert.Empty(t, st.Services)
	})
}

func TestSchedulerRun(t *testing.T) {
	t.Run("Stops when the context is cancelled", func(t *testing.T) {
		st := state.New()
		scheduler := newTestScheduler(st, &fakeSpanSource{}, &fakeGraphSink{}, &fakeStateStore{}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- scheduler.Run(ctx) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop after cancellation")
		}
	})
}
