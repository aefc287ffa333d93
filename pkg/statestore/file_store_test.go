package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFileStoreLoad(t *testing.T) {
	t.Run("Returns nil when no blob exists", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)
		st, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("Fails on a corrupt blob", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("not gzip"), 0o644))

		_, err = store.Load()
		assert.Error(t, err)
	})

	t.Run("Creates the state directory when missing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "state")
		_, err := NewFileStore(dir, zap.NewNop())
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Run("Save then load preserves the state", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)

		st := state.New()
		svc := st.UpsertService(state.ServiceKey{Namespace: "shop", Name: "checkout"}, nil, t0)
		op := st.UpsertOperation(svc, "POST /pay", t0)
		st.TouchTrace("t1", t0)
		st.CommitCursor(t0)

		require.NoError(t, store.Save(st))
		loaded, err := store.Load()
		require.NoError(t, err)
		require.NotNil(t, loaded)

		require.Contains(t, loaded.Services, state.ServiceKey{Namespace: "shop", Name: "checkout"})
		loadedSvc := loaded.Services[state.ServiceKey{Namespace: "shop", Name: "checkout"}]
		assert.Equal(t, svc.ID, loadedSvc.ID)
		assert.Equal(t, op.ID, loadedSvc.Operations["POST /pay"].ID)
		require.NotNil(t, loaded.Cursor)
		assert.True(t, loaded.Cursor.Equal(t0))
		assert.Contains(t, loaded.Traces, state.TraceID("t1"))
		assert.Same(t, loadedSvc, loaded.ServiceByID(svc.ID))
	})

	t.Run("Save replaces the previous blob", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir, zap.NewNop())
		require.NoError(t, err)

		first := state.New()
		first.UpsertService(state.ServiceKey{Name: "old"}, nil, t0)
		require.NoError(t, store.Save(first))

		second := state.New()
		second.UpsertService(state.ServiceKey{Name: "new"}, nil, t0)
		require.NoError(t, store.Save(second))

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.NotContains(t, loaded.Services, state.ServiceKey{Name: "old"})
		assert.Contains(t, loaded.Services, state.ServiceKey{Name: "new"})
	})

	t.Run("Leaves no temporary files behind", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, store.Save(state.New()))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, stateFileName, entries[0].Name())
	})
}
