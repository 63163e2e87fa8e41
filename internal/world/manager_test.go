package world

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oroboros/server/internal/core/event"
	"github.com/oroboros/server/internal/wal"
)

func TestDeterminismAcrossManagersAndRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)
	defer store.Close()

	a := NewManager(testConfig(42), store, nil)
	b := NewManager(testConfig(42), nil, nil)
	a.EnsureLoadedAround(100, 100, 2)
	b.EnsureLoadedAround(100, 100, 2)

	ba, ok := a.Block(100, 64, 100)
	require.True(t, ok)
	bb, ok := b.Block(100, 64, 100)
	require.True(t, ok)
	require.Equal(t, ba, bb)

	da, ok := a.ColumnDigest(6, 6)
	require.True(t, ok)
	db, _ := b.ColumnDigest(6, 6)
	require.Equal(t, da, db)

	// Nothing was edited, so nothing is written.
	n, err := a.SaveAll()
	require.NoError(t, err)
	require.Zero(t, n)

	restarted := NewManager(testConfig(42), store, nil)
	restarted.EnsureLoadedAround(100, 100, 2)
	br, ok := restarted.Block(100, 64, 100)
	require.True(t, ok)
	require.Equal(t, ba, br)
	dr, _ := restarted.ColumnDigest(6, 6)
	require.Equal(t, da, dr)
}

func TestEditsSurviveRestartThroughStore(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m := NewManager(testConfig(42), store, nil)
	m.EnsureLoadedAround(100, 100, 0)
	require.True(t, m.SetBlock(100, 120, 100, Wood))
	n, err := m.SaveAll()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(1), m.Stats().ColumnsSaved)

	again := NewManager(testConfig(42), store, nil)
	again.EnsureLoadedAround(100, 100, 0)
	b, ok := again.Block(100, 120, 100)
	require.True(t, ok)
	require.Equal(t, Wood, b)
	require.Equal(t, uint64(1), again.Stats().ColumnsRestored)
}

func TestUnloadedColumnsAreNotReadable(t *testing.T) {
	m := NewManager(testConfig(1), nil, nil)
	_, ok := m.Block(0, 64, 0)
	require.False(t, ok)
	require.False(t, m.SetBlock(0, 64, 0, Stone))
	require.False(t, m.HasGround(0, 100, 0))

	m.Update(0, 0)
	st, ok := m.State(ColumnCoord{})
	require.True(t, ok)
	require.Equal(t, Pending, st)
	_, ok = m.Block(0, 64, 0)
	require.False(t, ok)

	m.FlushGenerationQueue(context.Background())
	st, _ = m.State(ColumnCoord{})
	require.Equal(t, Loaded, st)
	_, ok = m.Block(0, 64, 0)
	require.True(t, ok)

	// Outside the stored vertical range.
	_, ok = m.Block(0, -1, 0)
	require.False(t, ok)
	_, ok = m.Block(0, 128, 0)
	require.False(t, ok)
}

func TestFlushIsNearestFirstAndBudgeted(t *testing.T) {
	cfg := testConfig(5)
	cfg.ViewRadius = 3
	cfg.UnloadRadius = 4
	cfg.PerTickGenBudget = 5
	m := NewManager(cfg, nil, nil)

	m.Update(0, 0)
	pending := m.Stats().Pending
	require.Equal(t, 29, pending)

	require.Equal(t, 5, m.FlushGenerationQueue(context.Background()))
	for _, cc := range []ColumnCoord{{0, 0}, {1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		st, _ := m.State(cc)
		require.Equal(t, Loaded, st, "column %v", cc)
	}
	st, _ := m.State(ColumnCoord{X: 3, Z: 0})
	require.Equal(t, Pending, st)
	require.Equal(t, pending-5, m.Stats().Pending)
}

func TestCancelledFlushRequeues(t *testing.T) {
	m := NewManager(testConfig(5), nil, nil)
	m.Update(0, 0)
	before := m.Stats().Pending

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Zero(t, m.FlushGenerationQueue(ctx))
	require.Equal(t, before, m.Stats().Pending)
	st, _ := m.State(ColumnCoord{})
	require.Equal(t, Pending, st)
}

func TestInfiniteWalk(t *testing.T) {
	cfg := testConfig(42)
	cfg.ViewRadius = 2
	cfg.UnloadRadius = 3
	cfg.MaxLoadedChunks = 64 * cfg.chunksPerColumn()
	m := NewManager(cfg, nil, nil)
	ctx := context.Background()

	m.Update(0, 0)
	m.EnsureLoadedAround(0, 0, cfg.ViewRadius)
	x := 0
	for step := 1; step <= 10000; step++ {
		x++
		m.Update(float64(x), 0)
		if step%16 == 0 {
			m.FlushGenerationQueue(ctx)
		}
		if step%100 == 0 {
			require.True(t, m.HasGround(x, 100, 0), "void at x=%d", x)
		}
		require.LessOrEqual(t, m.Stats().LoadedChunks, cfg.MaxLoadedChunks)
	}
	m.FlushGenerationQueue(ctx)

	st := m.Stats()
	require.GreaterOrEqual(t, st.ChunksGenerated, uint64(625))
	require.Positive(t, st.ColumnsEvicted)
	require.LessOrEqual(t, st.LoadedChunks, cfg.MaxLoadedChunks)

	found := false
	for y := 127; y >= 0; y-- {
		b, ok := m.Block(x, y, 0)
		require.True(t, ok)
		if b.Solid() {
			found = true
			break
		}
	}
	require.True(t, found)
}

func TestNoVoid(t *testing.T) {
	for _, seed := range []WorldSeed{1, 42, 0xDEADBEEF} {
		m := NewManager(testConfig(seed), nil, nil)
		for _, p := range [][2]int{{0, 0}, {-5000, 37}, {123456, -98765}, {-1, -1}} {
			m.EnsureLoadedAround(float64(p[0]), float64(p[1]), 0)
			require.True(t, m.HasGround(p[0], 127, p[1]), "seed %d at %v", seed, p)
		}
	}
}

func TestEvictionSavesDirtyColumns(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cfg := testConfig(9)
	cfg.ViewRadius = 1
	cfg.UnloadRadius = 2
	m := NewManager(cfg, store, nil)
	bus := event.NewBus()
	m.SetBus(bus)
	var evicted []event.ChunkColumnEvicted
	event.Subscribe(bus, func(e event.ChunkColumnEvicted) { evicted = append(evicted, e) })

	ctx := context.Background()
	m.Update(8, 8)
	m.FlushGenerationQueue(ctx)
	require.True(t, m.SetBlock(8, 110, 8, Stone))

	m.Update(16*10, 8)
	m.FlushGenerationQueue(ctx)
	st, ok := m.State(ColumnCoord{})
	require.False(t, ok, "column should be dropped, state %s", st)
	require.Positive(t, m.Stats().ColumnsEvicted)
	require.Equal(t, uint64(1), m.Stats().ColumnsSaved)

	bus.SwapBuffers()
	bus.DispatchAll()
	saved := 0
	for _, e := range evicted {
		if e.Saved {
			saved++
			require.Equal(t, int32(0), e.X)
		}
	}
	require.Equal(t, 1, saved)

	m.Update(8, 8)
	for m.Stats().Pending > 0 {
		m.FlushGenerationQueue(ctx)
	}
	b, ok := m.Block(8, 110, 8)
	require.True(t, ok)
	require.Equal(t, Stone, b)
}

func TestEvictionUnderChunkPressure(t *testing.T) {
	cfg := testConfig(3)
	cfg.ViewRadius = 0
	cfg.UnloadRadius = 100
	cfg.MaxLoadedChunks = 4 * cfg.chunksPerColumn()
	m := NewManager(cfg, nil, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.Update(float64(i*16), 0)
		m.FlushGenerationQueue(ctx)
		require.LessOrEqual(t, m.Stats().LoadedColumns, 4)
	}
	// The coldest columns went first.
	_, ok := m.State(ColumnCoord{X: 0})
	require.False(t, ok)
	st, ok := m.State(ColumnCoord{X: 9})
	require.True(t, ok)
	require.Equal(t, Loaded, st)
}

type flakyStore struct {
	mu    sync.Mutex
	fail  bool
	saved map[ColumnCoord][]byte
}

func (s *flakyStore) Load(cc ColumnCoord) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.saved[cc]
	if !ok {
		return nil, ErrColumnNotFound
	}
	return b, nil
}

func (s *flakyStore) Save(cc ColumnCoord, blocks []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saved[cc] = blocks
	return nil
}

func TestSaveFailureKeepsColumnLoaded(t *testing.T) {
	store := &flakyStore{fail: true, saved: map[ColumnCoord][]byte{}}
	cfg := testConfig(9)
	cfg.ViewRadius = 0
	cfg.UnloadRadius = 1
	m := NewManager(cfg, store, nil)
	ctx := context.Background()

	m.Update(0, 0)
	m.FlushGenerationQueue(ctx)
	require.True(t, m.SetBlock(1, 100, 1, Wood))

	m.Update(16*5, 0)
	m.FlushGenerationQueue(ctx)
	st, ok := m.State(ColumnCoord{})
	require.True(t, ok)
	require.Equal(t, Loaded, st)
	require.Equal(t, uint64(1), m.Stats().SaveErrors)
	b, _ := m.Block(1, 100, 1)
	require.Equal(t, Wood, b)

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	m.FlushGenerationQueue(ctx)
	_, ok = m.State(ColumnCoord{})
	require.False(t, ok)
	require.Contains(t, store.saved, ColumnCoord{})
}

type memJournal struct {
	recs []wal.Record
	err  error
}

func (j *memJournal) Append(op wal.OpType, payload []byte) (wal.Handle, error) {
	if j.err != nil {
		return wal.Handle{}, j.err
	}
	j.recs = append(j.recs, wal.Record{Op: op, Payload: append([]byte(nil), payload...)})
	return wal.Handle{}, nil
}

func TestJournaledEditsReplay(t *testing.T) {
	j := &memJournal{}
	m := NewManager(testConfig(11), nil, nil)
	m.SetJournal(j)
	m.Update(-20, 40)
	m.EnsureLoadedAround(-20, 40, 0)

	require.True(t, m.SetBlock(-20, 90, 40, Leaves))
	require.True(t, m.SetBlock(-20, 90, 40, Wood))
	require.True(t, m.SetBlock(-19, 5, 41, Air))
	require.Len(t, j.recs, 3)
	require.Equal(t, wal.OpBlockMutation, j.recs[0].Op)
	require.Equal(t, uint64(3), m.Stats().MutationsLogged)

	mut, err := DecodeMutation(j.recs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, ColumnCoord{X: -2, Z: 2}, mut.Column)
	require.Equal(t, 12, mut.X)
	require.Equal(t, 90, mut.Y)
	require.Equal(t, 8, mut.Z)
	require.Equal(t, Leaves, mut.Block)

	// Replay before the column exists, then load it.
	fresh := NewManager(testConfig(11), nil, nil)
	n, err := fresh.ReplayMutations(append([]wal.Record{{Op: wal.OpCraft, Payload: []byte{1}}}, j.recs...))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	fresh.EnsureLoadedAround(-20, 40, 0)
	b, _ := fresh.Block(-20, 90, 40)
	require.Equal(t, Wood, b)
	b, _ = fresh.Block(-19, 5, 41)
	require.Equal(t, Air, b)

	// Replay into a loaded column.
	loaded := NewManager(testConfig(11), nil, nil)
	loaded.EnsureLoadedAround(-20, 40, 0)
	_, err = loaded.ReplayMutations(j.recs)
	require.NoError(t, err)
	da, _ := loaded.ColumnDigest(-2, 2)
	db, _ := fresh.ColumnDigest(-2, 2)
	require.Equal(t, da, db)

	_, err = loaded.ReplayMutations([]wal.Record{{Op: wal.OpBlockMutation, Payload: []byte{1, 2}}})
	require.ErrorIs(t, err, ErrMalformedMutation)
}

func TestJournalFailureRejectsEdit(t *testing.T) {
	j := &memJournal{err: wal.ErrBusy}
	m := NewManager(testConfig(11), nil, nil)
	m.SetJournal(j)
	m.EnsureLoadedAround(0, 0, 0)
	before, _ := m.Block(3, 100, 3)
	require.False(t, m.SetBlock(3, 100, 3, Stone))
	after, _ := m.Block(3, 100, 3)
	require.Equal(t, before, after)
}

func TestLoadedEventsCarryOrigin(t *testing.T) {
	store := &flakyStore{saved: map[ColumnCoord][]byte{}}
	m := NewManager(testConfig(2), store, nil)
	bus := event.NewBus()
	m.SetBus(bus)
	var loaded []event.ChunkColumnLoaded
	event.Subscribe(bus, func(e event.ChunkColumnLoaded) { loaded = append(loaded, e) })

	m.EnsureLoadedAround(0, 0, 0)
	require.True(t, m.SetBlock(0, 100, 0, Stone))
	_, err := m.SaveAll()
	require.NoError(t, err)
	reloaded := NewManager(testConfig(2), store, nil)
	reloaded.SetBus(bus)
	reloaded.EnsureLoadedAround(0, 0, 0)

	bus.SwapBuffers()
	bus.DispatchAll()
	require.Len(t, loaded, 2)
	require.True(t, loaded[0].Generated)
	require.False(t, loaded[1].Generated)
}
