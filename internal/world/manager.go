package world

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/kamstrup/intmap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oroboros/server/internal/core/event"
	"github.com/oroboros/server/internal/wal"
)

// ManagerStats is a point-in-time view of the streaming state.
type ManagerStats struct {
	Tick              uint64
	LoadedColumns     int
	LoadedChunks      int
	Pending           int
	ChunksGenerated   uint64
	ColumnsRestored   uint64
	ColumnsEvicted    uint64
	ColumnsSaved      uint64
	SaveErrors        uint64
	MutationsLogged   uint64
	MutationsReplayed uint64
}

// Manager streams columns around a focus point.
//
// Update, FlushGenerationQueue, EnsureLoadedAround, SetBlock, SaveAll and
// ReplayMutations belong to the simulation goroutine. Block, HasGround,
// ColumnDigest and Stats may be called from any goroutine.
type Manager struct {
	cfg   ManagerConfig
	gen   *Generator
	store ChunkStore
	log   *zap.Logger

	journal Journal
	bus     *event.Bus

	tick atomic.Uint64

	mu           sync.RWMutex
	columns      *intmap.Map[int64, *column]
	pending      []*column
	overlay      map[int64][]Mutation
	focus        ColumnCoord
	hasFocus     bool
	loadedChunks int
	stats        ManagerStats
}

// NewManager builds a manager. Zero fields of cfg take their defaults. A
// nil store regenerates evicted columns from the seed and loses edits.
func NewManager(cfg ManagerConfig, store ChunkStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = withDefaults(cfg)
	return &Manager{
		cfg:     cfg,
		gen:     NewGenerator(cfg),
		store:   store,
		log:     log,
		columns: intmap.New[int64, *column](256),
		overlay: make(map[int64][]Mutation),
	}
}

func withDefaults(cfg ManagerConfig) ManagerConfig {
	d := DefaultManagerConfig()
	if cfg.Seed == 0 {
		cfg.Seed = d.Seed
	}
	if cfg.PerTickGenBudget <= 0 {
		cfg.PerTickGenBudget = d.PerTickGenBudget
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = d.WorkerThreads
	}
	if cfg.MaxChunkY == 0 && cfg.MinChunkY == 0 {
		cfg.MaxChunkY = d.MaxChunkY
	}
	if cfg.SeaLevel == 0 {
		cfg.SeaLevel, cfg.MinHeight, cfg.MaxHeight = d.SeaLevel, d.MinHeight, d.MaxHeight
	}
	if cfg.UnloadRadius < cfg.ViewRadius {
		cfg.UnloadRadius = cfg.ViewRadius
	}
	if cfg.MaxLoadedChunks < cfg.chunksPerColumn() {
		cfg.MaxLoadedChunks = d.MaxLoadedChunks
	}
	return cfg
}

func (m *Manager) Config() ManagerConfig { return m.cfg }
func (m *Manager) Generator() *Generator { return m.gen }
func (m *Manager) SetJournal(j Journal)  { m.journal = j }
func (m *Manager) SetBus(b *event.Bus)   { m.bus = b }
func (m *Manager) Tick() uint64          { return m.tick.Load() }
func (m *Manager) minY() int             { return m.cfg.MinChunkY * ChunkSize }
func (m *Manager) maxY() int             { return (m.cfg.MaxChunkY + 1) * ChunkSize }
func (m *Manager) chunksPerColumn() int  { return m.cfg.chunksPerColumn() }

// Update moves the focus and advances the access tick. Missing columns in
// ViewRadius are queued for generation; Loaded columns beyond UnloadRadius
// are evicted by the next FlushGenerationQueue.
func (m *Manager) Update(focusX, focusZ float64) {
	tick := m.tick.Add(1)
	center := ColumnOf(focusX, focusZ)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.focus = center
	m.hasFocus = true
	m.queueAround(center, m.cfg.ViewRadius, tick)
}

// queueAround registers every column within radius of center and returns
// them. Caller holds mu.
func (m *Manager) queueAround(center ColumnCoord, radius int, tick uint64) []*column {
	r2 := int64(radius) * int64(radius)
	out := make([]*column, 0, (2*radius+1)*(2*radius+1))
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			cc := ColumnCoord{X: center.X + int32(dx), Z: center.Z + int32(dz)}
			if cc.dist2(center) > r2 {
				continue
			}
			col, ok := m.columns.Get(cc.key())
			if !ok {
				col = &column{coord: cc, state: Pending}
				m.columns.Put(cc.key(), col)
				m.pending = append(m.pending, col)
			}
			col.lastAccess.Store(tick)
			out = append(out, col)
		}
	}
	return out
}

// FlushGenerationQueue materialises up to PerTickGenBudget pending columns,
// nearest to the focus first, then runs eviction. It returns the number of
// columns published. Cancelling ctx stops new columns from starting;
// columns already in a worker finish.
func (m *Manager) FlushGenerationQueue(ctx context.Context) int {
	m.mu.Lock()
	batch := m.takePending(m.cfg.PerTickGenBudget)
	m.mu.Unlock()

	n := m.materialize(ctx, batch)
	m.evict()
	return n
}

// takePending drops queued columns that fell out of range and claims the
// nearest n. Caller holds mu.
func (m *Manager) takePending(n int) []*column {
	if m.hasFocus {
		ur2 := int64(m.cfg.UnloadRadius) * int64(m.cfg.UnloadRadius)
		m.pending = slices.DeleteFunc(m.pending, func(col *column) bool {
			if col.coord.dist2(m.focus) <= ur2 {
				return false
			}
			m.columns.Del(col.coord.key())
			col.state = Dropped
			return true
		})
	}
	slices.SortFunc(m.pending, func(a, b *column) int {
		if c := cmp.Compare(a.coord.dist2(m.focus), b.coord.dist2(m.focus)); c != 0 {
			return c
		}
		return cmp.Compare(a.coord.key(), b.coord.key())
	})
	n = min(n, len(m.pending))
	batch := slices.Clone(m.pending[:n])
	m.pending = slices.Delete(m.pending, 0, n)
	for _, col := range batch {
		col.state = Generating
	}
	return batch
}

// EnsureLoadedAround synchronously loads every column within radius of
// (x, z), ignoring the per-tick budget.
func (m *Manager) EnsureLoadedAround(x, z float64, radius int) {
	m.mu.Lock()
	cols := m.queueAround(ColumnOf(x, z), radius, m.tick.Load())
	var batch []*column
	for _, col := range cols {
		if col.state == Pending {
			col.state = Generating
			batch = append(batch, col)
		}
	}
	m.pending = slices.DeleteFunc(m.pending, func(col *column) bool { return col.state != Pending })
	m.mu.Unlock()

	m.materialize(context.Background(), batch)
}

// materialize builds each column on a fresh buffer in the worker pool and
// publishes the finished chunks under the table lock.
func (m *Manager) materialize(ctx context.Context, batch []*column) int {
	if len(batch) == 0 {
		return 0
	}
	built := make([][]*Chunk, len(batch))
	restored := make([]bool, len(batch))

	var g errgroup.Group
	g.SetLimit(m.cfg.WorkerThreads)
	for i, col := range batch {
		if ctx.Err() != nil {
			break
		}
		i, col := i, col
		g.Go(func() error {
			built[i], restored[i] = m.build(col.coord)
			return nil
		})
	}
	_ = g.Wait()

	published := 0
	m.mu.Lock()
	for i, col := range batch {
		if built[i] == nil {
			col.state = Pending
			m.pending = append(m.pending, col)
			continue
		}
		m.applyOverlay(col.coord, built[i])
		col.chunks = built[i]
		col.state = Loaded
		m.loadedChunks += len(built[i])
		if restored[i] {
			m.stats.ColumnsRestored++
		} else {
			m.stats.ChunksGenerated += uint64(len(built[i]))
		}
		published++
	}
	m.mu.Unlock()

	if m.bus != nil {
		for i, col := range batch {
			if built[i] != nil {
				event.Emit(m.bus, event.ChunkColumnLoaded{X: col.coord.X, Z: col.coord.Z, Generated: !restored[i]})
			}
		}
	}
	return published
}

// build restores the column from the store or generates it.
func (m *Manager) build(cc ColumnCoord) ([]*Chunk, bool) {
	if m.store != nil {
		raw, err := m.store.Load(cc)
		switch {
		case err == nil:
			if chunks, ok := m.chunksFrom(cc, raw); ok {
				return chunks, true
			}
			m.log.Warn("saved column has wrong size, regenerating",
				zap.Int32("cx", cc.X), zap.Int32("cz", cc.Z), zap.Int("bytes", len(raw)))
		case errors.Is(err, ErrColumnNotFound):
		default:
			m.log.Error("load column failed, regenerating",
				zap.Int32("cx", cc.X), zap.Int32("cz", cc.Z), zap.Error(err))
		}
	}
	return m.gen.Generate(cc), false
}

func (m *Manager) chunksFrom(cc ColumnCoord, raw []byte) ([]*Chunk, bool) {
	n := m.chunksPerColumn()
	if len(raw) != n*ChunkVolume {
		return nil, false
	}
	chunks := make([]*Chunk, n)
	for i := range chunks {
		c := &Chunk{Coord: ChunkCoord{X: cc.X, Y: int32(m.cfg.MinChunkY + i), Z: cc.Z}}
		copy(c.blocks[:], raw[i*ChunkVolume:])
		chunks[i] = c
	}
	return chunks, true
}

// applyOverlay writes replayed mutations into an unpublished column.
// Caller holds mu.
func (m *Manager) applyOverlay(cc ColumnCoord, chunks []*Chunk) {
	muts, ok := m.overlay[cc.key()]
	if !ok {
		return
	}
	delete(m.overlay, cc.key())
	for _, mut := range muts {
		ly := mut.Y - m.minY()
		c := chunks[ly>>4]
		c.blocks[blockIndex(mut.X, ly&15, mut.Z)] = byte(mut.Block)
		c.dirty = true
	}
}

// chunkAt resolves a world block to its chunk and local coordinates when
// the column is Loaded.
func (m *Manager) chunkAt(x, y, z int) (c *Chunk, lx, ly, lz int, ok bool) {
	if y < m.minY() || y >= m.maxY() {
		return nil, 0, 0, 0, false
	}
	col := m.loaded(x, z)
	if col == nil {
		return nil, 0, 0, 0, false
	}
	_, lx = floorDiv(x)
	_, lz = floorDiv(z)
	ly = y - m.minY()
	return col.chunks[ly>>4], lx, ly & 15, lz, true
}

func (m *Manager) loaded(x, z int) *column {
	cx, _ := floorDiv(x)
	cz, _ := floorDiv(z)
	m.mu.RLock()
	col, ok := m.columns.Get(ColumnCoord{X: int32(cx), Z: int32(cz)}.key())
	if !ok || col.state != Loaded {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	col.lastAccess.Store(m.tick.Load())
	return col
}

// Block returns the block at a world position, or false if its column is
// not Loaded.
func (m *Manager) Block(x, y, z int) (Block, bool) {
	c, lx, ly, lz, ok := m.chunkAt(x, y, z)
	if !ok {
		return Air, false
	}
	return c.get(lx, ly, lz), true
}

// SetBlock edits a Loaded block and marks its chunk dirty. With a journal
// set the edit is logged first; a journal failure leaves the block as it
// was and returns false.
func (m *Manager) SetBlock(x, y, z int, b Block) bool {
	c, lx, ly, lz, ok := m.chunkAt(x, y, z)
	if !ok {
		return false
	}
	if m.journal != nil {
		cx, _ := floorDiv(x)
		cz, _ := floorDiv(z)
		mut := Mutation{
			Column: ColumnCoord{X: int32(cx), Z: int32(cz)},
			X:      lx,
			Y:      y,
			Z:      lz,
			Block:  b,
			Tick:   m.tick.Load(),
		}
		if _, err := m.journal.Append(wal.OpBlockMutation, appendMutation(nil, mut)); err != nil {
			m.log.Warn("block mutation not journaled", zap.Stringer("mutation", mut), zap.Error(err))
			return false
		}
		m.mu.Lock()
		m.stats.MutationsLogged++
		m.mu.Unlock()
	}
	c.set(lx, ly, lz, b)
	return true
}

// HasGround reports whether the Loaded column at (x, z) holds a solid block
// at or below y.
func (m *Manager) HasGround(x, y, z int) bool {
	col := m.loaded(x, z)
	if col == nil {
		return false
	}
	_, lx := floorDiv(x)
	_, lz := floorDiv(z)
	top := min(y, m.maxY()-1) - m.minY()
	for ly := top; ly >= 0; ly-- {
		if col.chunks[ly>>4].get(lx, ly&15, lz).Solid() {
			return true
		}
	}
	return false
}

// ColumnDigest hashes the blocks of a Loaded column.
func (m *Manager) ColumnDigest(cx, cz int32) (uint64, bool) {
	m.mu.RLock()
	col, ok := m.columns.Get(ColumnCoord{X: cx, Z: cz}.key())
	if !ok || col.state != Loaded {
		m.mu.RUnlock()
		return 0, false
	}
	m.mu.RUnlock()
	d := xxhash.New()
	for _, c := range col.chunks {
		c.mu.RLock()
		_, _ = d.Write(c.blocks[:])
		c.mu.RUnlock()
	}
	return d.Sum64(), true
}

// State reports the lifecycle state of a known column.
func (m *Manager) State(cc ColumnCoord) (ChunkState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.columns.Get(cc.key())
	if !ok {
		return Dropped, false
	}
	return col.state, true
}

func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.Tick = m.tick.Load()
	s.LoadedChunks = m.loadedChunks
	s.LoadedColumns = m.loadedChunks / m.chunksPerColumn()
	s.Pending = len(m.pending)
	return s
}

// evict drops Loaded columns beyond UnloadRadius, least recently used
// first, then keeps dropping the coldest columns while over
// MaxLoadedChunks. The focus column is never evicted for pressure.
func (m *Manager) evict() {
	per := m.chunksPerColumn()

	m.mu.Lock()
	var far, near []*column
	ur2 := int64(m.cfg.UnloadRadius) * int64(m.cfg.UnloadRadius)
	m.columns.ForEach(func(_ int64, col *column) bool {
		if col.state != Loaded {
			return true
		}
		if m.hasFocus && col.coord.dist2(m.focus) > ur2 {
			far = append(far, col)
		} else {
			near = append(near, col)
		}
		return true
	})
	byLRU := func(a, b *column) int {
		if c := cmp.Compare(a.lastAccess.Load(), b.lastAccess.Load()); c != 0 {
			return c
		}
		return cmp.Compare(a.coord.key(), b.coord.key())
	}
	slices.SortFunc(far, byLRU)
	victims := far
	if over := m.loadedChunks - len(far)*per - m.cfg.MaxLoadedChunks; over > 0 {
		slices.SortFunc(near, byLRU)
		for _, col := range near {
			if over <= 0 {
				break
			}
			if m.hasFocus && col.coord == m.focus {
				continue
			}
			victims = append(victims, col)
			over -= per
		}
	}
	for _, col := range victims {
		col.state = Evicting
	}
	m.mu.Unlock()

	for _, col := range victims {
		saved, err := m.saveColumn(col)
		m.mu.Lock()
		if err != nil {
			col.state = Loaded
			m.stats.SaveErrors++
			m.mu.Unlock()
			m.log.Error("evict: save column failed, keeping it loaded",
				zap.Int32("cx", col.coord.X), zap.Int32("cz", col.coord.Z), zap.Error(err))
			continue
		}
		m.columns.Del(col.coord.key())
		col.state = Dropped
		m.loadedChunks -= len(col.chunks)
		m.stats.ColumnsEvicted++
		if saved {
			m.stats.ColumnsSaved++
		}
		m.mu.Unlock()

		m.log.Debug("column evicted",
			zap.Int32("cx", col.coord.X), zap.Int32("cz", col.coord.Z), zap.Bool("saved", saved))
		event.Emit(m.bus, event.ChunkColumnEvicted{X: col.coord.X, Z: col.coord.Z, Saved: saved})
	}
}

// saveColumn persists a dirty column. Clean columns are not written.
func (m *Manager) saveColumn(col *column) (bool, error) {
	if !col.dirty() {
		return false, nil
	}
	if m.store == nil {
		m.log.Warn("dropping edited column without a store",
			zap.Int32("cx", col.coord.X), zap.Int32("cz", col.coord.Z))
		return false, nil
	}
	if err := m.store.Save(col.coord, col.snapshot()); err != nil {
		col.markDirty()
		return false, err
	}
	return true, nil
}

// SaveAll writes every dirty Loaded column and returns how many were
// saved. Columns that fail stay dirty.
func (m *Manager) SaveAll() (int, error) {
	m.mu.RLock()
	var cols []*column
	m.columns.ForEach(func(_ int64, col *column) bool {
		if col.state == Loaded {
			cols = append(cols, col)
		}
		return true
	})
	m.mu.RUnlock()

	var (
		n    int
		errs []error
	)
	for _, col := range cols {
		saved, err := m.saveColumn(col)
		if err != nil {
			errs = append(errs, fmt.Errorf("column %d,%d: %w", col.coord.X, col.coord.Z, err))
			continue
		}
		if saved {
			n++
		}
	}
	m.mu.Lock()
	m.stats.ColumnsSaved += uint64(n)
	m.stats.SaveErrors += uint64(len(errs))
	m.mu.Unlock()
	return n, errors.Join(errs...)
}

// ReplayMutations re-applies journaled block edits. Edits to Loaded columns
// apply at once; the rest wait until their column is materialised. Records
// of other ops are ignored.
func (m *Manager) ReplayMutations(records []wal.Record) (int, error) {
	n := 0
	for i, rec := range records {
		if rec.Op != wal.OpBlockMutation {
			continue
		}
		mut, err := DecodeMutation(rec.Payload)
		if err != nil {
			return n, fmt.Errorf("record %d: %w", i, err)
		}
		if mut.Y < m.minY() || mut.Y >= m.maxY() {
			continue
		}
		m.mu.Lock()
		col, ok := m.columns.Get(mut.Column.key())
		if ok && col.state == Loaded {
			ly := mut.Y - m.minY()
			col.chunks[ly>>4].set(mut.X, ly&15, mut.Z, mut.Block)
		} else {
			m.overlay[mut.Column.key()] = append(m.overlay[mut.Column.key()], mut)
		}
		m.stats.MutationsReplayed++
		m.mu.Unlock()
		n++
	}
	return n, nil
}
