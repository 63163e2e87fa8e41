package ecs

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrWriterActive is returned when a second writer asks for the write buffer,
// or when SwapBuffers runs while the write guard is still held.
var ErrWriterActive = errors.New("ecs: write handle already held")

// DefaultSyncThreshold is the dirty fraction above which a table is copied
// wholesale instead of row by row.
const DefaultSyncThreshold = 0.5

// SyncReport describes one SwapBuffers propagation.
type SyncReport struct {
	Frame       uint64
	BytesFull   int
	BytesSparse int
	MetaBytes   int // entity slots and free list
	Rows        int
	Tables      [archetypeCount]SyncStats
}

// BufferStats accumulates SyncReports over the life of the buffer.
type BufferStats struct {
	Swaps       uint64
	FullSyncs   uint64
	SparseSyncs uint64
	BytesFull   uint64
	BytesSparse uint64
	Rows        uint64
}

// DoubleBufferedWorld pairs two Worlds. The writer owns worlds[writeIndex],
// readers own the other one. SwapBuffers flips the index and brings the new
// write buffer up to date from the one just published.
type DoubleBufferedWorld struct {
	worlds     [2]*World
	writeIndex atomic.Uint32
	writing    atomic.Bool
	readers    atomic.Int32
	frame      atomic.Uint64
	threshold  float64

	// mu is held exclusively only for the duration of a swap; read guards
	// hold it shared.
	mu sync.RWMutex

	statsMu sync.Mutex
	stats   BufferStats
}

func NewDoubleBufferedWorld(cfg WorldConfig, threshold float64) *DoubleBufferedWorld {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSyncThreshold
	}
	return &DoubleBufferedWorld{
		worlds:    [2]*World{NewWorld(cfg), NewWorld(cfg)},
		threshold: threshold,
	}
}

// WriteGuard grants exclusive access to the write buffer until Release.
type WriteGuard struct {
	db    *DoubleBufferedWorld
	world *World
}

func (g *WriteGuard) World() *World { return g.world }

// Release hands the write buffer back. Calling it twice is harmless.
func (g *WriteGuard) Release() {
	if g.db == nil {
		return
	}
	g.db.writing.Store(false)
	g.db, g.world = nil, nil
}

// ReadGuard grants shared access to the read buffer until Release.
type ReadGuard struct {
	db    *DoubleBufferedWorld
	world *World
}

func (g *ReadGuard) World() *World { return g.world }

func (g *ReadGuard) Release() {
	if g.db == nil {
		return
	}
	g.db.readers.Add(-1)
	g.db.mu.RUnlock()
	g.db, g.world = nil, nil
}

// WriteHandle returns the write buffer. Only one guard may exist at a time.
func (db *DoubleBufferedWorld) WriteHandle() (*WriteGuard, error) {
	if !db.writing.CompareAndSwap(false, true) {
		return nil, ErrWriterActive
	}
	return &WriteGuard{db: db, world: db.worlds[db.writeIndex.Load()]}, nil
}

// ReadHandle returns the read buffer. Any number of readers may hold one; a
// pending swap waits for them.
func (db *DoubleBufferedWorld) ReadHandle() *ReadGuard {
	db.mu.RLock()
	db.readers.Add(1)
	return &ReadGuard{db: db, world: db.worlds[1-db.writeIndex.Load()]}
}

// SwapBuffers publishes the write buffer to readers and syncs its dirty rows
// into the buffer the writer gets next.
func (db *DoubleBufferedWorld) SwapBuffers() (SyncReport, error) {
	if !db.writing.CompareAndSwap(false, true) {
		return SyncReport{}, ErrWriterActive
	}
	defer db.writing.Store(false)

	db.mu.Lock()
	defer db.mu.Unlock()

	old := db.writeIndex.Load()
	db.writeIndex.Store(1 - old)

	r := db.worlds[1-old].syncFrom(db.worlds[old], db.threshold)
	r.Frame = db.frame.Add(1)

	db.statsMu.Lock()
	defer db.statsMu.Unlock()
	db.stats.Swaps++
	db.stats.BytesFull += uint64(r.BytesFull)
	db.stats.BytesSparse += uint64(r.BytesSparse)
	db.stats.Rows += uint64(r.Rows)
	for _, st := range r.Tables {
		switch {
		case st.Full:
			db.stats.FullSyncs++
		case st.Rows > 0:
			db.stats.SparseSyncs++
		}
	}
	return r, nil
}

func (db *DoubleBufferedWorld) FrameCount() uint64 { return db.frame.Load() }
func (db *DoubleBufferedWorld) ReaderCount() int   { return int(db.readers.Load()) }
func (db *DoubleBufferedWorld) WriteIndex() int    { return int(db.writeIndex.Load()) }
func (db *DoubleBufferedWorld) Threshold() float64 { return db.threshold }

func (db *DoubleBufferedWorld) Stats() BufferStats {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()
	return db.stats
}

// FrameSync lets a simulation goroutine and a reader goroutine agree on when a
// frame is finished on both sides.
type FrameSync struct {
	writerDone atomic.Bool
	readerDone atomic.Bool
}

func (f *FrameSync) WriterDone()   { f.writerDone.Store(true) }
func (f *FrameSync) ReaderDone()   { f.readerDone.Store(true) }
func (f *FrameSync) CanSwap() bool { return f.writerDone.Load() && f.readerDone.Load() }

// Reset starts the next frame.
func (f *FrameSync) Reset() {
	f.writerDone.Store(false)
	f.readerDone.Store(false)
}
