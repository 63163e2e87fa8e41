package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/oroboros/server/internal/core/system"
	"github.com/oroboros/server/internal/wal"
)

// ChunkSaver writes dirty chunk columns to their store.
type ChunkSaver interface {
	SaveAll() (int, error)
}

// ArchiveSyncer copies durable log records somewhere queryable.
type ArchiveSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// WALStatser exposes log throughput and health.
type WALStatser interface {
	Stats() wal.Stats
}

// PersistenceSystem periodically saves dirty chunk columns, archives the
// economy log and watches its health. Phase 5 (Persist).
type PersistenceSystem struct {
	chunks   ChunkSaver
	journal  WALStatser
	archiver ArchiveSyncer // nil when no database is configured
	log      *zap.Logger

	saveEvery    int // ticks between chunk saves, 0 = never
	archiveEvery int
	statsEvery   int
	tickCount    int

	degraded bool
	last     wal.Stats
}

// PersistenceOptions sets the intervals, in ticks, of each duty.
type PersistenceOptions struct {
	SaveEvery    int
	ArchiveEvery int
	StatsEvery   int
}

func NewPersistenceSystem(chunks ChunkSaver, w WALStatser, archiver ArchiveSyncer, opts PersistenceOptions, log *zap.Logger) *PersistenceSystem {
	return &PersistenceSystem{
		chunks:       chunks,
		journal:      w,
		archiver:     archiver,
		log:          log,
		saveEvery:    opts.SaveEvery,
		archiveEvery: opts.ArchiveEvery,
		statsEvery:   opts.StatsEvery,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	s.checkWAL()
	if due(s.tickCount, s.saveEvery) {
		s.saveChunks()
	}
	if s.archiver != nil && due(s.tickCount, s.archiveEvery) {
		s.archive()
	}
}

func due(tick, every int) bool { return every > 0 && tick%every == 0 }

// Flush saves every dirty column and archives whatever the log has made
// durable. Called on graceful shutdown.
func (s *PersistenceSystem) Flush() {
	s.saveChunks()
	if s.archiver != nil {
		s.archive()
	}
}

// LastStats returns the WAL stats sampled on the most recent tick.
func (s *PersistenceSystem) LastStats() wal.Stats { return s.last }

func (s *PersistenceSystem) checkWAL() {
	if s.journal == nil {
		return
	}
	st := s.journal.Stats()
	if st.Degraded && !s.degraded {
		s.log.Error("economy log degraded, mutations are being refused",
			zap.Uint64("write_errors", st.Errors),
			zap.Uint64("last_batch", st.LastBatchID))
	}
	s.degraded = st.Degraded
	if due(s.tickCount, s.statsEvery) {
		s.log.Info("wal stats",
			zap.Uint64("batches", st.Batches-s.last.Batches),
			zap.Uint64("records", st.Records-s.last.Records),
			zap.Float64("avg_batch", st.AvgBatchSize),
			zap.Float64("avg_sync_us", st.AvgSyncMicros),
			zap.Uint64("rejected", st.Rejected))
	}
	s.last = st
}

func (s *PersistenceSystem) saveChunks() {
	if s.chunks == nil {
		return
	}
	n, err := s.chunks.SaveAll()
	if err != nil {
		s.log.Error("chunk save failed", zap.Int("saved", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("chunks saved", zap.Int("columns", n))
	}
}

func (s *PersistenceSystem) archive() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := s.archiver.Sync(ctx)
	if err != nil {
		s.log.Error("wal archive failed", zap.Int("archived", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Debug("wal archived", zap.Int("records", n))
	}
}
