package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/oroboros/server/internal/core/ecs"
	coresys "github.com/oroboros/server/internal/core/system"
)

// CleanupSystem flushes the write buffer's deferred destruction queue at
// tick end. Phase 6 (Cleanup). The queue belongs to the buffer it was filled
// on, so an entity marked during tick N is despawned at the end of tick N+1
// and published by the swap of tick N+2.
type CleanupSystem struct {
	db  *ecs.DoubleBufferedWorld
	log *zap.Logger
}

func NewCleanupSystem(db *ecs.DoubleBufferedWorld, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{db: db, log: log}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	g, err := s.db.WriteHandle()
	if err != nil {
		s.log.Warn("cleanup skipped", zap.Error(err))
		return
	}
	defer g.Release()
	if n := g.World().FlushDestroyQueue(); n > 0 {
		s.log.Debug("entities despawned", zap.Int("count", n))
	}
}
