package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oroboros/server/internal/core/ecs"
	coresys "github.com/oroboros/server/internal/core/system"
)

// MovementSystem integrates velocities into positions on the write buffer.
// Phase 2 (Update).
type MovementSystem struct {
	db      *ecs.DoubleBufferedWorld
	workers int
	log     *zap.Logger
}

// NewMovementSystem integrates serially when workers <= 1.
func NewMovementSystem(db *ecs.DoubleBufferedWorld, workers int, log *zap.Logger) *MovementSystem {
	return &MovementSystem{db: db, workers: workers, log: log}
}

func (s *MovementSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *MovementSystem) Update(dt time.Duration) {
	g, err := s.db.WriteHandle()
	if err != nil {
		s.log.Warn("movement skipped", zap.Error(err))
		return
	}
	defer g.Release()

	if s.workers <= 1 {
		g.World().UpdatePositions(dt)
		return
	}
	if err := g.World().UpdatePositionsParallel(context.Background(), dt, s.workers); err != nil {
		s.log.Error("parallel movement failed", zap.Error(err))
	}
}
