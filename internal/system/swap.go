package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/oroboros/server/internal/core/ecs"
	coresys "github.com/oroboros/server/internal/core/system"
)

// SwapSystem publishes the frame to readers. Phase 4 (Output).
type SwapSystem struct {
	db   *ecs.DoubleBufferedWorld
	log  *zap.Logger
	last ecs.SyncReport
}

func NewSwapSystem(db *ecs.DoubleBufferedWorld, log *zap.Logger) *SwapSystem {
	return &SwapSystem{db: db, log: log}
}

func (s *SwapSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *SwapSystem) Update(_ time.Duration) {
	r, err := s.db.SwapBuffers()
	if err != nil {
		// A writer still holds the buffer; readers keep the previous frame.
		s.log.Warn("buffer swap skipped", zap.Error(err))
		return
	}
	s.last = r
}

// Last returns the report of the most recent successful swap.
func (s *SwapSystem) Last() ecs.SyncReport { return s.last }
