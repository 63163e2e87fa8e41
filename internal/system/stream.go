package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oroboros/server/internal/core/ecs"
	coresys "github.com/oroboros/server/internal/core/system"
	"github.com/oroboros/server/internal/world"
)

// FocusFunc reports the world position chunks stream around. ok is false
// when there is nothing to follow.
type FocusFunc func() (x, z float64, ok bool)

// EntityFocus follows an entity's published position. It reads the read
// buffer, so the focus trails the simulation by one frame.
func EntityFocus(db *ecs.DoubleBufferedWorld, id ecs.EntityID) FocusFunc {
	return func() (float64, float64, bool) {
		g := db.ReadHandle()
		defer g.Release()
		p, ok := g.World().Position(id)
		return float64(p.X), float64(p.Z), ok
	}
}

// WorldStreamSystem moves the chunk manager's focus and materializes this
// tick's share of the generation queue. Phase 3 (PostUpdate).
type WorldStreamSystem struct {
	ctx   context.Context
	mgr   *world.Manager
	focus FocusFunc
	log   *zap.Logger
}

// NewWorldStreamSystem stops generating new columns once ctx is done.
func NewWorldStreamSystem(ctx context.Context, mgr *world.Manager, focus FocusFunc, log *zap.Logger) *WorldStreamSystem {
	return &WorldStreamSystem{ctx: ctx, mgr: mgr, focus: focus, log: log}
}

func (s *WorldStreamSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *WorldStreamSystem) Update(_ time.Duration) {
	x, z, ok := s.focus()
	if !ok {
		return
	}
	s.mgr.Update(x, z)
	if n := s.mgr.FlushGenerationQueue(s.ctx); n > 0 {
		s.log.Debug("columns materialized",
			zap.Int("count", n),
			zap.Float64("x", x),
			zap.Float64("z", z),
			zap.Int("pending", s.mgr.Stats().Pending))
	}
}
