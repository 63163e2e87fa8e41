package system

import (
	"time"

	"github.com/oroboros/server/internal/core/event"
	coresys "github.com/oroboros/server/internal/core/system"
)

// EventDispatchSystem delivers the events emitted during the previous tick.
// Phase 1 (PreUpdate).
type EventDispatchSystem struct {
	bus       *event.Bus
	delivered uint64
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.delivered += uint64(s.bus.DispatchAll())
}

// Delivered returns the number of events handed to subscribers so far.
func (s *EventDispatchSystem) Delivered() uint64 { return s.delivered }
