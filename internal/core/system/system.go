package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain external command queues
	PhasePreUpdate               // 1: deliver last tick's events
	PhaseUpdate                  // 2: simulation (movement, economy)
	PhasePostUpdate              // 3: world streaming around the focus
	PhaseOutput                  // 4: publish the frame (buffer swap)
	PhasePersist                 // 5: chunk saves, WAL stats
	PhaseCleanup                 // 6: destroy queued entities

	phaseCount
)

var phaseNames = [...]string{"input", "pre_update", "update", "post_update", "output", "persist", "cleanup"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
