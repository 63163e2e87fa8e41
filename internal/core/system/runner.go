package system

import (
	"slices"
	"time"
)

// Runner executes systems in phase order each tick. Systems sharing a phase
// keep their registration order.
type Runner struct {
	systems []System
	sorted  bool

	ticks    uint64
	last     time.Duration
	slowest  time.Duration
	phaseDur [phaseCount]time.Duration
}

func NewRunner() *Runner {
	return &Runner{systems: make([]System, 0, 8)}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

func (r *Runner) Len() int { return len(r.systems) }

// Ticks returns how many full ticks have run.
func (r *Runner) Ticks() uint64 { return r.ticks }

// Tick runs every system once and returns the wall time it took.
func (r *Runner) Tick(dt time.Duration) time.Duration {
	r.ensureSorted()
	start := time.Now()
	mark := start
	for _, s := range r.systems {
		s.Update(dt)
		if p := s.Phase(); p >= 0 && p < phaseCount {
			now := time.Now()
			r.phaseDur[p] += now.Sub(mark)
			mark = now
		}
	}
	r.last = time.Since(start)
	r.slowest = max(r.slowest, r.last)
	r.ticks++
	return r.last
}

// TickPhase runs only the systems of one phase. It is not counted as a tick.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(dt)
		}
	}
}

// Timings reports the last and slowest tick and the time spent in each
// phase over all ticks.
type Timings struct {
	Last    time.Duration
	Slowest time.Duration
	Phases  map[Phase]time.Duration
}

func (r *Runner) Timings() Timings {
	t := Timings{Last: r.last, Slowest: r.slowest, Phases: make(map[Phase]time.Duration)}
	for p, d := range r.phaseDur {
		if d > 0 {
			t.Phases[Phase(p)] = d
		}
	}
	return t
}

func (r *Runner) ensureSorted() {
	if r.sorted {
		return
	}
	slices.SortStableFunc(r.systems, func(a, b System) int { return int(a.Phase() - b.Phase()) })
	r.sorted = true
}
