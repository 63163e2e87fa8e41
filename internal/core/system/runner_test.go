package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase           { return r.phase }
func (r recorder) Update(_ time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerOrdersByPhase(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"cleanup", PhaseCleanup, &log})
	r.Register(recorder{"move", PhaseUpdate, &log})
	r.Register(recorder{"swap", PhaseOutput, &log})
	r.Register(recorder{"economy", PhaseUpdate, &log})
	r.Register(recorder{"events", PhasePreUpdate, &log})

	r.Tick(time.Millisecond)
	require.Equal(t, []string{"events", "move", "economy", "swap", "cleanup"}, log)
	require.Equal(t, uint64(1), r.Ticks())

	log = log[:0]
	r.TickPhase(PhaseUpdate, time.Millisecond)
	require.Equal(t, []string{"move", "economy"}, log)
	require.Equal(t, uint64(1), r.Ticks())
}

func TestPhaseString(t *testing.T) {
	require.Equal(t, "persist", PhasePersist.String())
	require.Equal(t, "unknown", Phase(42).String())
}

type sleeper struct {
	phase Phase
	d     time.Duration
}

func (s sleeper) Phase() Phase           { return s.phase }
func (s sleeper) Update(_ time.Duration) { time.Sleep(s.d) }

func TestRunnerTimings(t *testing.T) {
	r := NewRunner()
	r.Register(sleeper{PhaseUpdate, 2 * time.Millisecond})
	r.Register(sleeper{PhasePersist, 0})

	took := r.Tick(time.Millisecond)
	require.GreaterOrEqual(t, took, 2*time.Millisecond)

	tm := r.Timings()
	require.Equal(t, took, tm.Last)
	require.Equal(t, took, tm.Slowest)
	require.GreaterOrEqual(t, tm.Phases[PhaseUpdate], 2*time.Millisecond)
	require.NotContains(t, tm.Phases, PhaseInput)
}
