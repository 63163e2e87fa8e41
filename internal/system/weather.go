package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/oroboros/server/internal/core/system"
)

// WeatherSource computes the weather seed for a tick.
// *scripting.Engine satisfies it.
type WeatherSource interface {
	WeatherSeed(tick uint64) (uint32, error)
}

// WeatherSink receives the current weather seed. *economy.Bank satisfies it.
type WeatherSink interface {
	SetWeather(seed uint32)
}

// WeatherSystem polls the weather script and hands changes to the economy,
// whose mining hits roll loot under it. Phase 1 (PreUpdate).
type WeatherSystem struct {
	src   WeatherSource
	sink  WeatherSink
	every int
	log   *zap.Logger

	tick    uint64
	seed    uint32
	polled  bool
	failing bool
}

// NewWeatherSystem polls src every `every` ticks, and on the first tick.
func NewWeatherSystem(src WeatherSource, sink WeatherSink, every int, log *zap.Logger) *WeatherSystem {
	return &WeatherSystem{src: src, sink: sink, every: max(every, 1), log: log}
}

func (s *WeatherSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *WeatherSystem) Update(_ time.Duration) {
	tick := s.tick
	s.tick++
	if tick%uint64(s.every) != 0 {
		return
	}
	seed, err := s.src.WeatherSeed(tick)
	if err != nil {
		// Keep the last good seed; log once per failure streak.
		if !s.failing {
			s.log.Warn("weather script failed, keeping last seed",
				zap.Uint64("tick", tick), zap.Uint32("seed", s.seed), zap.Error(err))
		}
		s.failing = true
		return
	}
	s.failing = false
	if s.polled && seed == s.seed {
		return
	}
	s.seed, s.polled = seed, true
	s.sink.SetWeather(seed)
	s.log.Debug("weather changed", zap.Uint64("tick", tick), zap.Uint32("seed", seed))
}

// Seed returns the last seed handed to the sink.
func (s *WeatherSystem) Seed() uint32 { return s.seed }
