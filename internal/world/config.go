package world

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("world: invalid config")

// ManagerConfig bounds streaming and shapes terrain. Radii are in columns.
type ManagerConfig struct {
	Seed             WorldSeed
	ViewRadius       int
	UnloadRadius     int
	MaxLoadedChunks  int
	PerTickGenBudget int
	WorkerThreads    int

	SeaLevel  int
	MinHeight int
	MaxHeight int
	MinChunkY int
	MaxChunkY int
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Seed:             DefaultSeed,
		ViewRadius:       4,
		UnloadRadius:     6,
		MaxLoadedChunks:  4096,
		PerTickGenBudget: 8,
		WorkerThreads:    4,
		SeaLevel:         64,
		MinHeight:        32,
		MaxHeight:        160,
		MinChunkY:        0,
		MaxChunkY:        15,
	}
}

func (c ManagerConfig) chunksPerColumn() int { return c.MaxChunkY - c.MinChunkY + 1 }

// Validate checks the radii, budgets and the vertical layout. Trees need a
// few blocks of headroom above MaxHeight.
func (c ManagerConfig) Validate() error {
	switch {
	case c.ViewRadius < 0:
		return fmt.Errorf("view_radius %d: %w", c.ViewRadius, ErrInvalidConfig)
	case c.UnloadRadius < c.ViewRadius:
		return fmt.Errorf("unload_radius %d below view_radius %d: %w", c.UnloadRadius, c.ViewRadius, ErrInvalidConfig)
	case c.PerTickGenBudget < 1:
		return fmt.Errorf("per_tick_gen_budget %d: %w", c.PerTickGenBudget, ErrInvalidConfig)
	case c.WorkerThreads < 1:
		return fmt.Errorf("worker_threads %d: %w", c.WorkerThreads, ErrInvalidConfig)
	case c.MinChunkY < 0 || c.MaxChunkY < c.MinChunkY || c.MaxChunkY > 15:
		return fmt.Errorf("chunk y range [%d, %d]: %w", c.MinChunkY, c.MaxChunkY, ErrInvalidConfig)
	case c.MaxLoadedChunks < c.chunksPerColumn():
		return fmt.Errorf("max_loaded_chunks %d below one column: %w", c.MaxLoadedChunks, ErrInvalidConfig)
	case c.MinHeight < 3 || c.MinHeight > c.SeaLevel || c.SeaLevel > c.MaxHeight:
		return fmt.Errorf("heights min=%d sea=%d max=%d: %w", c.MinHeight, c.SeaLevel, c.MaxHeight, ErrInvalidConfig)
	case c.MinChunkY*ChunkSize > c.MinHeight:
		return fmt.Errorf("min_height %d below stored range: %w", c.MinHeight, ErrInvalidConfig)
	case c.MaxHeight+10 > (c.MaxChunkY+1)*ChunkSize:
		return fmt.Errorf("max_height %d leaves no headroom below y=%d: %w", c.MaxHeight, (c.MaxChunkY+1)*ChunkSize, ErrInvalidConfig)
	}
	return nil
}
