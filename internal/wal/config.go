package wal

import (
	"fmt"
	"strings"
	"time"
)

// Backpressure decides what Append does when the staging ring is full.
type Backpressure int

const (
	// Block waits until the flusher frees a slot.
	Block Backpressure = iota
	// Flush asks the flusher to cut the current batch now, then waits.
	Flush
	// Reject fails immediately with ErrBusy.
	Reject
)

func (b Backpressure) String() string {
	switch b {
	case Block:
		return "block"
	case Flush:
		return "flush"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("backpressure(%d)", int(b))
}

func (b *Backpressure) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "block", "":
		*b = Block
	case "flush":
		*b = Flush
	case "reject":
		*b = Reject
	default:
		return fmt.Errorf("backpressure %q: %w", text, ErrInvalidConfig)
	}
	return nil
}

func (b Backpressure) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

type Config struct {
	MaxBatchSize   int           `toml:"max_batch_size"`
	MaxBatchDelay  time.Duration `toml:"max_batch_delay"`
	RingBufferSize int           `toml:"ring_buffer_size"`
	Backpressure   Backpressure  `toml:"backpressure"`
	// MaxRetries is how many extra attempts a failed batch write gets before
	// the WAL degrades.
	MaxRetries   int           `toml:"max_retries"`
	RetryBackoff time.Duration `toml:"retry_backoff"`
	// SlotBytes is the payload capacity pre-allocated per ring slot. Larger
	// payloads still fit; the slot grows once.
	SlotBytes int `toml:"slot_bytes"`
}

// DefaultConfig favours latency: small batches, short delay.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   100,
		MaxBatchDelay:  10 * time.Millisecond,
		RingBufferSize: 10000,
		Backpressure:   Block,
		MaxRetries:     3,
		RetryBackoff:   time.Millisecond,
		SlotBytes:      128,
	}
}

// ProductionConfig is tuned for sustained throughput on a dedicated disk.
func ProductionConfig() Config {
	c := DefaultConfig()
	c.MaxBatchSize = 200
	c.MaxBatchDelay = 8 * time.Millisecond
	c.RingBufferSize = 30000
	return c
}

func (c Config) Validate() error {
	switch {
	case c.MaxBatchSize <= 0:
		return fmt.Errorf("max_batch_size %d: %w", c.MaxBatchSize, ErrInvalidConfig)
	case c.MaxBatchDelay <= 0:
		return fmt.Errorf("max_batch_delay %s: %w", c.MaxBatchDelay, ErrInvalidConfig)
	case c.RingBufferSize < c.MaxBatchSize:
		return fmt.Errorf("ring_buffer_size %d below max_batch_size %d: %w",
			c.RingBufferSize, c.MaxBatchSize, ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries %d: %w", c.MaxRetries, ErrInvalidConfig)
	case c.Backpressure < Block || c.Backpressure > Reject:
		return fmt.Errorf("%s: %w", c.Backpressure, ErrInvalidConfig)
	}
	return nil
}
