package world

import (
	"sync"
	"sync/atomic"
)

const (
	ChunkSize   = 16
	ChunkArea   = ChunkSize * ChunkSize
	ChunkVolume = ChunkArea * ChunkSize
)

// ChunkCoord addresses a 16³ chunk.
type ChunkCoord struct {
	X, Y, Z int32
}

// ColumnCoord addresses the vertical stack of chunks over one 16×16 footprint.
type ColumnCoord struct {
	X, Z int32
}

// floorDiv is Euclidean division by the chunk size: the quotient rounds
// toward negative infinity and the remainder is always in [0, 16).
func floorDiv(v int) (q, r int) {
	q = v >> 4
	return q, v - q<<4
}

// ChunkCoordOf returns the chunk holding world block (x, y, z).
func ChunkCoordOf(x, y, z int) ChunkCoord {
	cx, _ := floorDiv(x)
	cy, _ := floorDiv(y)
	cz, _ := floorDiv(z)
	return ChunkCoord{X: int32(cx), Y: int32(cy), Z: int32(cz)}
}

func (c ChunkCoord) Column() ColumnCoord { return ColumnCoord{X: c.X, Z: c.Z} }

// ColumnOf returns the column holding world position (x, z).
func ColumnOf(x, z float64) ColumnCoord {
	cx, _ := floorDiv(fastFloor(x))
	cz, _ := floorDiv(fastFloor(z))
	return ColumnCoord{X: int32(cx), Z: int32(cz)}
}

func (c ColumnCoord) key() int64 { return int64(c.X)<<32 | int64(uint32(c.Z)) }

func columnFromKey(k int64) ColumnCoord {
	return ColumnCoord{X: int32(k >> 32), Z: int32(uint32(k))}
}

func (c ColumnCoord) dist2(o ColumnCoord) int64 {
	dx := int64(c.X) - int64(o.X)
	dz := int64(c.Z) - int64(o.Z)
	return dx*dx + dz*dz
}

// ChunkState is the lifecycle of a column. Only Loaded columns are readable.
type ChunkState int32

const (
	Pending ChunkState = iota
	Generating
	Loaded
	Evicting
	Dropped
)

var stateNames = [...]string{"pending", "generating", "loaded", "evicting", "dropped"}

func (s ChunkState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Chunk is 16³ blocks indexed y*256 + z*16 + x.
type Chunk struct {
	Coord ChunkCoord

	mu     sync.RWMutex
	blocks [ChunkVolume]byte
	dirty  bool
}

func blockIndex(x, y, z int) int { return y*ChunkArea + z*ChunkSize + x }

func (c *Chunk) get(x, y, z int) Block {
	c.mu.RLock()
	b := Block(c.blocks[blockIndex(x, y, z)])
	c.mu.RUnlock()
	return b
}

func (c *Chunk) set(x, y, z int, b Block) {
	c.mu.Lock()
	c.blocks[blockIndex(x, y, z)] = byte(b)
	c.dirty = true
	c.mu.Unlock()
}

// Dirty reports unsaved edits.
func (c *Chunk) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// column is the unit of streaming. chunks is nil until the column is
// published; after that the slice is never replaced.
type column struct {
	coord      ColumnCoord
	state      ChunkState
	chunks     []*Chunk
	lastAccess atomic.Uint64
}

func (col *column) dirty() bool {
	for _, c := range col.chunks {
		if c.Dirty() {
			return true
		}
	}
	return false
}

// snapshot copies the column's blocks and clears the dirty flags it saw.
// If saving fails, markDirty puts them back.
func (col *column) snapshot() []byte {
	buf := make([]byte, 0, len(col.chunks)*ChunkVolume)
	for _, c := range col.chunks {
		c.mu.Lock()
		buf = append(buf, c.blocks[:]...)
		c.dirty = false
		c.mu.Unlock()
	}
	return buf
}

func (col *column) markDirty() {
	for _, c := range col.chunks {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
	}
}
