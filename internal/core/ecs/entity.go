package ecs

import "math"

// EntityID encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on every slot reuse so stale ids
// stop resolving.
type EntityID uint64

// NullEntity is returned when a spawn cannot be satisfied.
const NullEntity EntityID = math.MaxUint64

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsNull() bool       { return id == NullEntity }

// slot is the per-index record. Generation 0 means the slot was never used.
type slot struct {
	generation uint32
	row        uint32
	mask       ComponentMask
	table      Archetype
	alive      bool
}

// EntityPool manages entity allocation with generational indices and a free
// list. Everything is sized at construction; Create never grows a slice.
type EntityPool struct {
	slots    []slot
	freeList []uint32
	freeLen  int

	// dirty tracks slots whose metadata changed since the last sync, and
	// freeLow is the lowest free-list depth touched in the same window.
	dirty   DirtyTracker
	freeLow int
}

func NewEntityPool(capacity int) *EntityPool {
	p := &EntityPool{
		slots:    make([]slot, capacity),
		freeList: make([]uint32, capacity),
		freeLen:  capacity,
		dirty:    NewDirtyTracker(capacity),
	}
	// Lowest index on top so ids come out 0, 1, 2, ...
	for i := 0; i < capacity; i++ {
		p.freeList[i] = uint32(capacity - 1 - i)
	}
	p.freeLow = capacity
	return p
}

func (p *EntityPool) Capacity() int { return len(p.slots) }

// Live returns the number of live entities.
func (p *EntityPool) Live() int { return len(p.slots) - p.freeLen }

// create pops a free slot and bumps its generation. The second result is
// false when the pool is exhausted.
func (p *EntityPool) create(table Archetype, mask ComponentMask, row uint32) (EntityID, bool) {
	if p.freeLen == 0 {
		return NullEntity, false
	}
	p.freeLen--
	if p.freeLen < p.freeLow {
		p.freeLow = p.freeLen
	}
	idx := p.freeList[p.freeLen]
	s := &p.slots[idx]
	s.generation++
	if s.generation == 0 {
		s.generation = 1 // wrapped; 0 stays reserved
	}
	s.alive = true
	s.mask = mask
	s.table = table
	s.row = row
	p.dirty.Mark(int(idx))
	return NewEntityID(idx, s.generation), true
}

func (p *EntityPool) Alive(id EntityID) bool {
	if id.IsNull() {
		return false
	}
	idx := id.Index()
	if int(idx) >= len(p.slots) {
		return false
	}
	s := &p.slots[idx]
	return s.alive && s.generation == id.Generation()
}

// lookup resolves a live id to its slot.
func (p *EntityPool) lookup(id EntityID) (*slot, bool) {
	if !p.Alive(id) {
		return nil, false
	}
	return &p.slots[id.Index()], true
}

func (p *EntityPool) destroy(id EntityID) bool {
	s, ok := p.lookup(id)
	if !ok {
		return false
	}
	s.alive = false
	s.mask = 0
	idx := id.Index()
	p.freeList[p.freeLen] = idx
	p.freeLen++
	p.dirty.Mark(int(idx))
	return true
}

func (p *EntityPool) setRow(idx uint32, row uint32) {
	p.slots[idx].row = row
	p.dirty.Mark(int(idx))
}

// syncFrom copies every slot and free-list entry changed in src since its
// last sync. Returns the number of bytes moved.
func (p *EntityPool) syncFrom(src *EntityPool) int {
	const slotBytes = 24
	n := 0
	src.dirty.Each(func(i int) {
		p.slots[i] = src.slots[i]
		n += slotBytes
	})
	if src.freeLow < src.freeLen {
		copy(p.freeList[src.freeLow:src.freeLen], src.freeList[src.freeLow:src.freeLen])
		n += (src.freeLen - src.freeLow) * 4
	}
	p.freeLen = src.freeLen
	p.freeLow = p.freeLen
	src.dirty.Clear()
	src.freeLow = src.freeLen
	return n
}
