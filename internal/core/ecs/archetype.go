package ecs

import "github.com/kamstrup/intmap"

// Archetype names one of the fixed tables of a World.
type Archetype uint8

const (
	ArchetypePV    Archetype = iota // Position + Velocity: movable entities
	ArchetypeP                      // Position only: static props
	ArchetypeVoxel                  // Position + Voxel: placed blocks
	archetypeCount
)

var archetypeNames = [archetypeCount]string{"pv", "p", "voxel"}

func (a Archetype) String() string {
	if a < archetypeCount {
		return archetypeNames[a]
	}
	return "unknown"
}

// Signature returns the component mask every entity of the archetype carries.
func (a Archetype) Signature() ComponentMask {
	switch a {
	case ArchetypePV:
		return MaskOf(PositionID, VelocityID)
	case ArchetypeP:
		return MaskOf(PositionID)
	case ArchetypeVoxel:
		return MaskOf(PositionID, VoxelID)
	}
	return 0
}

// Table is a columnar store for one archetype. Columns absent from the
// signature stay nil. All slices are allocated at construction.
type Table struct {
	kind      Archetype
	signature ComponentMask
	len       int

	entities   []EntityID
	positions  []Position
	velocities []Velocity
	voxels     []Voxel

	// index maps entity index to row.
	index *intmap.Map[uint32, uint32]
	// removed holds entity indices despawned since the last sync. When it
	// overflows, reindex asks the next sync to rebuild the peer index.
	removed []uint32
	reindex bool

	dirty DirtyTracker
}

func newTable(kind Archetype, capacity int) *Table {
	t := &Table{
		kind:      kind,
		signature: kind.Signature(),
		entities:  make([]EntityID, capacity),
		positions: make([]Position, capacity),
		index:     intmap.New[uint32, uint32](capacity),
		removed:   make([]uint32, 0, capacity),
		dirty:     NewDirtyTracker(capacity),
	}
	if t.signature.Has(VelocityID) {
		t.velocities = make([]Velocity, capacity)
	}
	if t.signature.Has(VoxelID) {
		t.voxels = make([]Voxel, capacity)
	}
	return t
}

func (t *Table) Kind() Archetype          { return t.kind }
func (t *Table) Signature() ComponentMask { return t.signature }
func (t *Table) Len() int                 { return t.len }
func (t *Table) Cap() int                 { return len(t.entities) }
func (t *Table) Dirty() *DirtyTracker     { return &t.dirty }

// Entities, Positions, Velocities and Voxels expose the live prefix of each
// column. Callers must not retain them across a swap.
func (t *Table) Entities() []EntityID   { return t.entities[:t.len] }
func (t *Table) Positions() []Position  { return t.positions[:t.len] }
func (t *Table) Velocities() []Velocity { return t.velocities[:min(t.len, len(t.velocities))] }
func (t *Table) Voxels() []Voxel        { return t.voxels[:min(t.len, len(t.voxels))] }

// RowBytes is the number of bytes one row occupies across all columns.
func (t *Table) RowBytes() int {
	n := entityIDBytes + positionBytes
	if t.velocities != nil {
		n += velocityBytes
	}
	if t.voxels != nil {
		n += voxelBytes
	}
	return n
}

// Row returns the row of a live entity in this table.
func (t *Table) Row(id EntityID) (int, bool) {
	r, ok := t.index.Get(id.Index())
	if !ok || int(r) >= t.len || t.entities[r] != id {
		return 0, false
	}
	return int(r), true
}

func (t *Table) full() bool { return t.len == len(t.entities) }

func (t *Table) push(id EntityID, pos Position) int {
	row := t.len
	t.entities[row] = id
	t.positions[row] = pos
	if t.velocities != nil {
		t.velocities[row] = Velocity{}
	}
	if t.voxels != nil {
		t.voxels[row] = Voxel{}
	}
	t.index.Put(id.Index(), uint32(row))
	t.len++
	t.dirty.Mark(row)
	return row
}

// swapRemove deletes row by moving the last row into it. It returns the
// entity that moved, or NullEntity when row was already last.
func (t *Table) swapRemove(row int) EntityID {
	gone := t.entities[row]
	last := t.len - 1
	moved := NullEntity
	if row != last {
		moved = t.entities[last]
		t.entities[row] = moved
		t.positions[row] = t.positions[last]
		if t.velocities != nil {
			t.velocities[row] = t.velocities[last]
		}
		if t.voxels != nil {
			t.voxels[row] = t.voxels[last]
		}
		t.index.Put(moved.Index(), uint32(row))
	}
	t.index.Del(gone.Index())
	if len(t.removed) < cap(t.removed) {
		t.removed = append(t.removed, gone.Index())
	} else {
		t.reindex = true
	}
	t.len--
	t.dirty.Mark(row)
	return moved
}

// SyncStats reports how one table was propagated.
type SyncStats struct {
	Full        bool
	BytesFull   int
	BytesSparse int
	Rows        int
}

// syncFrom propagates src's dirty rows into t. When the dirty fraction of
// src's live rows exceeds threshold, whole column prefixes are copied;
// otherwise only dirty rows are. src's dirty state is cleared afterwards.
func (t *Table) syncFrom(src *Table, threshold float64) SyncStats {
	var st SyncStats
	if src.reindex {
		t.copyFrom(src)
		src.resetTracking()
		st.Full = true
		st.Rows = t.len
		st.BytesFull = t.len * src.RowBytes()
		return st
	}
	for _, idx := range src.removed {
		t.index.Del(idx)
	}
	src.removed = src.removed[:0]

	if src.dirty.Count() == 0 {
		t.len = src.len
		return st
	}

	rowBytes := src.RowBytes()
	if src.dirty.Ratio(src.len) > threshold {
		n := src.len
		copy(t.entities[:n], src.entities[:n])
		copy(t.positions[:n], src.positions[:n])
		if t.velocities != nil {
			copy(t.velocities[:n], src.velocities[:n])
		}
		if t.voxels != nil {
			copy(t.voxels[:n], src.voxels[:n])
		}
		src.dirty.Each(func(row int) {
			if row < n {
				t.index.Put(src.entities[row].Index(), uint32(row))
			}
		})
		st.Full = true
		st.Rows = n
		st.BytesFull = n * rowBytes
	} else {
		src.dirty.Each(func(row int) {
			if row >= src.len {
				return // vacated by a swap-remove
			}
			id := src.entities[row]
			t.entities[row] = id
			t.positions[row] = src.positions[row]
			if t.velocities != nil {
				t.velocities[row] = src.velocities[row]
			}
			if t.voxels != nil {
				t.voxels[row] = src.voxels[row]
			}
			t.index.Put(id.Index(), uint32(row))
			st.Rows++
		})
		st.BytesSparse = st.Rows * rowBytes
	}
	t.len = src.len
	src.dirty.Clear()
	return st
}

// copyFrom overwrites t with src wholesale.
func (t *Table) copyFrom(src *Table) {
	n := src.len
	copy(t.entities, src.entities[:n])
	copy(t.positions, src.positions[:n])
	if t.velocities != nil {
		copy(t.velocities, src.velocities[:n])
	}
	if t.voxels != nil {
		copy(t.voxels, src.voxels[:n])
	}
	t.index.Clear()
	for row := 0; row < n; row++ {
		t.index.Put(src.entities[row].Index(), uint32(row))
	}
	t.len = n
	t.resetTracking()
}

func (t *Table) resetTracking() {
	t.removed = t.removed[:0]
	t.reindex = false
	t.dirty.Clear()
}
