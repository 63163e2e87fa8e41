package ecs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrInvalidCapacity = errors.New("ecs: invalid capacity")

// WorldConfig sizes every table up front.
type WorldConfig struct {
	PVCapacity    int
	PCapacity     int
	VoxelCapacity int
}

func (c WorldConfig) Validate() error {
	if c.PVCapacity < 0 || c.PCapacity < 0 || c.VoxelCapacity < 0 {
		return fmt.Errorf("negative table size: %w", ErrInvalidCapacity)
	}
	if c.PVCapacity+c.PCapacity+c.VoxelCapacity == 0 {
		return fmt.Errorf("all tables empty: %w", ErrInvalidCapacity)
	}
	return nil
}

func (c WorldConfig) total() int { return c.PVCapacity + c.PCapacity + c.VoxelCapacity }

// World is the top-level ECS container. It owns the entity pool, one table per
// archetype, and a deferred destruction queue flushed by CleanupSystem.
type World struct {
	cfg          WorldConfig
	pool         *EntityPool
	tables       [archetypeCount]*Table
	destroyQueue []EntityID
}

func NewWorld(cfg WorldConfig) *World {
	w := &World{
		cfg:          cfg,
		pool:         NewEntityPool(cfg.total()),
		destroyQueue: make([]EntityID, 0, cfg.total()),
	}
	w.tables[ArchetypePV] = newTable(ArchetypePV, cfg.PVCapacity)
	w.tables[ArchetypeP] = newTable(ArchetypeP, cfg.PCapacity)
	w.tables[ArchetypeVoxel] = newTable(ArchetypeVoxel, cfg.VoxelCapacity)
	return w
}

func (w *World) Config() WorldConfig      { return w.cfg }
func (w *World) Pool() *EntityPool        { return w.pool }
func (w *World) Table(a Archetype) *Table { return w.tables[a] }
func (w *World) Len() int                 { return w.pool.Live() }
func (w *World) IsAlive(id EntityID) bool { return w.pool.Alive(id) }
func (w *World) Mask(id EntityID) ComponentMask {
	if s, ok := w.pool.lookup(id); ok {
		return s.mask
	}
	return 0
}

func (w *World) spawn(a Archetype, pos Position) (EntityID, int) {
	t := w.tables[a]
	if t.full() {
		return NullEntity, 0
	}
	id, ok := w.pool.create(a, t.signature, uint32(t.len))
	if !ok {
		return NullEntity, 0
	}
	return id, t.push(id, pos)
}

// SpawnPV adds a movable entity. Returns NullEntity when the PV table is full.
func (w *World) SpawnPV(pos Position, vel Velocity) EntityID {
	id, row := w.spawn(ArchetypePV, pos)
	if !id.IsNull() {
		w.tables[ArchetypePV].velocities[row] = vel
	}
	return id
}

// SpawnP adds a static entity. Returns NullEntity when the P table is full.
func (w *World) SpawnP(pos Position) EntityID {
	id, _ := w.spawn(ArchetypeP, pos)
	return id
}

// SpawnVoxel adds a placed block entity.
func (w *World) SpawnVoxel(pos Position, v Voxel) EntityID {
	id, row := w.spawn(ArchetypeVoxel, pos)
	if !id.IsNull() {
		w.tables[ArchetypeVoxel].voxels[row] = v
	}
	return id
}

// Despawn removes a live entity. Returns false for null or stale ids.
func (w *World) Despawn(id EntityID) bool {
	s, ok := w.pool.lookup(id)
	if !ok {
		return false
	}
	t := w.tables[s.table]
	row := int(s.row)
	if !w.pool.destroy(id) {
		return false
	}
	if moved := t.swapRemove(row); !moved.IsNull() {
		w.pool.setRow(moved.Index(), uint32(row))
	}
	return true
}

// locate resolves a live id to its table and row.
func (w *World) locate(id EntityID) (*Table, int, bool) {
	s, ok := w.pool.lookup(id)
	if !ok {
		return nil, 0, false
	}
	return w.tables[s.table], int(s.row), true
}

func (w *World) Position(id EntityID) (Position, bool) {
	t, row, ok := w.locate(id)
	if !ok {
		return Position{}, false
	}
	return t.positions[row], true
}

func (w *World) Velocity(id EntityID) (Velocity, bool) {
	t, row, ok := w.locate(id)
	if !ok || t.velocities == nil {
		return Velocity{}, false
	}
	return t.velocities[row], true
}

func (w *World) Voxel(id EntityID) (Voxel, bool) {
	t, row, ok := w.locate(id)
	if !ok || t.voxels == nil {
		return Voxel{}, false
	}
	return t.voxels[row], true
}

func (w *World) SetPosition(id EntityID, p Position) bool {
	t, row, ok := w.locate(id)
	if !ok {
		return false
	}
	t.positions[row] = p
	t.dirty.Mark(row)
	return true
}

func (w *World) SetVelocity(id EntityID, v Velocity) bool {
	t, row, ok := w.locate(id)
	if !ok || t.velocities == nil {
		return false
	}
	t.velocities[row] = v
	t.dirty.Mark(row)
	return true
}

// UpdatePositions integrates p += v*dt over the PV table.
func (w *World) UpdatePositions(dt time.Duration) {
	t := w.tables[ArchetypePV]
	integrate(t.positions[:t.len], t.velocities[:t.len], float32(dt.Seconds()))
	t.dirty.MarkRange(t.len)
}

// UpdatePositionsParallel splits the PV table into contiguous ranges and
// integrates them concurrently. Spawn and despawn must not run meanwhile.
func (w *World) UpdatePositionsParallel(ctx context.Context, dt time.Duration, workers int) error {
	t := w.tables[ArchetypePV]
	n := t.len
	if workers <= 1 || n < 4096 {
		w.UpdatePositions(dt)
		return nil
	}
	step := float32(dt.Seconds())
	chunk := (n + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			integrate(t.positions[lo:hi], t.velocities[lo:hi], step)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	t.dirty.MarkRange(n)
	return nil
}

func integrate(ps []Position, vs []Velocity, dt float32) {
	vs = vs[:len(ps)]
	for i := range ps {
		ps[i].X += vs[i].X * dt
		ps[i].Y += vs[i].Y * dt
		ps[i].Z += vs[i].Z * dt
	}
}

// EachPV calls fn for every movable entity in row order.
func (w *World) EachPV(fn func(EntityID, *Position, *Velocity)) {
	t := w.tables[ArchetypePV]
	for i := 0; i < t.len; i++ {
		fn(t.entities[i], &t.positions[i], &t.velocities[i])
	}
}

// EachP calls fn for every static entity in row order.
func (w *World) EachP(fn func(EntityID, *Position)) {
	t := w.tables[ArchetypeP]
	for i := 0; i < t.len; i++ {
		fn(t.entities[i], &t.positions[i])
	}
}

// ClearDirty resets every table's dirty tracking without syncing.
func (w *World) ClearDirty() {
	for _, t := range w.tables {
		t.resetTracking()
	}
	w.pool.dirty.Clear()
	w.pool.freeLow = w.pool.freeLen
}

// MarkForDestruction queues an entity for end-of-tick cleanup.
func (w *World) MarkForDestruction(id EntityID) {
	if len(w.destroyQueue) < cap(w.destroyQueue) {
		w.destroyQueue = append(w.destroyQueue, id)
	}
}

// FlushDestroyQueue despawns all queued entities. Stale entries are skipped.
// Called by CleanupSystem at the end of each tick.
func (w *World) FlushDestroyQueue() int {
	n := 0
	for _, id := range w.destroyQueue {
		if w.Despawn(id) {
			n++
		}
	}
	w.destroyQueue = w.destroyQueue[:0]
	return n
}

// syncFrom propagates src's changes into w and clears src's tracking.
func (w *World) syncFrom(src *World, threshold float64) SyncReport {
	var r SyncReport
	r.MetaBytes = w.pool.syncFrom(src.pool)
	for a := Archetype(0); a < archetypeCount; a++ {
		st := w.tables[a].syncFrom(src.tables[a], threshold)
		r.Tables[a] = st
		r.BytesFull += st.BytesFull
		r.BytesSparse += st.BytesSparse
		r.Rows += st.Rows
	}
	return r
}
