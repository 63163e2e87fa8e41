package ecs

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWorld(pv, p int) *World {
	return NewWorld(WorldConfig{PVCapacity: pv, PCapacity: p, VoxelCapacity: 8})
}

func TestEntityIDLayout(t *testing.T) {
	id := NewEntityID(7, 3)
	require.Equal(t, uint32(7), id.Index())
	require.Equal(t, uint32(3), id.Generation())
	require.False(t, id.IsNull())
	require.True(t, NullEntity.IsNull())
	require.Equal(t, uint32(0xFFFFFFFF), NullEntity.Index())
}

func TestSpawnFirstGenerationIsOne(t *testing.T) {
	w := newTestWorld(4, 4)
	id := w.SpawnPV(Position{X: 1}, Velocity{X: 2})
	require.Equal(t, uint32(0), id.Index())
	require.Equal(t, uint32(1), id.Generation())
	require.True(t, w.IsAlive(id))
	require.Equal(t, ArchetypePV.Signature(), w.Mask(id))
}

func TestSpawnReportsCapacity(t *testing.T) {
	w := newTestWorld(2, 1)
	require.False(t, w.SpawnPV(Position{}, Velocity{}).IsNull())
	require.False(t, w.SpawnPV(Position{}, Velocity{}).IsNull())
	require.True(t, w.SpawnPV(Position{}, Velocity{}).IsNull())

	require.False(t, w.SpawnP(Position{}).IsNull())
	require.True(t, w.SpawnP(Position{}).IsNull())
	require.Equal(t, 3, w.Len())
}

func TestDespawnThenRespawnBumpsGeneration(t *testing.T) {
	w := newTestWorld(4, 0)
	a := w.SpawnPV(Position{}, Velocity{})
	require.True(t, w.Despawn(a))
	require.False(t, w.IsAlive(a))
	require.False(t, w.Despawn(a), "stale id must be rejected")

	b := w.SpawnPV(Position{}, Velocity{})
	require.Equal(t, a.Index(), b.Index())
	require.Equal(t, a.Generation()+1, b.Generation())
	require.False(t, w.IsAlive(a))
	require.True(t, w.IsAlive(b))

	_, ok := w.Position(a)
	require.False(t, ok)
	require.False(t, w.SetPosition(a, Position{X: 9}))
	require.False(t, w.Despawn(NullEntity))
}

func TestDespawnSwapRemoveKeepsIndex(t *testing.T) {
	w := newTestWorld(8, 0)
	ids := make([]EntityID, 5)
	for i := range ids {
		ids[i] = w.SpawnPV(Position{X: float32(i)}, Velocity{Y: float32(i)})
	}
	require.True(t, w.Despawn(ids[1]))

	tbl := w.Table(ArchetypePV)
	require.Equal(t, 4, tbl.Len())
	// The last entity moved into row 1.
	row, ok := tbl.Row(ids[4])
	require.True(t, ok)
	require.Equal(t, 1, row)
	require.True(t, tbl.Dirty().IsDirty(1))

	for _, i := range []int{0, 2, 3, 4} {
		p, ok := w.Position(ids[i])
		require.True(t, ok)
		require.Equal(t, float32(i), p.X)
		v, ok := w.Velocity(ids[i])
		require.True(t, ok)
		require.Equal(t, float32(i), v.Y)
	}
}

func TestAliveAfterSpawnProperty(t *testing.T) {
	w := newTestWorld(64, 64)
	rng := rand.New(rand.NewSource(7))
	var live []EntityID
	var dead []EntityID

	for step := 0; step < 5000; step++ {
		switch {
		case len(live) > 0 && rng.Intn(3) == 0:
			i := rng.Intn(len(live))
			id := live[i]
			require.True(t, w.Despawn(id))
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			dead = append(dead, id)
		case rng.Intn(2) == 0:
			if id := w.SpawnPV(Position{}, Velocity{}); !id.IsNull() {
				live = append(live, id)
			}
		default:
			if id := w.SpawnP(Position{}); !id.IsNull() {
				live = append(live, id)
			}
		}
	}
	for _, id := range live {
		require.True(t, w.IsAlive(id))
	}
	for _, id := range dead {
		require.False(t, w.IsAlive(id))
	}
	require.Equal(t, len(live), w.Len())
	require.Equal(t, len(live), w.Table(ArchetypePV).Len()+w.Table(ArchetypeP).Len())
}

func TestSpawnDespawnDoesNotAllocate(t *testing.T) {
	w := newTestWorld(1024, 1024)
	allocs := testing.AllocsPerRun(200, func() {
		id := w.SpawnPV(Position{X: 1}, Velocity{X: 1})
		p := w.SpawnP(Position{Y: 2})
		w.SetPosition(id, Position{Z: 3})
		w.Despawn(id)
		w.Despawn(p)
	})
	require.Zero(t, allocs)
}

func TestUpdatePositionsMarksDirty(t *testing.T) {
	w := newTestWorld(16, 0)
	id := w.SpawnPV(Position{X: 1}, Velocity{X: 2, Y: -4})
	w.SpawnPV(Position{}, Velocity{})
	w.ClearDirty()
	require.Zero(t, w.Table(ArchetypePV).Dirty().Count())

	w.UpdatePositions(500 * time.Millisecond)

	p, ok := w.Position(id)
	require.True(t, ok)
	require.InDelta(t, 2.0, p.X, 1e-6)
	require.InDelta(t, -2.0, p.Y, 1e-6)
	require.Equal(t, 2, w.Table(ArchetypePV).Dirty().Count())
}

func TestUpdatePositionsParallelMatchesSerial(t *testing.T) {
	const n = 20000
	serial := newTestWorld(n, 0)
	parallel := newTestWorld(n, 0)
	for i := 0; i < n; i++ {
		p := Position{X: float32(i)}
		v := Velocity{X: 1, Y: float32(i % 7), Z: -1}
		serial.SpawnPV(p, v)
		parallel.SpawnPV(p, v)
	}
	serial.UpdatePositions(time.Second / 60)
	require.NoError(t, parallel.UpdatePositionsParallel(context.Background(), time.Second/60, 4))
	require.Equal(t, serial.Table(ArchetypePV).Positions(), parallel.Table(ArchetypePV).Positions())
	require.Equal(t, n, parallel.Table(ArchetypePV).Dirty().Count())
}

func TestDestroyQueue(t *testing.T) {
	w := newTestWorld(4, 4)
	a := w.SpawnPV(Position{}, Velocity{})
	b := w.SpawnP(Position{})
	w.MarkForDestruction(a)
	w.MarkForDestruction(b)
	w.MarkForDestruction(a)
	require.True(t, w.IsAlive(a))

	require.Equal(t, 2, w.FlushDestroyQueue())
	require.False(t, w.IsAlive(a))
	require.False(t, w.IsAlive(b))
	require.Zero(t, w.Len())
}

func TestVoxelEntities(t *testing.T) {
	w := newTestWorld(0, 0)
	id := w.SpawnVoxel(Position{X: 4, Y: 64, Z: 4}, Voxel{Material: 56, Light: 15})
	require.False(t, id.IsNull())
	v, ok := w.Voxel(id)
	require.True(t, ok)
	require.Equal(t, uint16(56), v.Material)
	_, ok = w.Velocity(id)
	require.False(t, ok)
	require.True(t, w.Mask(id).Has(VoxelID))
}

func TestDirtyTracker(t *testing.T) {
	d := NewDirtyTracker(200)
	d.Mark(3)
	d.Mark(3)
	d.Mark(130)
	require.Equal(t, 2, d.Count())
	require.Equal(t, 131, d.HighWater())

	var rows []int
	d.Each(func(r int) { rows = append(rows, r) })
	require.Equal(t, []int{3, 130}, rows)

	d.MarkRange(70)
	require.Equal(t, 71, d.Count())
	require.Equal(t, 131, d.HighWater())

	d.Clear()
	require.Zero(t, d.Count())
	require.Zero(t, d.HighWater())
	require.False(t, d.IsDirty(130))
}
