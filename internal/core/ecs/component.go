package ecs

// ComponentID is the compile-time id of a component type, in [0, MaxComponents).
type ComponentID uint8

const MaxComponents = 64

const (
	PositionID ComponentID = iota
	VelocityID
	VoxelID
)

// ComponentMask has bit i set when the entity carries component i.
type ComponentMask uint64

func MaskOf(ids ...ComponentID) ComponentMask {
	var m ComponentMask
	for _, id := range ids {
		m |= 1 << id
	}
	return m
}

func (m ComponentMask) Has(id ComponentID) bool { return m&(1<<id) != 0 }

// Position and Velocity are padded to 16 bytes so a column is a flat run of
// vec4s.
type Position struct {
	X, Y, Z, Pad float32
}

type Velocity struct {
	X, Y, Z, Pad float32
}

// Voxel is a placed block entity: material, render flags and light level.
type Voxel struct {
	Material uint16
	Flags    uint8
	Light    uint8
}

const (
	positionBytes = 16
	velocityBytes = 16
	voxelBytes    = 4
	entityIDBytes = 8
)
