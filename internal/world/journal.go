package world

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/oroboros/server/internal/wal"
)

var ErrMalformedMutation = errors.New("world: malformed block mutation")

// Journal receives block mutations before they are applied. *wal.WAL
// satisfies it.
type Journal interface {
	Append(op wal.OpType, payload []byte) (wal.Handle, error)
}

// Mutation is one journaled block edit. X and Z are local to the column,
// Y is the world height.
type Mutation struct {
	Column  ColumnCoord
	X, Y, Z int
	Block   Block
	Tick    uint64
}

func (m Mutation) String() string {
	return fmt.Sprintf("column=%d,%d local=%d,%d,%d block=%d tick=%d",
		m.Column.X, m.Column.Z, m.X, m.Y, m.Z, m.Block, m.Tick)
}

// chunk_x i32 | chunk_z i32 | local_x u8 | local_z u8 | y u16 | block u16 | tick u64
const mutationSize = 22

func appendMutation(dst []byte, m Mutation) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, uint32(m.Column.X))
	dst = le.AppendUint32(dst, uint32(m.Column.Z))
	dst = append(dst, uint8(m.X), uint8(m.Z))
	dst = le.AppendUint16(dst, uint16(m.Y))
	dst = le.AppendUint16(dst, uint16(m.Block))
	return le.AppendUint64(dst, m.Tick)
}

// DecodeMutation parses a BlockMutation payload.
func DecodeMutation(b []byte) (Mutation, error) {
	if len(b) != mutationSize {
		return Mutation{}, fmt.Errorf("%d bytes: %w", len(b), ErrMalformedMutation)
	}
	le := binary.LittleEndian
	m := Mutation{
		Column: ColumnCoord{X: int32(le.Uint32(b[0:])), Z: int32(le.Uint32(b[4:]))},
		X:      int(b[8]),
		Z:      int(b[9]),
		Y:      int(le.Uint16(b[10:])),
		Tick:   le.Uint64(b[14:]),
	}
	id := le.Uint16(b[12:])
	if m.X >= ChunkSize || m.Z >= ChunkSize || id > 0xff {
		return Mutation{}, fmt.Errorf("%s: %w", m, ErrMalformedMutation)
	}
	m.Block = Block(id)
	return m, nil
}
