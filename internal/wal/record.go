package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// OpType tags the payload of a record.
type OpType uint8

const (
	OpLootDrop        OpType = 1
	OpInventoryAdd    OpType = 2
	OpInventoryRemove OpType = 3
	OpCraft           OpType = 4
	OpTrade           OpType = 5
	OpBlockMutation   OpType = 6
	OpRollback        OpType = 7
)

var opNames = map[OpType]string{
	OpLootDrop:        "loot_drop",
	OpInventoryAdd:    "inventory_add",
	OpInventoryRemove: "inventory_remove",
	OpCraft:           "craft",
	OpTrade:           "trade",
	OpBlockMutation:   "block_mutation",
	OpRollback:        "rollback",
}

func (o OpType) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "unknown"
}

// ParseOpType is the inverse of String.
func ParseOpType(s string) (OpType, error) {
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("op %q: %w", s, ErrUnknownOp)
}

func (o OpType) Valid() bool {
	_, ok := opNames[o]
	return ok
}

const (
	headerSize  = 3 // op + u16 length
	trailerSize = 4 // crc32
	// MaxPayload is the largest payload a u16 length prefix can describe.
	MaxPayload = 0xFFFF
)

// Record is one decoded log entry. Offset is its byte position in the file.
type Record struct {
	Op      OpType
	Payload []byte
	Offset  int64
}

// EncodedSize returns the on-disk size of a record with n payload bytes.
func EncodedSize(n int) int { return headerSize + n + trailerSize }

// AppendRecord encodes op|len|payload|crc32 onto dst.
func AppendRecord(dst []byte, op OpType, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(op))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(payload)))
	dst = append(dst, payload...)
	sum := crc32.ChecksumIEEE(dst[start:])
	return binary.LittleEndian.AppendUint32(dst, sum)
}

// DecodeRecord parses the record at the start of b. It returns the record and
// the number of bytes consumed, or ErrShortRecord / ErrChecksum.
func DecodeRecord(b []byte) (Record, int, error) {
	if len(b) < headerSize+trailerSize {
		return Record{}, 0, ErrShortRecord
	}
	n := int(binary.LittleEndian.Uint16(b[1:3]))
	total := EncodedSize(n)
	if len(b) < total {
		return Record{}, 0, ErrShortRecord
	}
	want := binary.LittleEndian.Uint32(b[headerSize+n : total])
	if crc32.ChecksumIEEE(b[:headerSize+n]) != want {
		return Record{}, 0, ErrChecksum
	}
	op := OpType(b[0])
	if !op.Valid() {
		return Record{}, 0, ErrUnknownOp
	}
	return Record{Op: op, Payload: b[headerSize : headerSize+n]}, total, nil
}
