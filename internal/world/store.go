package world

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrColumnNotFound = errors.New("world: column not saved")
	ErrCorruptColumn  = errors.New("world: corrupt column file")
)

// ChunkStore persists columns. Save receives the column's chunks
// concatenated bottom to top; Load returns the same bytes or
// ErrColumnNotFound.
type ChunkStore interface {
	Load(cc ColumnCoord) ([]byte, error)
	Save(cc ColumnCoord, blocks []byte) error
}

// Column file layout:
//
//	magic "OROC" | version u8 | reserved [3]u8 | raw_len u32 | xxhash64(raw) u64 | zstd(raw)
const (
	columnMagic      = "OROC"
	columnVersion    = 1
	columnHeaderSize = 20
	maxColumnBytes   = 16 * ChunkVolume
)

// DiskStore keeps one zstd-compressed file per column under a directory.
// Writes go to a temp file that is renamed into place.
type DiskStore struct {
	dir string
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &DiskStore{dir: dir, enc: enc, dec: dec}, nil
}

func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) path(cc ColumnCoord) string {
	return filepath.Join(s.dir, fmt.Sprintf("c.%d.%d.zst", cc.X, cc.Z))
}

// Load reads and verifies a column file.
func (s *DiskStore) Load(cc ColumnCoord) ([]byte, error) {
	b, err := os.ReadFile(s.path(cc))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrColumnNotFound
		}
		return nil, fmt.Errorf("read column %d,%d: %w", cc.X, cc.Z, err)
	}
	if len(b) < columnHeaderSize || string(b[:4]) != columnMagic || b[4] != columnVersion {
		return nil, fmt.Errorf("column %d,%d header: %w", cc.X, cc.Z, ErrCorruptColumn)
	}
	rawLen := binary.LittleEndian.Uint32(b[8:])
	sum := binary.LittleEndian.Uint64(b[12:])
	if rawLen > maxColumnBytes {
		return nil, fmt.Errorf("column %d,%d size %d: %w", cc.X, cc.Z, rawLen, ErrCorruptColumn)
	}
	raw, err := s.dec.DecodeAll(b[columnHeaderSize:], make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("column %d,%d decompress: %w: %v", cc.X, cc.Z, ErrCorruptColumn, err)
	}
	if uint32(len(raw)) != rawLen || xxhash.Sum64(raw) != sum {
		return nil, fmt.Errorf("column %d,%d checksum: %w", cc.X, cc.Z, ErrCorruptColumn)
	}
	return raw, nil
}

// Save writes the column atomically.
func (s *DiskStore) Save(cc ColumnCoord, blocks []byte) error {
	out := make([]byte, columnHeaderSize, columnHeaderSize+len(blocks)/4)
	copy(out, columnMagic)
	out[4] = columnVersion
	binary.LittleEndian.PutUint32(out[8:], uint32(len(blocks)))
	binary.LittleEndian.PutUint64(out[12:], xxhash.Sum64(blocks))
	out = s.enc.EncodeAll(blocks, out)

	tmp, err := os.CreateTemp(s.dir, ".column-*")
	if err != nil {
		return fmt.Errorf("save column %d,%d: %w", cc.X, cc.Z, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("save column %d,%d: %w", cc.X, cc.Z, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save column %d,%d: sync: %w", cc.X, cc.Z, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save column %d,%d: %w", cc.X, cc.Z, err)
	}
	if err := os.Rename(tmp.Name(), s.path(cc)); err != nil {
		return fmt.Errorf("save column %d,%d: rename: %w", cc.X, cc.Z, err)
	}
	return nil
}

// Close releases the codec goroutines.
func (s *DiskStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}
