package wal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ScanRecords decodes records from the start of data and stops at the first
// short or corrupt one. It returns the valid records and the byte offset where
// the valid prefix ends, plus the error that stopped the scan (nil at a clean
// end of data).
func ScanRecords(data []byte) ([]Record, int64, error) {
	var recs []Record
	off := 0
	for off < len(data) {
		rec, n, err := DecodeRecord(data[off:])
		if err != nil {
			return recs, int64(off), err
		}
		rec.Offset = int64(off)
		recs = append(recs, rec)
		off += n
	}
	return recs, int64(off), nil
}

// ReplayFile reads path without modifying it. A missing file replays as empty.
// The returned offset is the end of the valid prefix; anything after it would
// be truncated by Open.
func ReplayFile(path string) ([]Record, int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read wal %s: %w", path, err)
	}
	recs, end, _ := ScanRecords(data)
	return recs, end, nil
}

// ReplayFileFrom is ReplayFile starting at byte offset, which must be the
// start of a record. Record offsets stay absolute.
func ReplayFileFrom(path string, offset int64) ([]Record, int64, error) {
	if offset == 0 {
		return ReplayFile(path)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("read wal %s at %d: %w", path, offset, ErrPastEnd)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read wal %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat wal %s: %w", path, err)
	}
	if info.Size() < offset {
		return nil, 0, fmt.Errorf("read wal %s at %d of %d bytes: %w", path, offset, info.Size(), ErrPastEnd)
	}
	data, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return nil, 0, fmt.Errorf("read wal %s: %w", path, err)
	}
	recs, end, _ := ScanRecords(data)
	for i := range recs {
		recs[i].Offset += offset
	}
	return recs, offset + end, nil
}
