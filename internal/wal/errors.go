package wal

import "errors"

var (
	// ErrBusy is returned by Append when the staging ring is full and the
	// backpressure policy is Reject.
	ErrBusy = errors.New("wal: staging ring full")
	// ErrIO means the log could not be made durable. Once the WAL is
	// degraded every later Append fails with it.
	ErrIO = errors.New("wal: i/o failure")
	// ErrClosed is returned after Close for appends and for handles whose
	// batch never reached disk.
	ErrClosed = errors.New("wal: closed")

	ErrPayloadTooLarge = errors.New("wal: payload exceeds 65535 bytes")
	ErrInvalidConfig   = errors.New("wal: invalid config")

	ErrShortRecord = errors.New("wal: short record")
	ErrChecksum    = errors.New("wal: checksum mismatch")
	ErrUnknownOp   = errors.New("wal: unknown op type")

	// ErrPastEnd means a read started beyond the end of the file, so the
	// file is not the one the offset was taken from.
	ErrPastEnd = errors.New("wal: offset past end of file")
)
