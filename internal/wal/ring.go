package wal

import (
	"sync/atomic"
	"time"
)

// cell is one staging slot. seq follows the bounded-queue protocol: a cell at
// position p is free for the producer when seq == p, and holds a record for
// the consumer when seq == p+1.
type cell struct {
	seq     atomic.Uint64
	op      OpType
	payload []byte
	queued  time.Time
}

// ring is a bounded multi-producer single-consumer queue. Producers reserve a
// position with one CAS on head; the flusher is the only consumer.
type ring struct {
	cells []cell
	mask  uint64
	_     [56]byte
	head  atomic.Uint64
	_     [56]byte
	tail  atomic.Uint64
}

func newRing(size, slotBytes int) *ring {
	n := 1
	for n < size {
		n <<= 1
	}
	r := &ring{cells: make([]cell, n), mask: uint64(n - 1)}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
		r.cells[i].payload = make([]byte, 0, slotBytes)
	}
	return r
}

func (r *ring) capacity() int { return len(r.cells) }

// push copies payload into the next free cell and returns its position, which
// doubles as the record's sequence number. ok is false when the ring is full.
func (r *ring) push(op OpType, payload []byte, now time.Time) (pos uint64, ok bool) {
	pos = r.head.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				c.op = op
				c.payload = append(c.payload[:0], payload...)
				c.queued = now
				c.seq.Store(pos + 1)
				return pos, true
			}
			pos = r.head.Load()
		case dif < 0:
			return 0, false
		default:
			pos = r.head.Load()
		}
	}
}

// pop hands the oldest record to fn and releases its cell. Only the flusher
// calls it.
func (r *ring) pop(fn func(pos uint64, c *cell)) bool {
	pos := r.tail.Load()
	c := &r.cells[pos&r.mask]
	if int64(c.seq.Load())-int64(pos+1) < 0 {
		return false
	}
	fn(pos, c)
	c.seq.Store(pos + r.mask + 1)
	r.tail.Store(pos + 1)
	return true
}

// empty reports whether the consumer has nothing ready right now.
func (r *ring) empty() bool {
	pos := r.tail.Load()
	c := &r.cells[pos&r.mask]
	return int64(c.seq.Load())-int64(pos+1) < 0
}

// reserved is the number of positions handed out to producers so far.
func (r *ring) reserved() uint64 { return r.head.Load() }
