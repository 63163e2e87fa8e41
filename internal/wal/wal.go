package wal

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// file is the subset of *os.File the flusher needs.
type file interface {
	io.WriterAt
	io.Closer
	Sync() error
	Truncate(size int64) error
}

var openFile = func(path string) (file, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// WAL is a group-committing write-ahead log. Any goroutine may Append; one
// flusher goroutine owns the file and issues a single fsync per batch.
type WAL struct {
	path string
	cfg  Config
	log  *zap.Logger

	file file
	size int64  // flusher only
	base uint64 // records replayed at Open

	ring      *ring
	producers atomic.Int32
	closing   atomic.Bool
	idle      atomic.Bool
	wake      chan struct{}
	kick      chan struct{}
	done      chan struct{}

	// Records with sequence < flushed are durable.
	flushed    atomic.Uint64
	degraded   atomic.Bool
	failedFrom atomic.Uint64
	closed     atomic.Bool

	notifyMu sync.Mutex
	notify   chan struct{}

	spaceMu      sync.Mutex
	space        chan struct{}
	spaceWaiters atomic.Int32

	batchID     atomic.Uint64
	batches     atomic.Uint64
	records     atomic.Uint64
	bytes       atomic.Uint64
	syncNanos   atomic.Uint64
	appends     atomic.Uint64
	appendNanos atomic.Uint64
	rejected    atomic.Uint64
	writeErrors atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// Open creates or opens the log at path, replays it, truncates a corrupt or
// partial tail and starts the flusher. The replayed records are returned in
// file order.
func Open(path string, cfg Config, log *zap.Logger) (*WAL, []Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SlotBytes <= 0 {
		cfg.SlotBytes = DefaultConfig().SlotBytes
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("read wal %s: %w", path, err)
	}
	recs, valid, scanErr := ScanRecords(data)

	f, err := openFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	if valid < int64(len(data)) {
		log.Warn("wal: truncating corrupt tail",
			zap.String("path", path),
			zap.Int64("offset", valid),
			zap.Int64("dropped_bytes", int64(len(data))-valid),
			zap.Error(scanErr))
		if err := f.Truncate(valid); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("truncate wal %s: %w", path, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("sync wal %s: %w", path, err)
		}
	}

	w := &WAL{
		path:   path,
		cfg:    cfg,
		log:    log,
		file:   f,
		size:   valid,
		base:   uint64(len(recs)),
		ring:   newRing(cfg.RingBufferSize, cfg.SlotBytes),
		wake:   make(chan struct{}, 1),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		notify: make(chan struct{}),
		space:  make(chan struct{}),
	}
	go w.run()

	log.Info("wal opened",
		zap.String("path", path),
		zap.Int("replayed", len(recs)),
		zap.Int64("bytes", valid),
		zap.Stringer("backpressure", cfg.Backpressure))
	return w, recs, nil
}

func (w *WAL) Path() string   { return w.path }
func (w *WAL) Config() Config { return w.cfg }

// Handle observes the durability of one appended record.
type Handle struct {
	w   *WAL
	seq uint64
}

// Seq is the record's position in this session's append order.
func (h Handle) Seq() uint64 { return h.seq }

// Wait blocks until the batch holding the record is fsynced.
func (h Handle) Wait() error { return h.WaitContext(context.Background()) }

// WaitContext is Wait with a caller-supplied deadline.
func (h Handle) WaitContext(ctx context.Context) error {
	w := h.w
	if w == nil {
		return ErrClosed
	}
	for {
		if done, err := w.status(h.seq); done {
			return err
		}
		ch := w.notifyChan()
		if done, err := w.status(h.seq); done {
			return err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Durable reports whether the record has been fsynced, without blocking.
func (h Handle) Durable() bool {
	return h.w != nil && h.w.flushed.Load() > h.seq
}

func (w *WAL) status(seq uint64) (bool, error) {
	if w.flushed.Load() > seq {
		return true, nil
	}
	if w.degraded.Load() && seq >= w.failedFrom.Load() {
		return true, ErrIO
	}
	if w.closed.Load() {
		return true, ErrClosed
	}
	return false, nil
}

func (w *WAL) notifyChan() chan struct{} {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()
	return w.notify
}

func (w *WAL) broadcast() {
	w.notifyMu.Lock()
	close(w.notify)
	w.notify = make(chan struct{})
	w.notifyMu.Unlock()
}

// Append stages a record and returns without waiting for disk. It blocks only
// when the ring is full and the policy is Block or Flush.
func (w *WAL) Append(op OpType, payload []byte) (Handle, error) {
	if len(payload) > MaxPayload {
		return Handle{}, ErrPayloadTooLarge
	}
	start := time.Now()
	w.producers.Add(1)
	defer w.producers.Add(-1)

	for {
		if w.closing.Load() {
			return Handle{}, ErrClosed
		}
		if w.degraded.Load() {
			return Handle{}, ErrIO
		}
		ch := w.spaceChan()
		if pos, ok := w.ring.push(op, payload, start); ok {
			w.signal()
			w.appends.Add(1)
			w.appendNanos.Add(uint64(time.Since(start)))
			return Handle{w: w, seq: pos}, nil
		}
		switch w.cfg.Backpressure {
		case Reject:
			w.rejected.Add(1)
			return Handle{}, ErrBusy
		case Flush:
			select {
			case w.kick <- struct{}{}:
			default:
			}
		}
		w.spaceWaiters.Add(1)
		if !w.ring.empty() || w.closing.Load() {
			select {
			case <-ch:
			case <-w.done:
			}
		}
		w.spaceWaiters.Add(-1)
		select {
		case <-w.done:
			return Handle{}, ErrClosed
		default:
		}
	}
}

func (w *WAL) spaceChan() chan struct{} {
	w.spaceMu.Lock()
	defer w.spaceMu.Unlock()
	return w.space
}

func (w *WAL) releaseSpace() {
	if w.spaceWaiters.Load() == 0 {
		return
	}
	w.spaceMu.Lock()
	close(w.space)
	w.space = make(chan struct{})
	w.spaceMu.Unlock()
}

// signal wakes the flusher if it is parked.
func (w *WAL) signal() {
	if w.idle.CompareAndSwap(true, false) {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// Close stops accepting appends, flushes everything already staged and
// closes the file.
func (w *WAL) Close() error {
	w.closeOnce.Do(func() {
		w.closing.Store(true)
		select {
		case w.kick <- struct{}{}:
		default:
		}
		<-w.done
	})
	return w.closeErr
}

// Degraded reports whether a batch failed permanently.
func (w *WAL) Degraded() bool { return w.degraded.Load() }

// LastBatchID is the id of the most recent durable batch of this session.
func (w *WAL) LastBatchID() uint64 { return w.batchID.Load() }

// DurableRecords is the number of leading records of the file known to be
// on disk: those replayed at Open plus every fsynced append since.
func (w *WAL) DurableRecords() uint64 { return w.base + w.flushed.Load() }

// run is the flusher loop.
func (w *WAL) run() {
	defer close(w.done)

	buf := make([]byte, 0, w.cfg.MaxBatchSize*EncodedSize(w.cfg.SlotBytes))
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		if w.ring.empty() {
			if w.closing.Load() && w.producers.Load() == 0 && w.ring.empty() {
				w.finish()
				return
			}
			w.park(timer, time.Time{})
			continue
		}

		first := time.Now()
		deadline := first.Add(w.cfg.MaxBatchDelay)
		startSeq := w.ring.tail.Load()
		buf = buf[:0]
		n := 0
		for n < w.cfg.MaxBatchSize {
			if w.ring.pop(func(_ uint64, c *cell) {
				buf = AppendRecord(buf, c.op, c.payload)
			}) {
				n++
				w.releaseSpace()
				continue
			}
			if w.closing.Load() || !time.Now().Before(deadline) {
				break
			}
			if w.park(timer, deadline) {
				break
			}
		}
		w.releaseSpace()
		w.commit(buf, startSeq, n)
	}
}

// park waits for a producer signal, a kick, or the deadline. It returns true
// when a kick asked for the current batch to be cut.
func (w *WAL) park(timer *time.Timer, deadline time.Time) (kicked bool) {
	w.idle.Store(true)
	defer w.idle.Store(false)
	if !w.ring.empty() {
		return false
	}
	if w.closing.Load() && deadline.IsZero() {
		// Producers still in flight; poll until they finish.
		deadline = time.Now().Add(100 * time.Microsecond)
	}
	var tc <-chan time.Time
	if !deadline.IsZero() {
		timer.Reset(time.Until(deadline))
		tc = timer.C
		defer timer.Stop()
	}
	select {
	case <-w.wake:
	case <-w.kick:
		return true
	case <-tc:
	}
	return false
}

func (w *WAL) commit(buf []byte, startSeq uint64, n int) {
	if n == 0 {
		return
	}
	if w.degraded.Load() {
		// Nothing can be made durable any more; waiters already see ErrIO.
		return
	}
	syncStart := time.Now()
	if err := w.writeBatch(buf); err != nil {
		w.degrade(startSeq, err)
		return
	}
	w.syncNanos.Add(uint64(time.Since(syncStart)))
	w.size += int64(len(buf))
	w.batchID.Add(1)
	w.batches.Add(1)
	w.records.Add(uint64(n))
	w.bytes.Add(uint64(len(buf)))
	w.flushed.Store(startSeq + uint64(n))
	w.broadcast()
}

func (w *WAL) writeBatch(buf []byte) error {
	for attempt := 0; ; attempt++ {
		_, err := w.file.WriteAt(buf, w.size)
		if err == nil {
			err = w.file.Sync()
		}
		if err == nil {
			return nil
		}
		w.writeErrors.Add(1)
		w.log.Warn("wal: batch write failed",
			zap.String("path", w.path),
			zap.Int("attempt", attempt+1),
			zap.Int("bytes", len(buf)),
			zap.Error(err))
		if attempt >= w.cfg.MaxRetries {
			return err
		}
		// Drop whatever part of the batch landed before retrying.
		_ = w.file.Truncate(w.size)
		time.Sleep(w.cfg.RetryBackoff << attempt)
	}
}

func (w *WAL) degrade(startSeq uint64, err error) {
	w.failedFrom.Store(startSeq)
	w.degraded.Store(true)
	_ = w.file.Truncate(w.size)
	w.log.Error("wal: degraded, appends will fail",
		zap.String("path", w.path),
		zap.Uint64("first_lost_seq", startSeq),
		zap.Error(err))
	w.broadcast()
	w.releaseSpace()
}

func (w *WAL) finish() {
	if err := w.file.Close(); err != nil {
		w.closeErr = fmt.Errorf("close wal %s: %w", w.path, err)
	}
	w.closed.Store(true)
	w.broadcast()
	w.log.Info("wal closed",
		zap.String("path", w.path),
		zap.Uint64("batches", w.batches.Load()),
		zap.Uint64("records", w.records.Load()))
}

// Stats is a point-in-time view of the flusher counters.
type Stats struct {
	Batches       uint64
	Records       uint64
	Bytes         uint64
	AvgBatchSize  float64
	AvgSyncMicros float64
	// AvgOpNanos is the mean cost of an Append call, including any time
	// spent waiting for ring space.
	AvgOpNanos  float64
	LastBatchID uint64
	Rejected    uint64
	Errors      uint64
	Degraded    bool
}

func (w *WAL) Stats() Stats {
	s := Stats{
		Batches:     w.batches.Load(),
		Records:     w.records.Load(),
		Bytes:       w.bytes.Load(),
		LastBatchID: w.batchID.Load(),
		Rejected:    w.rejected.Load(),
		Errors:      w.writeErrors.Load(),
		Degraded:    w.degraded.Load(),
	}
	if s.Batches > 0 {
		s.AvgBatchSize = float64(s.Records) / float64(s.Batches)
		s.AvgSyncMicros = float64(w.syncNanos.Load()) / float64(s.Batches) / 1e3
	}
	if n := w.appends.Load(); n > 0 {
		s.AvgOpNanos = float64(w.appendNanos.Load()) / float64(n)
	}
	return s
}
