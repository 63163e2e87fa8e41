package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	c := DefaultConfig()
	c.MaxBatchDelay = 2 * time.Millisecond
	c.RingBufferSize = 1024
	return c
}

func openTemp(t *testing.T, cfg Config) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "economy.wal")
	w, recs, err := Open(path, cfg, nil)
	require.NoError(t, err)
	require.Empty(t, recs)
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func TestRecordRoundTrip(t *testing.T) {
	buf := AppendRecord(nil, OpCraft, []byte("recipe"))
	require.Len(t, buf, EncodedSize(6))

	rec, n, err := DecodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, OpCraft, rec.Op)
	require.Equal(t, []byte("recipe"), rec.Payload)
}

func TestDecodeRecordRejectsDamage(t *testing.T) {
	buf := AppendRecord(nil, OpTrade, []byte{1, 2, 3, 4})

	_, _, err := DecodeRecord(buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrShortRecord)

	flipped := append([]byte(nil), buf...)
	flipped[4] ^= 0xFF
	_, _, err = DecodeRecord(flipped)
	require.ErrorIs(t, err, ErrChecksum)

	unknown := AppendRecord(nil, OpType(99), nil)
	_, _, err = DecodeRecord(unknown)
	require.ErrorIs(t, err, ErrUnknownOp)
}

func TestRingOrderAndWrap(t *testing.T) {
	r := newRing(3, 8)
	require.Equal(t, 4, r.capacity())

	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			pos, ok := r.push(OpLootDrop, []byte{byte(i)}, time.Time{})
			require.True(t, ok)
			require.Equal(t, uint64(round*4+i), pos)
		}
		_, ok := r.push(OpLootDrop, nil, time.Time{})
		require.False(t, ok, "ring should be full")

		for i := 0; i < 4; i++ {
			require.True(t, r.pop(func(pos uint64, c *cell) {
				require.Equal(t, uint64(round*4+i), pos)
				require.Equal(t, []byte{byte(i)}, c.payload)
			}))
		}
		require.True(t, r.empty())
	}
}

func TestAppendWaitReplay(t *testing.T) {
	w, path := openTemp(t, testConfig())

	payloads := [][]byte{[]byte("alpha"), {}, []byte("gamma")}
	var handles []Handle
	for i, p := range payloads {
		h, err := w.Append(OpType(i+1), p)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Wait())
		require.True(t, h.Durable())
	}
	require.NoError(t, w.Close())

	w2, recs, err := Open(path, testConfig(), nil)
	require.NoError(t, err)
	defer w2.Close()
	require.Len(t, recs, len(payloads))
	for i, rec := range recs {
		require.Equal(t, OpType(i+1), rec.Op)
		require.Equal(t, payloads[i], append([]byte{}, rec.Payload...))
	}
}

func TestWaitWithinBatchDelay(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = 10 * time.Millisecond
	w, _ := openTemp(t, cfg)

	h, err := w.Append(OpLootDrop, []byte{1})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.WaitContext(ctx))

	st := w.Stats()
	require.EqualValues(t, 1, st.Batches)
	require.EqualValues(t, 1, st.Records)
	require.EqualValues(t, EncodedSize(1), st.Bytes)
	require.EqualValues(t, 1, w.LastBatchID())
}

func TestOpenTruncatesCorruptTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "economy.wal")
	good := AppendRecord(nil, OpInventoryAdd, []byte("kept"))
	good = AppendRecord(good, OpInventoryRemove, []byte("also kept"))
	bad := AppendRecord(nil, OpCraft, []byte("lost"))
	bad[len(bad)-1] ^= 0x01
	partial := AppendRecord(nil, OpTrade, []byte("partial"))[:5]

	data := append(append(append([]byte{}, good...), bad...), partial...)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	recs, end, err := ReplayFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.EqualValues(t, len(good), end)

	w, recs, err := Open(path, testConfig(), nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "also kept", string(recs[1].Payload))

	h, err := w.Append(OpCraft, []byte("after"))
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	require.NoError(t, w.Close())

	recs, _, err = ReplayFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "after", string(recs[2].Payload))
}

func TestReplayFileMissing(t *testing.T) {
	recs, end, err := ReplayFile(filepath.Join(t.TempDir(), "none.wal"))
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Zero(t, end)
}

func TestAppendValidation(t *testing.T) {
	w, _ := openTemp(t, testConfig())
	_, err := w.Append(OpCraft, make([]byte, MaxPayload+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	bad := testConfig()
	bad.RingBufferSize = 10
	bad.MaxBatchSize = 100
	_, _, err = Open(filepath.Join(t.TempDir(), "x.wal"), bad, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

// stallFile blocks every write until released, so the ring can be filled.
type stallFile struct {
	file
	gate chan struct{}
}

func (f *stallFile) WriteAt(p []byte, off int64) (int, error) {
	<-f.gate
	return f.file.WriteAt(p, off)
}

func withOpener(t *testing.T, wrap func(file) file) {
	t.Helper()
	prev := openFile
	openFile = func(path string) (file, error) {
		f, err := prev(path)
		if err != nil {
			return nil, err
		}
		return wrap(f), nil
	}
	t.Cleanup(func() { openFile = prev })
}

func TestRejectWhenRingFull(t *testing.T) {
	gate := make(chan struct{})
	withOpener(t, func(f file) file { return &stallFile{file: f, gate: gate} })

	cfg := testConfig()
	cfg.RingBufferSize = 4
	cfg.MaxBatchSize = 1
	cfg.Backpressure = Reject
	w, _ := openTemp(t, cfg)

	// One record is held by the stalled flusher, four fill the ring.
	var handles []Handle
	var busy error
	for i := 0; i < 16 && busy == nil; i++ {
		h, err := w.Append(OpLootDrop, []byte{byte(i)})
		if err != nil {
			busy = err
			break
		}
		handles = append(handles, h)
	}
	require.ErrorIs(t, busy, ErrBusy)
	require.NotZero(t, w.Stats().Rejected)

	close(gate)
	for _, h := range handles {
		require.NoError(t, h.Wait())
	}
}

func TestBlockWaitsForSpace(t *testing.T) {
	gate := make(chan struct{})
	withOpener(t, func(f file) file { return &stallFile{file: f, gate: gate} })

	cfg := testConfig()
	cfg.RingBufferSize = 4
	cfg.MaxBatchSize = 2
	cfg.Backpressure = Block
	w, path := openTemp(t, cfg)

	const total = 32
	handles := make(chan Handle, total)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(handles)
		for i := 0; i < total; i++ {
			h, err := w.Append(OpInventoryAdd, []byte{byte(i)})
			if !assert.NoError(t, err) {
				return
			}
			handles <- h
		}
	}()

	time.Sleep(5 * time.Millisecond)
	close(gate)
	n := 0
	for h := range handles {
		require.NoError(t, h.Wait())
		n++
	}
	wg.Wait()
	require.Equal(t, total, n)
	require.NoError(t, w.Close())

	recs, _, err := ReplayFile(path)
	require.NoError(t, err)
	require.Len(t, recs, total)
	for i, rec := range recs {
		require.Equal(t, byte(i), rec.Payload[0])
	}
}

func TestFlushKicksWriterWhenRingFull(t *testing.T) {
	gate := make(chan struct{})
	withOpener(t, func(f file) file { return &stallFile{file: f, gate: gate} })

	cfg := testConfig()
	cfg.RingBufferSize = 4
	cfg.MaxBatchSize = 2
	cfg.Backpressure = Flush
	w, path := openTemp(t, cfg)

	const total = 40
	handles := make(chan Handle, total)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(handles)
		for i := 0; i < total; i++ {
			h, err := w.Append(OpCraft, []byte{byte(i), byte(i >> 8)})
			if !assert.NoError(t, err) {
				return
			}
			handles <- h
		}
	}()

	// The producer fills the ring and waits behind the stalled write.
	time.Sleep(5 * time.Millisecond)
	require.Less(t, len(handles), total)
	close(gate)

	n := 0
	for h := range handles {
		require.NoError(t, h.Wait())
		n++
	}
	wg.Wait()
	require.Equal(t, total, n)
	st := w.Stats()
	require.Zero(t, st.Rejected)
	require.Zero(t, st.Errors)
	require.Equal(t, uint64(total), w.DurableRecords())
	require.NoError(t, w.Close())

	recs, _, err := ReplayFile(path)
	require.NoError(t, err)
	require.Len(t, recs, total)
	for i, rec := range recs {
		require.Equal(t, OpCraft, rec.Op)
		require.Equal(t, []byte{byte(i), byte(i >> 8)}, rec.Payload)
	}
}

// failFile fails every sync after the first n.
type failFile struct {
	file
	ok    atomic.Int32
	syncs atomic.Int32
}

func (f *failFile) Sync() error {
	if f.syncs.Add(1) > f.ok.Load() {
		return errors.New("disk on fire")
	}
	return f.file.Sync()
}

func TestDegradedAfterRetries(t *testing.T) {
	var ff *failFile
	withOpener(t, func(f file) file {
		ff = &failFile{file: f}
		// Open itself does not sync a clean file, so the first batch succeeds.
		ff.ok.Store(1)
		return ff
	})

	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = 100 * time.Microsecond
	w, path := openTemp(t, cfg)

	first, err := w.Append(OpLootDrop, []byte("ok"))
	require.NoError(t, err)
	require.NoError(t, first.Wait())

	second, err := w.Append(OpLootDrop, []byte("lost"))
	require.NoError(t, err)
	require.ErrorIs(t, second.Wait(), ErrIO)

	require.True(t, w.Degraded())
	require.NoError(t, first.Wait(), "flushed handle stays durable")
	_, err = w.Append(OpLootDrop, []byte("late"))
	require.ErrorIs(t, err, ErrIO)

	st := w.Stats()
	require.True(t, st.Degraded)
	require.EqualValues(t, cfg.MaxRetries+1, st.Errors)
	require.EqualValues(t, int32(cfg.MaxRetries+2), ff.syncs.Load())

	require.NoError(t, w.Close())
	recs, _, err := ReplayFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "ok", string(recs[0].Payload))
}

func TestClosedWAL(t *testing.T) {
	w, _ := openTemp(t, testConfig())
	h, err := w.Append(OpCraft, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, h.Wait(), "staged records are drained on close")

	_, err = w.Append(OpCraft, []byte("y"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, Handle{}.Wait(), ErrClosed)
	require.ErrorIs(t, Handle{w: w, seq: 1 << 40}.Wait(), ErrClosed)
	require.NoError(t, w.Close())
}

func TestWaitContextCancel(t *testing.T) {
	gate := make(chan struct{})
	withOpener(t, func(f file) file { return &stallFile{file: f, gate: gate} })
	w, _ := openTemp(t, testConfig())
	defer close(gate)

	h, err := w.Append(OpCraft, []byte("x"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.WaitContext(ctx), context.DeadlineExceeded)
}

func TestCrush(t *testing.T) {
	if testing.Short() {
		t.Skip("crush test writes 50k fsynced records")
	}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 500
	cfg.MaxBatchDelay = 5 * time.Millisecond
	cfg.RingBufferSize = 65536
	path := filepath.Join(t.TempDir(), "crush.wal")
	w, _, err := Open(path, cfg, nil)
	require.NoError(t, err)

	const producers, perProducer = 50, 1000
	var wg sync.WaitGroup
	errs := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			handles := make([]Handle, 0, perProducer)
			var payload [8]byte
			for i := 0; i < perProducer; i++ {
				binary.LittleEndian.PutUint32(payload[:4], uint32(p))
				binary.LittleEndian.PutUint32(payload[4:], uint32(i))
				h, err := w.Append(OpLootDrop, payload[:])
				if err != nil {
					errs <- err
					return
				}
				handles = append(handles, h)
			}
			for _, h := range handles {
				if err := h.Wait(); err != nil {
					errs <- err
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st := w.Stats()
	require.EqualValues(t, producers*perProducer, st.Records)
	require.Less(t, st.AvgOpNanos, float64(50*time.Microsecond))
	require.Greater(t, st.AvgBatchSize, 1.0)
	require.NoError(t, w.Close())

	w2, recs, err := Open(path, cfg, nil)
	require.NoError(t, err)
	defer w2.Close()
	require.Len(t, recs, producers*perProducer)

	// Per-producer order survives batching.
	next := make([]uint32, producers)
	for _, rec := range recs {
		p := binary.LittleEndian.Uint32(rec.Payload[:4])
		i := binary.LittleEndian.Uint32(rec.Payload[4:])
		require.Equal(t, next[p], i)
		next[p]++
	}
}

func TestDurableRecordsCountsReplayedPrefix(t *testing.T) {
	w, path := openTemp(t, testConfig())
	for i := 0; i < 3; i++ {
		h, err := w.Append(OpLootDrop, []byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, h.Wait())
	}
	require.Equal(t, uint64(3), w.DurableRecords())
	require.NoError(t, w.Close())

	w2, recs, err := Open(path, testConfig(), nil)
	require.NoError(t, err)
	defer w2.Close()
	require.Len(t, recs, 3)
	require.Equal(t, uint64(3), w2.DurableRecords())

	h, err := w2.Append(OpCraft, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	require.Equal(t, uint64(4), w2.DurableRecords())
}

func TestParseOpType(t *testing.T) {
	for op := range opNames {
		got, err := ParseOpType(op.String())
		require.NoError(t, err)
		require.Equal(t, op, got)
	}
	_, err := ParseOpType("teleport")
	require.ErrorIs(t, err, ErrUnknownOp)
}
