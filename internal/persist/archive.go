package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/oroboros/server/internal/wal"
)

// ArchivedRecord is one WAL record copied to the database. Seq is the
// record's position in the log file, starting at 0.
type ArchivedRecord struct {
	Seq     int64
	Op      wal.OpType
	Payload []byte
	Detail  string
}

// ArchiveStore is where archived records go. ArchiveRepo is the Postgres
// implementation.
type ArchiveStore interface {
	LastSeq(ctx context.Context) (int64, error)
	Insert(ctx context.Context, recs []ArchivedRecord) error
}

type ArchiveRepo struct {
	db *DB
}

func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

// LastSeq returns the highest archived seq, or -1 for an empty archive.
func (r *ArchiveRepo) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), -1) FROM wal_archive`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("archive last seq: %w", err)
	}
	return seq, nil
}

// Insert writes a batch of records in a single transaction. Seqs already
// present are skipped, so a retried batch is harmless.
func (r *ArchiveRepo) Insert(ctx context.Context, recs []ArchivedRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(
			`INSERT INTO wal_archive (seq, op, op_name, payload, detail)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (seq) DO NOTHING`,
			rec.Seq, int16(rec.Op), rec.Op.String(), rec.Payload, rec.Detail,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("archive insert: %w", err)
	}
	return tx.Commit(ctx)
}

// Recent returns the last n archived records, oldest first.
func (r *ArchiveRepo) Recent(ctx context.Context, n int) ([]ArchivedRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT seq, op, payload, detail FROM
		   (SELECT seq, op, payload, detail FROM wal_archive ORDER BY seq DESC LIMIT $1) t
		 ORDER BY seq`, n)
	if err != nil {
		return nil, fmt.Errorf("archive recent: %w", err)
	}
	defer rows.Close()

	var out []ArchivedRecord
	for rows.Next() {
		var (
			rec ArchivedRecord
			op  int16
		)
		if err := rows.Scan(&rec.Seq, &op, &rec.Payload, &rec.Detail); err != nil {
			return nil, fmt.Errorf("archive scan: %w", err)
		}
		rec.Op = wal.OpType(op)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Archiver copies new records of a WAL file into an ArchiveStore. The log
// file stays the source of truth; the archive is for queries and audits.
type Archiver struct {
	path     string
	store    ArchiveStore
	describe func(wal.Record) string
	log      *zap.Logger

	next      int64 // first seq not yet archived; -1 until resolved
	offset    int64 // byte offset of record next; -1 until a full scan
	batchSize int
	limit     func() uint64
}

// NewArchiver archives the WAL at path. describe renders the detail column
// and may be nil.
func NewArchiver(path string, store ArchiveStore, describe func(wal.Record) string, log *zap.Logger) *Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	if describe == nil {
		describe = func(wal.Record) string { return "" }
	}
	return &Archiver{path: path, store: store, describe: describe, log: log, next: -1, offset: -1, batchSize: 500}
}

// SetLimit caps each Sync at the first limit() records of the file. Pass
// (*wal.WAL).DurableRecords when the log is open so records still waiting
// for fsync are never archived.
func (a *Archiver) SetLimit(limit func() uint64) { a.limit = limit }

// Sync archives every durable record past the last archived one and
// returns how many were written. Only the first Sync reads the whole file;
// later ones read from the end of the last archived record.
func (a *Archiver) Sync(ctx context.Context) (int, error) {
	if a.next < 0 {
		last, err := a.store.LastSeq(ctx)
		if err != nil {
			return 0, err
		}
		a.next = last + 1
	}

	recs, err := a.pending()
	if err != nil {
		return 0, err
	}
	if a.limit != nil {
		if l := a.limit(); l < uint64(a.next)+uint64(len(recs)) {
			recs = recs[:max(int64(l)-a.next, 0)]
		}
	}

	n := 0
	for len(recs) > 0 {
		chunk := recs[:min(a.batchSize, len(recs))]
		batch := make([]ArchivedRecord, 0, len(chunk))
		for i, rec := range chunk {
			batch = append(batch, ArchivedRecord{
				Seq:     a.next + int64(i),
				Op:      rec.Op,
				Payload: rec.Payload,
				Detail:  a.describe(rec),
			})
		}
		if err := a.store.Insert(ctx, batch); err != nil {
			return n, err
		}
		last := chunk[len(chunk)-1]
		a.next += int64(len(chunk))
		a.offset = last.Offset + int64(wal.EncodedSize(len(last.Payload)))
		n += len(chunk)
		recs = recs[len(chunk):]
	}
	if n > 0 {
		a.log.Debug("wal archived", zap.Int("records", n), zap.Int64("next_seq", a.next), zap.Int64("offset", a.offset))
	}
	return n, nil
}

// pending returns the records from seq a.next on. Without a known offset,
// or when the file shrank below it, the file is scanned from the start.
func (a *Archiver) pending() ([]wal.Record, error) {
	if a.offset >= 0 {
		recs, _, err := wal.ReplayFileFrom(a.path, a.offset)
		if err == nil {
			return recs, nil
		}
		if !errors.Is(err, wal.ErrPastEnd) {
			return nil, fmt.Errorf("archive read %s: %w", a.path, err)
		}
		a.log.Warn("wal shrank below the archived offset, rescanning",
			zap.String("path", a.path), zap.Int64("offset", a.offset))
		a.offset = -1
	}

	recs, end, err := wal.ReplayFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("archive read %s: %w", a.path, err)
	}
	if int64(len(recs)) < a.next {
		return nil, fmt.Errorf("archive: log %s has %d records, archive has %d: %w",
			a.path, len(recs), a.next, ErrArchiveAhead)
	}
	if a.next < int64(len(recs)) {
		a.offset = recs[a.next].Offset
	} else {
		a.offset = end
	}
	return recs[a.next:], nil
}

// ErrArchiveAhead means the archive holds records the log file lacks,
// usually because the log was replaced.
var ErrArchiveAhead = errors.New("persist: archive ahead of log")
