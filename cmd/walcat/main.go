// walcat prints the records of an economy/world log file and can copy them
// into the archive database.
//
// Usage:
//
//	go run ./cmd/walcat [-op name] [-tail n] [-summary] [-archive] <file>
//
// -archive reads the [database] section of the server config
// (OROBOROS_CONFIG or config/server.toml).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/oroboros/server/internal/config"
	"github.com/oroboros/server/internal/persist"
	"github.com/oroboros/server/internal/wal"
)

type options struct {
	op      string
	tail    int
	summary bool
	archive bool
	path    string
}

func main() {
	var o options
	flag.StringVar(&o.op, "op", "", "only print records of this op (loot_drop, craft, block_mutation, ...)")
	flag.IntVar(&o.tail, "tail", 0, "only print the last n matching records")
	flag.BoolVar(&o.summary, "summary", false, "print per-op counts instead of records")
	flag.BoolVar(&o.archive, "archive", false, "copy new records into the archive database")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: walcat [-op name] [-tail n] [-summary] [-archive] <file>")
		os.Exit(2)
	}
	o.path = flag.Arg(0)

	if err := run(o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "walcat: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, out io.Writer) error {
	p := message.NewPrinter(language.English)

	info, err := os.Stat(o.path)
	if err != nil {
		return err
	}
	recs, valid, err := wal.ReplayFile(o.path)
	if err != nil {
		return err
	}

	var filter func(wal.OpType) bool
	if o.op != "" {
		want, err := wal.ParseOpType(o.op)
		if err != nil {
			return err
		}
		filter = func(op wal.OpType) bool { return op == want }
	}

	if o.summary {
		printSummary(p, out, recs, info.Size()-valid)
	} else {
		printRecords(out, recs, filter, o.tail)
	}

	if o.archive {
		return archive(o.path, p, out)
	}
	return nil
}

func printRecords(out io.Writer, recs []wal.Record, filter func(wal.OpType) bool, tail int) {
	seqs := make([]int, 0, len(recs))
	for i, rec := range recs {
		if filter == nil || filter(rec.Op) {
			seqs = append(seqs, i)
		}
	}
	if tail > 0 && len(seqs) > tail {
		seqs = seqs[len(seqs)-tail:]
	}
	for _, i := range seqs {
		rec := recs[i]
		fmt.Fprintf(out, "%8d  %-16s %4dB  %s\n", i, rec.Op, len(rec.Payload), persist.DescribeRecord(rec))
	}
}

func printSummary(p *message.Printer, out io.Writer, recs []wal.Record, torn int64) {
	counts := make(map[wal.OpType]int)
	var bytes int
	for _, rec := range recs {
		counts[rec.Op]++
		bytes += wal.EncodedSize(len(rec.Payload))
	}
	ops := make([]wal.OpType, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	slices.Sort(ops)

	for _, op := range ops {
		p.Fprintf(out, "%-16s %12d\n", op, counts[op])
	}
	p.Fprintf(out, "%-16s %12d records, %d bytes\n", "total", len(recs), bytes)
	if torn > 0 {
		p.Fprintf(out, "%-16s %12d bytes past the last valid record\n", "torn tail", torn)
	}
}

func archive(path string, p *message.Printer, out io.Writer) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("archive: database disabled in %s", config.Path())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log := zap.NewNop()
	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := persist.Migrate(ctx, db.Pool, log); err != nil {
		return err
	}

	n, err := persist.NewArchiver(path, persist.NewArchiveRepo(db), persist.DescribeRecord, log).Sync(ctx)
	if err != nil {
		return err
	}
	p.Fprintf(out, "archived %d records\n", n)
	return nil
}
