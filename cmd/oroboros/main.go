package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oroboros/server/internal/config"
	"github.com/oroboros/server/internal/core/ecs"
	"github.com/oroboros/server/internal/core/event"
	coresys "github.com/oroboros/server/internal/core/system"
	"github.com/oroboros/server/internal/economy"
	"github.com/oroboros/server/internal/persist"
	"github.com/oroboros/server/internal/system"
	"github.com/oroboros/server/internal/wal"
	"github.com/oroboros/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config and logger
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if p := startProfile(cfg.Profiling); p != nil {
		defer p.Stop()
	}

	printBanner(cfg.World.Seed)

	// 2. Content: YAML tables plus script overrides
	printSection("content")
	tables, err := loadContent(cfg, log)
	if err != nil {
		return err
	}
	defer tables.scripts.Close()

	// 3. Economy log
	printSection("economy")
	if err := os.MkdirAll(filepath.Dir(cfg.WAL.Path), 0o755); err != nil {
		return fmt.Errorf("create wal dir: %w", err)
	}
	journal, records, err := wal.Open(cfg.WAL.Path, cfg.WAL.WAL(), log)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	walOpen := true
	defer func() {
		if walOpen {
			_ = journal.Close()
		}
	}()
	printStat("wal records", len(records))

	bus := event.NewBus()
	subscribeEvents(bus, log)

	bank := economy.NewBank(journal, tables.loot, tables.graph,
		economy.WithBus(bus),
		economy.WithLogger(log),
		economy.WithStackLimits(economy.StackLimitsFrom(tables.items)),
	)
	rs, err := bank.Replay(records)
	if err != nil {
		return fmt.Errorf("replay economy: %w", err)
	}
	printStat("players restored", bank.Stats().Players)
	printStat("operations replayed", rs.Applied)
	if rs.Reverted > 0 || rs.Rollbacks > 0 {
		log.Warn("replay reverted operations", zap.Int("reverted", rs.Reverted), zap.Int("rollbacks", rs.Rollbacks))
	}
	fmt.Println()

	// 4. World
	printSection("world")
	store, err := world.NewDiskStore(cfg.World.SaveDir)
	if err != nil {
		return fmt.Errorf("chunk store: %w", err)
	}
	defer store.Close()

	mgr := world.NewManager(cfg.World.Manager(), store, log)
	mgr.SetBus(bus)
	mgr.SetJournal(journal)
	edits, err := mgr.ReplayMutations(records)
	if err != nil {
		return fmt.Errorf("replay block mutations: %w", err)
	}
	printStat("block edits replayed", edits)

	buffers := ecs.NewDoubleBufferedWorld(cfg.ECS.World(), cfg.ECS.SyncThreshold)
	anchor, err := spawnAnchor(buffers, mgr)
	if err != nil {
		return err
	}
	st := mgr.Stats()
	printStat("columns around spawn", st.LoadedColumns)
	printStat("chunks generated", st.ChunksGenerated)
	printStat("columns restored", st.ColumnsRestored)
	fmt.Println()

	// 5. Archive database (optional)
	var archiver *persist.Archiver
	if cfg.Database.Enabled {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		version, err := persist.Migrate(ctx, db.Pool, log)
		cancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("schema version %d", version))

		archiver = persist.NewArchiver(cfg.WAL.Path, persist.NewArchiveRepo(db), persist.DescribeRecord, log)
		archiver.SetLimit(journal.DurableRecords)
		fmt.Println()
	}

	// 6. Systems
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	statsEvery := max(int(time.Minute/cfg.Tick.Rate), 1)
	persistence := system.NewPersistenceSystem(mgr, journal, archiverOrNil(archiver), system.PersistenceOptions{
		SaveEvery:    cfg.World.SaveEvery,
		ArchiveEvery: cfg.Database.ArchiveEvery,
		StatsEvery:   statsEvery,
	}, log)

	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewWeatherSystem(tables.scripts, bank, max(int(time.Second/cfg.Tick.Rate), 1), log))
	runner.Register(system.NewMovementSystem(buffers, cfg.ECS.Workers, log))
	runner.Register(system.NewWorldStreamSystem(ctx, mgr, system.EntityFocus(buffers, anchor), log))
	runner.Register(system.NewSwapSystem(buffers, log))
	runner.Register(persistence)
	runner.Register(system.NewCleanupSystem(buffers, log))

	// 7. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Tick.Rate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("tick loop running (rate %s, %d systems)", cfg.Tick.Rate, runner.Len()))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			if took := runner.Tick(cfg.Tick.Rate); took > cfg.Tick.Rate {
				log.Warn("tick overran its budget",
					zap.Uint64("tick", runner.Ticks()),
					zap.Duration("took", took),
					zap.Duration("rate", cfg.Tick.Rate))
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			stop()
			persistence.Flush()
			walOpen = false
			if err := journal.Close(); err != nil {
				log.Error("wal close failed", zap.Error(err))
			}
			reportShutdown(runner, mgr, bank, journal.Stats(), log)
			return nil
		}
	}
}

// spawnAnchor places the streaming focus on the ground at the origin and
// loads the columns around it before the first tick.
func spawnAnchor(buffers *ecs.DoubleBufferedWorld, mgr *world.Manager) (ecs.EntityID, error) {
	mgr.EnsureLoadedAround(0, 0, mgr.Config().ViewRadius)
	y := float32(mgr.Generator().HeightAt(0, 0) + 2)

	g, err := buffers.WriteHandle()
	if err != nil {
		return ecs.NullEntity, fmt.Errorf("spawn anchor: %w", err)
	}
	id := g.World().SpawnPV(ecs.Position{Y: y}, ecs.Velocity{})
	g.Release()
	if id.IsNull() {
		return ecs.NullEntity, fmt.Errorf("spawn anchor: movable capacity is zero")
	}
	if _, err := buffers.SwapBuffers(); err != nil {
		return ecs.NullEntity, fmt.Errorf("publish anchor: %w", err)
	}
	return id, nil
}

// archiverOrNil keeps a nil *Archiver from becoming a non-nil interface.
func archiverOrNil(a *persist.Archiver) system.ArchiveSyncer {
	if a == nil {
		return nil
	}
	return a
}

func subscribeEvents(bus *event.Bus, log *zap.Logger) {
	event.Subscribe(bus, func(ev event.TransactionRolledBack) {
		log.Warn("transaction rolled back",
			zap.Uint64("player", ev.Player),
			zap.String("op", ev.Op),
			zap.String("reason", ev.Reason))
	})
	event.Subscribe(bus, func(ev event.ChunkColumnEvicted) {
		log.Debug("column evicted", zap.Int32("x", ev.X), zap.Int32("z", ev.Z), zap.Bool("saved", ev.Saved))
	})
	event.Subscribe(bus, func(ev event.LootDropped) {
		log.Debug("loot dropped",
			zap.Uint64("player", ev.Player),
			zap.Uint32("block", ev.BlockID),
			zap.Uint32("item", ev.ItemID),
			zap.Uint32("qty", ev.Quantity))
	})
}

func reportShutdown(runner *coresys.Runner, mgr *world.Manager, bank *economy.Bank, ws wal.Stats, log *zap.Logger) {
	ms, bs, tm := mgr.Stats(), bank.Stats(), runner.Timings()
	for phase, d := range tm.Phases {
		log.Debug("phase time", zap.Stringer("phase", phase), zap.Duration("total", d))
	}
	log.Info("server stopped",
		zap.String("ticks", printer.Sprintf("%d", runner.Ticks())),
		zap.Duration("slowest_tick", tm.Slowest),
		zap.String("wal_records", printer.Sprintf("%d", ws.Records)),
		zap.Float64("wal_avg_batch", ws.AvgBatchSize),
		zap.String("chunks_generated", printer.Sprintf("%d", ms.ChunksGenerated)),
		zap.Uint64("columns_saved", ms.ColumnsSaved),
		zap.Uint64("drops", bs.Drops),
		zap.Uint64("crafts", bs.Crafts))
}

func startProfile(cfg config.ProfilingConfig) interface{ Stop() } {
	var mode func(*profile.Profile)
	switch cfg.Mode {
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfileAllocs
	case "trace":
		mode = profile.TraceProfile
	default:
		return nil
	}
	return profile.Start(mode, profile.ProfilePath(cfg.Dir), profile.NoShutdownHook, profile.Quiet)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
