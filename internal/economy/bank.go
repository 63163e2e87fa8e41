package economy

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/oroboros/server/internal/core/event"
	"github.com/oroboros/server/internal/wal"
)

// Journal is where the bank logs an operation before applying it.
// *wal.WAL satisfies it.
type Journal interface {
	Append(op wal.OpType, payload []byte) (wal.Handle, error)
}

// TransactionResult carries the outcome of one bank operation. Handle is the
// zero Handle when nothing was logged.
type TransactionResult struct {
	Drop     Drop
	Snapshot Snapshot
	// Peer is the receiving inventory of a transfer.
	Peer   Snapshot
	Handle wal.Handle
	Logged bool
}

type BankStats struct {
	Players    int
	MiningHits uint64
	Drops      uint64
	Crafts     uint64
	Transfers  uint64
	Grants     uint64
	Rollbacks  uint64
}

type ReplayStats struct {
	Applied int
	// Reverted counts logged operations whose apply failed again on replay
	// and were undone, matching the rollback taken when they were first run.
	Reverted  int
	Rollbacks int
	Skipped   int
	// Unverified counts logged drops that no longer match a roll of their
	// own inputs, e.g. after a table change or secret rotation.
	Unverified int
}

type Option func(*Bank)

func WithBus(bus *event.Bus) Option     { return func(b *Bank) { b.bus = bus } }
func WithLogger(log *zap.Logger) Option { return func(b *Bank) { b.log = log } }

// WithStackLimits sets the per-item stack limit lookup. Items it reports 0
// for use DefaultMaxStack.
func WithStackLimits(fn func(ItemID) uint32) Option {
	return func(b *Bank) { b.stackLimit = fn }
}

// Bank is the economy façade. Every mutating call computes its effect, logs
// it to the journal and only then changes memory, all under one lock so the
// log order is the apply order.
type Bank struct {
	mu          sync.Mutex
	journal     Journal
	loot        *LootCalculator
	graph       *CraftingGraph
	bus         *event.Bus
	log         *zap.Logger
	stackLimit  func(ItemID) uint32
	inventories map[uint64]*Inventory
	scratch     []byte
	stats       BankStats
	weather     uint32
}

func NewBank(j Journal, loot *LootCalculator, graph *CraftingGraph, opts ...Option) *Bank {
	b := &Bank{
		journal:     j,
		loot:        loot,
		graph:       graph,
		log:         zap.NewNop(),
		inventories: make(map[uint64]*Inventory),
		scratch:     make([]byte, 0, 64),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

func (b *Bank) Loot() *LootCalculator { return b.loot }
func (b *Bank) Graph() *CraftingGraph { return b.graph }

func (b *Bank) maxStack(item ItemID) uint32 {
	if b.stackLimit != nil {
		if n := b.stackLimit(item); n > 0 {
			return n
		}
	}
	return DefaultMaxStack
}

// inventory returns the player's inventory, creating it on first use.
// Caller holds b.mu.
func (b *Bank) inventory(player uint64) *Inventory {
	inv, ok := b.inventories[player]
	if !ok {
		inv = NewInventory()
		b.inventories[player] = inv
	}
	return inv
}

// Inventory returns a copy of the player's current inventory.
func (b *Bank) Inventory(player uint64) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inventory(player).Snapshot()
}

func (b *Bank) Stats() BankStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Players = len(b.inventories)
	return s
}

// SetWeather sets the weather seed MineBlock rolls with.
func (b *Bank) SetWeather(seed uint32) {
	b.mu.Lock()
	b.weather = seed
	b.mu.Unlock()
}

func (b *Bank) Weather() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.weather
}

// MineBlock is ProcessMiningHit under the current weather seed.
func (b *Bank) MineBlock(player uint64, block uint32, level, tool uint8, nonce uint64) (TransactionResult, error) {
	return b.ProcessMiningHit(player, block, level, tool, b.Weather(), nonce)
}

// ProcessMiningHit rolls the loot for a block broken by player, logs it and
// adds it to the player's inventory. A roll that drops nothing logs nothing.
func (b *Bank) ProcessMiningHit(player uint64, block uint32, level, tool uint8, weatherSeed uint32, nonce uint64) (TransactionResult, error) {
	d := b.loot.Roll(block, level, tool, weatherSeed, nonce)
	if d.Secure {
		b.log.Info("secure loot roll",
			zap.Uint64("player", player),
			zap.Uint32("block", block),
			zap.Uint64("secure_nonce", d.SecureNonce),
			zap.Bool("dropped", d.Dropped()))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.MiningHits++
	inv := b.inventory(player)
	res := TransactionResult{Drop: d}
	if !d.Dropped() {
		res.Snapshot = inv.Snapshot()
		return res, nil
	}
	limit := b.maxStack(d.Item)
	if !inv.CanAdd(d.Item, d.Quantity, limit) {
		res.Snapshot = inv.Snapshot()
		return res, fmt.Errorf("loot item %d x%d for player %d: %w", d.Item, d.Quantity, player, ErrInventoryFull)
	}

	b.scratch = appendLootDrop(b.scratch[:0], player, d)
	h, err := b.journal.Append(wal.OpLootDrop, b.scratch)
	if err != nil {
		return res, fmt.Errorf("log loot drop: %w", err)
	}
	res.Handle, res.Logged = h, true

	snap := inv.Snapshot()
	if err := inv.Add(d.Item, d.Quantity, limit); err != nil {
		inv.Restore(snap)
		res.Snapshot = snap
		return res, b.rollback(wal.OpLootDrop, player, err)
	}
	b.stats.Drops++
	res.Snapshot = inv.Snapshot()
	event.Emit(b.bus, event.LootDropped{
		Player:   player,
		BlockID:  block,
		ItemID:   uint32(d.Item),
		Quantity: d.Quantity,
		Rarity:   uint8(d.Rarity),
	})
	return res, nil
}

// Craft consumes count sets of the recipe's inputs and produces count sets of
// its outputs.
func (b *Bank) Craft(player uint64, id RecipeID, count uint32) (TransactionResult, error) {
	if count == 0 {
		return TransactionResult{}, ErrInvalidQuantity
	}
	r, ok := b.graph.Recipe(id)
	if !ok {
		return TransactionResult{}, fmt.Errorf("recipe %d: %w", id, ErrRecipeNotFound)
	}
	if err := checkScaled(r, count); err != nil {
		return TransactionResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	inv := b.inventory(player)
	res := TransactionResult{Snapshot: inv.Snapshot()}
	for _, in := range r.Inputs {
		need := in.Quantity * count
		if have := inv.Count(in.Item); have < need {
			return res, fmt.Errorf("recipe %d needs %d x item %d, have %d: %w",
				id, need, in.Item, have, ErrInsufficientMaterials)
		}
	}

	b.scratch = appendCraft(b.scratch[:0], craftRecord{Player: player, Recipe: id, Count: count})
	h, err := b.journal.Append(wal.OpCraft, b.scratch)
	if err != nil {
		return res, fmt.Errorf("log craft: %w", err)
	}
	res.Handle, res.Logged = h, true

	snap := inv.Snapshot()
	if err := b.applyCraft(inv, r, count); err != nil {
		inv.Restore(snap)
		return res, b.rollback(wal.OpCraft, player, err)
	}
	b.stats.Crafts++
	res.Snapshot = inv.Snapshot()
	event.Emit(b.bus, event.ItemCrafted{Player: player, RecipeID: uint32(id), Count: count})
	return res, nil
}

func checkScaled(r Recipe, count uint32) error {
	for _, list := range [2][]RecipeItem{r.Inputs, r.Outputs} {
		for _, it := range list {
			if uint64(it.Quantity)*uint64(count) > math.MaxUint32 {
				return fmt.Errorf("recipe %d x%d overflows: %w", r.ID, count, ErrInvalidQuantity)
			}
		}
	}
	return nil
}

func (b *Bank) applyCraft(inv *Inventory, r Recipe, count uint32) error {
	for _, in := range r.Inputs {
		if err := inv.Remove(in.Item, in.Quantity*count); err != nil {
			return err
		}
	}
	for _, out := range r.Outputs {
		if err := inv.Add(out.Item, out.Quantity*count, b.maxStack(out.Item)); err != nil {
			return err
		}
	}
	return nil
}

// Transfer moves count of item from one player to another.
func (b *Bank) Transfer(from, to uint64, item ItemID, count uint32) (TransactionResult, error) {
	switch {
	case from == to:
		return TransactionResult{}, ErrSelfTransfer
	case item == 0:
		return TransactionResult{}, ErrInvalidItem
	case count == 0:
		return TransactionResult{}, ErrInvalidQuantity
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	src, dst := b.inventory(from), b.inventory(to)
	res := TransactionResult{Snapshot: src.Snapshot(), Peer: dst.Snapshot()}
	if have := src.Count(item); have < count {
		return res, fmt.Errorf("transfer %d x item %d, have %d: %w", count, item, have, ErrInsufficientMaterials)
	}

	b.scratch = appendTrade(b.scratch[:0], tradeRecord{From: from, To: to, Item: item, Count: count})
	h, err := b.journal.Append(wal.OpTrade, b.scratch)
	if err != nil {
		return res, fmt.Errorf("log trade: %w", err)
	}
	res.Handle, res.Logged = h, true

	srcSnap, dstSnap := src.Snapshot(), dst.Snapshot()
	if err := b.applyTransfer(src, dst, item, count); err != nil {
		src.Restore(srcSnap)
		dst.Restore(dstSnap)
		return res, b.rollback(wal.OpTrade, from, err)
	}
	b.stats.Transfers++
	res.Snapshot, res.Peer = src.Snapshot(), dst.Snapshot()
	event.Emit(b.bus, event.ItemsTransferred{From: from, To: to, ItemID: uint32(item), Count: count})
	return res, nil
}

func (b *Bank) applyTransfer(src, dst *Inventory, item ItemID, count uint32) error {
	if err := src.Remove(item, count); err != nil {
		return err
	}
	return dst.Add(item, count, b.maxStack(item))
}

// Grant adds items outside of play (quest rewards, admin tools).
func (b *Bank) Grant(player uint64, item ItemID, count uint32) (TransactionResult, error) {
	if item == 0 {
		return TransactionResult{}, ErrInvalidItem
	}
	if count == 0 {
		return TransactionResult{}, ErrInvalidQuantity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	inv := b.inventory(player)
	res := TransactionResult{Snapshot: inv.Snapshot()}
	limit := b.maxStack(item)
	if !inv.CanAdd(item, count, limit) {
		return res, fmt.Errorf("grant %d x item %d: %w", count, item, ErrInventoryFull)
	}
	rec := stackRecord{Player: player, Item: item, Count: count, MaxStack: limit}
	b.scratch = appendInventoryAdd(b.scratch[:0], rec)
	h, err := b.journal.Append(wal.OpInventoryAdd, b.scratch)
	if err != nil {
		return res, fmt.Errorf("log inventory add: %w", err)
	}
	res.Handle, res.Logged = h, true
	if err := inv.Add(item, count, limit); err != nil {
		return res, b.rollback(wal.OpInventoryAdd, player, err)
	}
	b.stats.Grants++
	res.Snapshot = inv.Snapshot()
	return res, nil
}

// Revoke removes items outside of play.
func (b *Bank) Revoke(player uint64, item ItemID, count uint32) (TransactionResult, error) {
	if item == 0 {
		return TransactionResult{}, ErrInvalidItem
	}
	if count == 0 {
		return TransactionResult{}, ErrInvalidQuantity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	inv := b.inventory(player)
	res := TransactionResult{Snapshot: inv.Snapshot()}
	if have := inv.Count(item); have < count {
		return res, fmt.Errorf("revoke %d x item %d, have %d: %w", count, item, have, ErrInsufficientMaterials)
	}
	b.scratch = appendInventoryRemove(b.scratch[:0], stackRecord{Player: player, Item: item, Count: count})
	h, err := b.journal.Append(wal.OpInventoryRemove, b.scratch)
	if err != nil {
		return res, fmt.Errorf("log inventory remove: %w", err)
	}
	res.Handle, res.Logged = h, true
	if err := inv.Remove(item, count); err != nil {
		return res, b.rollback(wal.OpInventoryRemove, player, err)
	}
	res.Snapshot = inv.Snapshot()
	return res, nil
}

// rollback logs that the operation just journaled was undone in memory. The
// caller has already restored its snapshots.
func (b *Bank) rollback(op wal.OpType, player uint64, cause error) error {
	b.stats.Rollbacks++
	b.scratch = appendRollback(b.scratch[:0], rollbackRecord{Op: op, Player: player, Reason: cause.Error()})
	if _, err := b.journal.Append(wal.OpRollback, b.scratch); err != nil {
		b.log.Error("economy: rollback record not logged",
			zap.Stringer("op", op),
			zap.Uint64("player", player),
			zap.Error(err))
	}
	b.log.Warn("economy: transaction rolled back",
		zap.Stringer("op", op),
		zap.Uint64("player", player),
		zap.Error(cause))
	event.Emit(b.bus, event.TransactionRolledBack{Player: player, Op: op.String(), Reason: cause.Error()})
	return fmt.Errorf("%w: %w", ErrTransactionRolledBack, cause)
}

// Replay rebuilds inventories from logged records, in order. It does not log.
// Operations that failed when first run fail the same way here and are
// reverted. Records of other subsystems are skipped.
func (b *Bank) Replay(records []wal.Record) (ReplayStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var st ReplayStats
	for _, rec := range records {
		reverted, err := b.replayOne(rec, &st)
		switch {
		case err != nil:
			return st, fmt.Errorf("replay %s at offset %d: %w", rec.Op, rec.Offset, err)
		case rec.Op == wal.OpRollback:
			st.Rollbacks++
		case reverted:
			st.Reverted++
		case isEconomyOp(rec.Op):
			st.Applied++
		default:
			st.Skipped++
		}
	}
	if st.Unverified > 0 {
		b.log.Warn("economy: logged drops do not match their rolls", zap.Int("drops", st.Unverified))
	}
	if st.Reverted != st.Rollbacks {
		b.log.Warn("economy: replay reverted count differs from logged rollbacks",
			zap.Int("reverted", st.Reverted),
			zap.Int("rollbacks", st.Rollbacks))
	}
	return st, nil
}

func isEconomyOp(op wal.OpType) bool {
	switch op {
	case wal.OpLootDrop, wal.OpInventoryAdd, wal.OpInventoryRemove, wal.OpCraft, wal.OpTrade:
		return true
	}
	return false
}

// replayOne applies one record. reverted is true when the apply failed and
// the touched inventories were restored.
func (b *Bank) replayOne(rec wal.Record, st *ReplayStats) (reverted bool, err error) {
	switch rec.Op {
	case wal.OpLootDrop:
		r, err := decodeLootDrop(rec.Payload)
		if err != nil {
			return false, err
		}
		if r.Drop.Secure {
			b.loot.observeSecureNonce(r.Drop.SecureNonce)
		}
		if !b.loot.Verify(r.Drop) {
			st.Unverified++
		}
		inv := b.inventory(r.Player)
		snap := inv.Snapshot()
		if inv.Add(r.Drop.Item, r.Drop.Quantity, b.maxStack(r.Drop.Item)) != nil {
			inv.Restore(snap)
			return true, nil
		}
	case wal.OpInventoryAdd:
		r, err := decodeInventoryAdd(rec.Payload)
		if err != nil {
			return false, err
		}
		if b.inventory(r.Player).Add(r.Item, r.Count, r.MaxStack) != nil {
			return true, nil
		}
	case wal.OpInventoryRemove:
		r, err := decodeInventoryRemove(rec.Payload)
		if err != nil {
			return false, err
		}
		if b.inventory(r.Player).Remove(r.Item, r.Count) != nil {
			return true, nil
		}
	case wal.OpCraft:
		r, err := decodeCraft(rec.Payload)
		if err != nil {
			return false, err
		}
		recipe, ok := b.graph.Recipe(r.Recipe)
		if !ok {
			return false, fmt.Errorf("recipe %d: %w", r.Recipe, ErrRecipeNotFound)
		}
		inv := b.inventory(r.Player)
		snap := inv.Snapshot()
		if b.applyCraft(inv, recipe, r.Count) != nil {
			inv.Restore(snap)
			return true, nil
		}
	case wal.OpTrade:
		r, err := decodeTrade(rec.Payload)
		if err != nil {
			return false, err
		}
		src, dst := b.inventory(r.From), b.inventory(r.To)
		srcSnap, dstSnap := src.Snapshot(), dst.Snapshot()
		if b.applyTransfer(src, dst, r.Item, r.Count) != nil {
			src.Restore(srcSnap)
			dst.Restore(dstSnap)
			return true, nil
		}
	case wal.OpRollback:
		if _, err := decodeRollback(rec.Payload); err != nil {
			return false, err
		}
	}
	return false, nil
}
