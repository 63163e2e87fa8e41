package event

// Economy events. Emitted after the WAL record is appended and the
// in-memory state has changed.

type LootDropped struct {
	Player   uint64
	BlockID  uint32
	ItemID   uint32
	Quantity uint32
	Rarity   uint8
}

type ItemCrafted struct {
	Player   uint64
	RecipeID uint32
	Count    uint32
}

type ItemsTransferred struct {
	From   uint64
	To     uint64
	ItemID uint32
	Count  uint32
}

type TransactionRolledBack struct {
	Player uint64
	Op     string
	Reason string
}

// World streaming events.

type ChunkColumnLoaded struct {
	X, Z      int32
	Generated bool // false when restored from disk
}

type ChunkColumnEvicted struct {
	X, Z  int32
	Saved bool
}
