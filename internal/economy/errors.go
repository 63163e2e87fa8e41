package economy

import "errors"

var (
	ErrInsufficientMaterials = errors.New("economy: insufficient materials")
	ErrInventoryFull         = errors.New("economy: inventory full")
	ErrInvalidItem           = errors.New("economy: invalid item id")
	ErrInvalidQuantity       = errors.New("economy: invalid quantity")
	ErrItemNotFound          = errors.New("economy: item not found")

	ErrRecipeNotFound  = errors.New("economy: recipe not found")
	ErrInvalidRecipe   = errors.New("economy: invalid recipe")
	ErrDuplicateRecipe = errors.New("economy: duplicate recipe id")
	// ErrCycleDetected rejects a recipe that would let an item be crafted,
	// directly or transitively, from itself.
	ErrCycleDetected = errors.New("economy: recipe creates a cycle")

	ErrInvalidLootTable = errors.New("economy: invalid loot table")
	ErrSelfTransfer     = errors.New("economy: transfer to same player")
	ErrMalformedPayload = errors.New("economy: malformed wal payload")
	ErrInvalidSecret    = errors.New("economy: invalid server secret")

	// ErrTransactionRolledBack wraps the apply error after the snapshot has
	// been restored and a rollback record logged.
	ErrTransactionRolledBack = errors.New("economy: transaction rolled back")
)
