package economy

import "fmt"

// InventorySlots is the fixed slot count of every player inventory.
const InventorySlots = 64

// DefaultMaxStack applies to items with no configured stack limit.
const DefaultMaxStack = 64

// ItemID 0 marks an empty slot.
type ItemID uint32

type Stack struct {
	Item  ItemID
	Count uint32
}

func (s Stack) Empty() bool { return s.Item == 0 || s.Count == 0 }

// Inventory is a fixed array of slots. It is a plain value type: copying it
// copies every slot, which is how snapshots work.
type Inventory struct {
	slots [InventorySlots]Stack
	used  int
}

// Snapshot is an immutable copy of an inventory used for rollback and for
// returning state to callers.
type Snapshot struct {
	inv Inventory
}

func (s Snapshot) Count(item ItemID) uint32 { return s.inv.Count(item) }
func (s Snapshot) Slot(i int) Stack         { return s.inv.Slot(i) }
func (s Snapshot) Used() int                { return s.inv.used }
func (s Snapshot) Stacks() []Stack          { return s.inv.Stacks() }

func NewInventory() *Inventory { return &Inventory{} }

func (inv *Inventory) Used() int  { return inv.used }
func (inv *Inventory) Full() bool { return inv.used == InventorySlots }
func (inv *Inventory) Slot(i int) Stack {
	if i < 0 || i >= InventorySlots {
		return Stack{}
	}
	return inv.slots[i]
}

// Count totals an item across all slots.
func (inv *Inventory) Count(item ItemID) uint32 {
	var n uint32
	for _, s := range inv.slots {
		if s.Item == item {
			n += s.Count
		}
	}
	return n
}

// Stacks returns the non-empty slots in slot order.
func (inv *Inventory) Stacks() []Stack {
	out := make([]Stack, 0, inv.used)
	for _, s := range inv.slots {
		if !s.Empty() {
			out = append(out, s)
		}
	}
	return out
}

// CanAdd reports whether Add(item, count, maxStack) would succeed.
func (inv *Inventory) CanAdd(item ItemID, count, maxStack uint32) bool {
	if item == 0 || maxStack == 0 {
		return false
	}
	room := uint64(0)
	for _, s := range inv.slots {
		switch {
		case s.Empty():
			room += uint64(maxStack)
		case s.Item == item && s.Count < maxStack:
			room += uint64(maxStack - s.Count)
		}
		if room >= uint64(count) {
			return true
		}
	}
	return room >= uint64(count)
}

// Add stacks into existing slots of the same item first, then fills empty
// slots in order. Nothing changes when the items do not fit.
func (inv *Inventory) Add(item ItemID, count, maxStack uint32) error {
	if item == 0 {
		return ErrInvalidItem
	}
	if count == 0 || maxStack == 0 {
		return ErrInvalidQuantity
	}
	if !inv.CanAdd(item, count, maxStack) {
		return fmt.Errorf("add %d x item %d: %w", count, item, ErrInventoryFull)
	}
	remaining := count
	for i := range inv.slots {
		s := &inv.slots[i]
		if remaining == 0 {
			return nil
		}
		if s.Item == item && s.Count > 0 && s.Count < maxStack {
			n := min(maxStack-s.Count, remaining)
			s.Count += n
			remaining -= n
		}
	}
	for i := range inv.slots {
		s := &inv.slots[i]
		if remaining == 0 {
			break
		}
		if s.Empty() {
			n := min(maxStack, remaining)
			*s = Stack{Item: item, Count: n}
			inv.used++
			remaining -= n
		}
	}
	return nil
}

// Remove takes count items from the earliest slots holding them.
func (inv *Inventory) Remove(item ItemID, count uint32) error {
	if item == 0 {
		return ErrInvalidItem
	}
	if count == 0 {
		return ErrInvalidQuantity
	}
	if have := inv.Count(item); have < count {
		return fmt.Errorf("remove %d x item %d, have %d: %w", count, item, have, ErrInsufficientMaterials)
	}
	remaining := count
	for i := range inv.slots {
		s := &inv.slots[i]
		if remaining == 0 {
			break
		}
		if s.Item != item {
			continue
		}
		n := min(s.Count, remaining)
		s.Count -= n
		remaining -= n
		if s.Count == 0 {
			*s = Stack{}
			inv.used--
		}
	}
	return nil
}

func (inv *Inventory) Snapshot() Snapshot { return Snapshot{inv: *inv} }
func (inv *Inventory) Restore(s Snapshot) { *inv = s.inv }
