package economy

import (
	"fmt"

	"github.com/oroboros/server/internal/data"
)

// LootTableFromData converts a loaded block table.
func LootTableFromData(b *data.BlockLoot) (LootTable, error) {
	rarity, err := ParseRarity(b.Rarity)
	if err != nil {
		return LootTable{}, fmt.Errorf("block %d: %w", b.BlockID, err)
	}
	t := LootTable{BlockID: b.BlockID, Rarity: rarity, AlwaysDrops: b.AlwaysDrops}
	for _, it := range b.Items {
		r, err := ParseRarity(it.Rarity)
		if err != nil {
			return LootTable{}, fmt.Errorf("block %d item %d: %w", b.BlockID, it.ItemID, err)
		}
		t.Entries = append(t.Entries, LootEntry{
			Item:        ItemID(it.ItemID),
			Weight:      it.Weight,
			MinQuantity: it.Min,
			MaxQuantity: max(it.Max, it.Min),
			Rarity:      r,
			MinLevel:    it.MinLevel,
			MinToolTier: it.MinToolTier,
		})
	}
	return t, nil
}

// RegisterLootList registers every table of list with c.
func RegisterLootList(c *LootCalculator, list *data.LootList) error {
	for _, b := range list.All() {
		t, err := LootTableFromData(b)
		if err != nil {
			return err
		}
		if err := c.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func RecipeFromData(r data.Recipe) Recipe {
	out := Recipe{ID: RecipeID(r.ID), Name: r.Name}
	for _, in := range r.Inputs {
		out.Inputs = append(out.Inputs, RecipeItem{Item: ItemID(in.ItemID), Quantity: in.Amount})
	}
	for _, o := range r.Outputs {
		out.Outputs = append(out.Outputs, RecipeItem{Item: ItemID(o.ItemID), Quantity: o.Amount})
	}
	return out
}

// RegisterRecipes adds recipes in order and stops at the first rejected one.
func RegisterRecipes(g *CraftingGraph, recipes []data.Recipe) error {
	for _, r := range recipes {
		if err := g.RegisterRecipe(RecipeFromData(r)); err != nil {
			return err
		}
	}
	return nil
}

// StackLimitsFrom adapts an item table for WithStackLimits.
func StackLimitsFrom(items *data.ItemTable) func(ItemID) uint32 {
	return func(id ItemID) uint32 { return items.MaxStack(uint32(id)) }
}
