package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLootList(t *testing.T) {
	l, err := ParseLootList([]byte(`
blocks:
  - block_id: 56
    name: diamond_ore
    rarity: rare
    always_drops: true
    items:
      - { item_id: 264, weight: 1, min: 1, max: 3, min_tool_tier: 3 }
  - block_id: 2
    items:
      - { item_id: 4, weight: 1, min: 1, max: 1 }
`))
	require.NoError(t, err)
	require.Equal(t, 2, l.Count())
	b := l.Get(56)
	require.NotNil(t, b)
	require.True(t, b.AlwaysDrops)
	require.Equal(t, uint8(3), b.Items[0].MinToolTier)
	require.Nil(t, l.Get(3))

	all := l.All()
	require.Equal(t, uint32(56), all[0].BlockID)
	require.Equal(t, uint32(2), all[1].BlockID)

	l.Put(BlockLoot{BlockID: 56, Rarity: "epic"})
	require.Equal(t, "epic", l.Get(56).Rarity)
	require.Len(t, l.All(), 2)
}

func TestParseLootListRejectsDuplicates(t *testing.T) {
	_, err := ParseLootList([]byte("blocks: [{block_id: 1}, {block_id: 1}]"))
	require.Error(t, err)
}

func TestLoadItemAndRecipeLists(t *testing.T) {
	dir := t.TempDir()
	items := filepath.Join(dir, "items.yaml")
	require.NoError(t, os.WriteFile(items, []byte("items: [{item_id: 7, name: pick, max_stack: 1}]"), 0o644))
	tbl, err := LoadItemTable(items)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Count())
	require.Equal(t, uint32(1), tbl.MaxStack(7))
	require.Zero(t, tbl.MaxStack(8))

	recipes := filepath.Join(dir, "recipes.yaml")
	require.NoError(t, os.WriteFile(recipes, []byte(`
recipes:
  - id: 1
    name: planks
    inputs: [{item_id: 17, amount: 1}]
    outputs: [{item_id: 5, amount: 4}]
`), 0o644))
	rs, err := LoadRecipeList(recipes)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, uint32(4), rs[0].Outputs[0].Amount)

	_, err = LoadRecipeList(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
