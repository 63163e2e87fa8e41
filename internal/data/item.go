package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ItemInfo is the static template of an item.
type ItemInfo struct {
	ItemID    uint32 `yaml:"item_id"`
	Name      string `yaml:"name"`
	MaxStack  uint32 `yaml:"max_stack"`
	Rarity    string `yaml:"rarity"`
	Tradeable bool   `yaml:"tradeable"`
}

type itemListFile struct {
	Items []ItemInfo `yaml:"items"`
}

// ItemTable holds all item templates indexed by ItemID.
type ItemTable struct {
	items map[uint32]*ItemInfo
}

// Get returns an item by ID, or nil if not found.
func (t *ItemTable) Get(itemID uint32) *ItemInfo {
	return t.items[itemID]
}

// Count returns total loaded items.
func (t *ItemTable) Count() int {
	return len(t.items)
}

// MaxStack returns the item's stack limit, 0 when the item is unknown or
// leaves it unset.
func (t *ItemTable) MaxStack(itemID uint32) uint32 {
	if it := t.items[itemID]; it != nil {
		return it.MaxStack
	}
	return 0
}

// LoadItemTable loads item templates from a YAML file.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read item_list: %w", err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse item_list: %w", err)
	}
	t := &ItemTable{items: make(map[uint32]*ItemInfo, len(f.Items))}
	for i := range f.Items {
		it := &f.Items[i]
		if it.ItemID == 0 {
			return nil, fmt.Errorf("parse item_list: entry %d (%s) has item_id 0", i, it.Name)
		}
		t.items[it.ItemID] = it
	}
	return t, nil
}
