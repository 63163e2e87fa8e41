package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LootItem is one possible drop from a block.
type LootItem struct {
	ItemID      uint32 `yaml:"item_id"`
	Weight      uint32 `yaml:"weight"`
	Min         uint32 `yaml:"min"`
	Max         uint32 `yaml:"max"`
	Rarity      string `yaml:"rarity"`
	MinLevel    uint8  `yaml:"min_level"`
	MinToolTier uint8  `yaml:"min_tool_tier"`
}

// BlockLoot is the loot table of one block type.
type BlockLoot struct {
	BlockID     uint32     `yaml:"block_id"`
	Name        string     `yaml:"name"`
	Rarity      string     `yaml:"rarity"`
	AlwaysDrops bool       `yaml:"always_drops"`
	Items       []LootItem `yaml:"items"`
}

type lootListFile struct {
	Blocks []BlockLoot `yaml:"blocks"`
}

// LootList holds all block loot tables indexed by block ID.
type LootList struct {
	blocks map[uint32]*BlockLoot
	order  []uint32
}

// Get returns the loot table for a block, or nil if none defined.
func (l *LootList) Get(blockID uint32) *BlockLoot {
	return l.blocks[blockID]
}

// Count returns the number of blocks with loot entries.
func (l *LootList) Count() int {
	return len(l.blocks)
}

// All returns the tables in file order.
func (l *LootList) All() []*BlockLoot {
	out := make([]*BlockLoot, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.blocks[id])
	}
	return out
}

// Put adds or replaces a block's table. Used by loot scripts.
func (l *LootList) Put(b BlockLoot) {
	if _, ok := l.blocks[b.BlockID]; !ok {
		l.order = append(l.order, b.BlockID)
	}
	l.blocks[b.BlockID] = &b
}

// LoadLootList loads block loot tables from a YAML file.
func LoadLootList(path string) (*LootList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read loot_list: %w", err)
	}
	return ParseLootList(raw)
}

func ParseLootList(raw []byte) (*LootList, error) {
	var f lootListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse loot_list: %w", err)
	}
	l := &LootList{blocks: make(map[uint32]*BlockLoot, len(f.Blocks))}
	for _, b := range f.Blocks {
		if _, dup := l.blocks[b.BlockID]; dup {
			return nil, fmt.Errorf("parse loot_list: block %d listed twice", b.BlockID)
		}
		l.Put(b)
	}
	return l, nil
}
