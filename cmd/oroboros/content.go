package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/oroboros/server/internal/config"
	"github.com/oroboros/server/internal/data"
	"github.com/oroboros/server/internal/economy"
	"github.com/oroboros/server/internal/scripting"
)

type content struct {
	items   *data.ItemTable
	loot    *economy.LootCalculator
	graph   *economy.CraftingGraph
	scripts *scripting.Engine
}

// loadContent reads the YAML tables, applies script overrides and builds the
// loot calculator and crafting graph. Scripted recipes register after the
// YAML ones, so a scripted recipe closing a cycle is the one rejected.
func loadContent(cfg *config.Config, log *zap.Logger) (*content, error) {
	items, err := data.LoadItemTable(cfg.Economy.Items)
	if err != nil {
		return nil, fmt.Errorf("load item table: %w", err)
	}
	printStat("item templates", items.Count())

	lootList, err := data.LoadLootList(cfg.Economy.LootTable)
	if err != nil {
		return nil, fmt.Errorf("load loot list: %w", err)
	}
	recipes, err := data.LoadRecipeList(cfg.Economy.Recipes)
	if err != nil {
		return nil, fmt.Errorf("load recipe list: %w", err)
	}

	scripts, err := scripting.NewEngine(cfg.Scripting.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("scripting: %w", err)
	}
	overrides, err := scripts.LootOverrides()
	if err != nil {
		scripts.Close()
		return nil, fmt.Errorf("loot overrides: %w", err)
	}
	for _, b := range overrides {
		lootList.Put(b)
	}
	scripted, err := scripts.Recipes()
	if err != nil {
		scripts.Close()
		return nil, fmt.Errorf("scripted recipes: %w", err)
	}
	recipes = append(recipes, scripted...)

	var salt economy.BlockchainSalt
	if cfg.Economy.SaltPhrase != "" {
		salt = economy.SaltFromPhrase(cfg.Economy.SaltPhrase)
	}
	loot := economy.NewLootCalculator(salt)
	if err := loot.SetSecret(cfg.Economy.Secret()); err != nil {
		scripts.Close()
		return nil, err
	}
	if err := economy.RegisterLootList(loot, lootList); err != nil {
		scripts.Close()
		return nil, fmt.Errorf("register loot: %w", err)
	}
	printStat("loot tables", lootList.Count())
	printStat("loot script overrides", len(overrides))
	if loot.Secure() {
		printOK("secure rolls for " + economy.SecureFrom.String() + " and rarer tables")
	}

	graph := economy.NewCraftingGraph()
	if err := economy.RegisterRecipes(graph, recipes); err != nil {
		scripts.Close()
		return nil, fmt.Errorf("register recipes: %w", err)
	}
	printStat("recipes", graph.Len())
	printStat("scripted recipes", len(scripted))
	fmt.Println()

	return &content{items: items, loot: loot, graph: graph, scripts: scripts}, nil
}
