package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type RecipeItem struct {
	ItemID uint32 `yaml:"item_id"`
	Amount uint32 `yaml:"amount"`
}

type Recipe struct {
	ID      uint32       `yaml:"id"`
	Name    string       `yaml:"name"`
	Inputs  []RecipeItem `yaml:"inputs"`
	Outputs []RecipeItem `yaml:"outputs"`
}

type recipeListFile struct {
	Recipes []Recipe `yaml:"recipes"`
}

// LoadRecipeList loads crafting recipes in file order. Registration order
// matters only for error reporting: the first recipe that closes a cycle is
// the one rejected.
func LoadRecipeList(path string) ([]Recipe, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe_list: %w", err)
	}
	var f recipeListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse recipe_list: %w", err)
	}
	return f.Recipes, nil
}
