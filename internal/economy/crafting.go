package economy

import (
	"fmt"
	"slices"
	"sync"
)

type RecipeID uint32

type RecipeItem struct {
	Item     ItemID
	Quantity uint32
}

type Recipe struct {
	ID      RecipeID
	Name    string
	Inputs  []RecipeItem
	Outputs []RecipeItem
}

func (r *Recipe) validate() error {
	if r.ID == 0 {
		return fmt.Errorf("recipe id 0: %w", ErrInvalidRecipe)
	}
	if len(r.Inputs) == 0 || len(r.Outputs) == 0 {
		return fmt.Errorf("recipe %d needs inputs and outputs: %w", r.ID, ErrInvalidRecipe)
	}
	for _, list := range [2][]RecipeItem{r.Inputs, r.Outputs} {
		for _, it := range list {
			if it.Item == 0 || it.Quantity == 0 {
				return fmt.Errorf("recipe %d item %d x%d: %w", r.ID, it.Item, it.Quantity, ErrInvalidRecipe)
			}
		}
	}
	return nil
}

// CraftingGraph is the set of registered recipes viewed as a graph from each
// input item to each output item. It stays acyclic: a recipe that would close
// a cycle is refused at registration.
type CraftingGraph struct {
	mu        sync.RWMutex
	recipes   map[RecipeID]*Recipe
	producers map[ItemID][]RecipeID
	consumers map[ItemID][]RecipeID
}

func NewCraftingGraph() *CraftingGraph {
	return &CraftingGraph{
		recipes:   make(map[RecipeID]*Recipe),
		producers: make(map[ItemID][]RecipeID),
		consumers: make(map[ItemID][]RecipeID),
	}
}

// RegisterRecipe adds r. It fails with ErrCycleDetected, leaving the graph
// unchanged, if some output of r can already be turned into one of its
// inputs.
func (g *CraftingGraph) RegisterRecipe(r Recipe) error {
	if err := r.validate(); err != nil {
		return err
	}
	r.Inputs = slices.Clone(r.Inputs)
	r.Outputs = slices.Clone(r.Outputs)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.recipes[r.ID]; dup {
		return fmt.Errorf("recipe %d: %w", r.ID, ErrDuplicateRecipe)
	}
	for _, in := range r.Inputs {
		for _, out := range r.Outputs {
			if g.reachable(out.Item, in.Item) {
				return fmt.Errorf("recipe %d (%s): item %d leads back to item %d: %w",
					r.ID, r.Name, out.Item, in.Item, ErrCycleDetected)
			}
		}
	}
	g.insert(&r)
	return nil
}

func (g *CraftingGraph) insert(r *Recipe) {
	g.recipes[r.ID] = r
	for _, in := range r.Inputs {
		g.consumers[in.Item] = appendUnique(g.consumers[in.Item], r.ID)
	}
	for _, out := range r.Outputs {
		g.producers[out.Item] = appendUnique(g.producers[out.Item], r.ID)
	}
}

func appendUnique(ids []RecipeID, id RecipeID) []RecipeID {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

const (
	white = iota
	grey
	black
)

// reachable reports whether to can be crafted from from, following recipes
// forward. The walk is a three-colour DFS; with the graph acyclic a grey hit
// cannot happen, so grey only guards against revisiting the current path.
func (g *CraftingGraph) reachable(from, to ItemID) bool {
	if from == to {
		return true
	}
	color := make(map[ItemID]uint8)
	var visit func(ItemID) bool
	visit = func(it ItemID) bool {
		if it == to {
			return true
		}
		color[it] = grey
		for _, rid := range g.consumers[it] {
			for _, out := range g.recipes[rid].Outputs {
				if color[out.Item] != white {
					continue
				}
				if visit(out.Item) {
					return true
				}
			}
		}
		color[it] = black
		return false
	}
	return visit(from)
}

// HasCycle runs a full three-colour DFS over every item. It is false for any
// graph built through RegisterRecipe.
func (g *CraftingGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	color := make(map[ItemID]uint8)
	var visit func(ItemID) bool
	visit = func(it ItemID) bool {
		color[it] = grey
		for _, rid := range g.consumers[it] {
			for _, out := range g.recipes[rid].Outputs {
				switch color[out.Item] {
				case grey:
					return true
				case white:
					if visit(out.Item) {
						return true
					}
				}
			}
		}
		color[it] = black
		return false
	}
	for it := range g.consumers {
		if color[it] == white && visit(it) {
			return true
		}
	}
	return false
}

// Recipe returns a copy of the registered recipe.
func (g *CraftingGraph) Recipe(id RecipeID) (Recipe, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.recipes[id]
	if !ok {
		return Recipe{}, false
	}
	return Recipe{ID: r.ID, Name: r.Name, Inputs: slices.Clone(r.Inputs), Outputs: slices.Clone(r.Outputs)}, true
}

// Producers lists the recipes that output item, in registration order.
func (g *CraftingGraph) Producers(item ItemID) []RecipeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.producers[item])
}

func (g *CraftingGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.recipes)
}

// TopologicalOrder returns every recipe id such that a recipe comes after all
// recipes producing any of its inputs. Ties break by ascending id.
func (g *CraftingGraph) TopologicalOrder() []RecipeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indeg := make(map[RecipeID]int, len(g.recipes))
	next := make(map[RecipeID][]RecipeID, len(g.recipes))
	for id, r := range g.recipes {
		deps := make(map[RecipeID]struct{})
		for _, in := range r.Inputs {
			for _, p := range g.producers[in.Item] {
				if p != id {
					deps[p] = struct{}{}
				}
			}
		}
		indeg[id] = len(deps)
		for p := range deps {
			next[p] = append(next[p], id)
		}
	}

	var ready []RecipeID
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	order := make([]RecipeID, 0, len(g.recipes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		var freed []RecipeID
		for _, n := range next[id] {
			indeg[n]--
			if indeg[n] == 0 {
				freed = append(freed, n)
			}
		}
		ready = append(ready, freed...)
		slices.Sort(ready)
	}
	return order
}
