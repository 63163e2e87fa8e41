package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/oroboros/server/internal/data"
)

// Engine wraps a single gopher-lua VM for content scripts.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	// Load core scripts first, then feature scripts
	for _, sub := range []string{"core", "economy", "world"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk of Lua in the engine's VM.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// --- Economy Bridge ---

// Recipes calls Lua get_recipes() and returns the scripted recipe pack.
// A missing function means no scripted recipes.
func (e *Engine) Recipes() ([]data.Recipe, error) {
	rt, err := e.callTable("get_recipes")
	if err != nil || rt == nil {
		return nil, err
	}
	var out []data.Recipe
	var bad error
	rt.ForEach(func(_, v lua.LValue) {
		row, ok := v.(*lua.LTable)
		if !ok {
			bad = fmt.Errorf("get_recipes: entry is %s, want table", v.Type())
			return
		}
		out = append(out, data.Recipe{
			ID:      uint32(lInt(row, "id")),
			Name:    lStr(row, "name"),
			Inputs:  recipeItems(row.RawGetString("inputs")),
			Outputs: recipeItems(row.RawGetString("outputs")),
		})
	})
	if bad != nil {
		return nil, bad
	}
	return out, nil
}

func recipeItems(v lua.LValue) []data.RecipeItem {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var items []data.RecipeItem
	t.ForEach(func(_, v lua.LValue) {
		if row, ok := v.(*lua.LTable); ok {
			items = append(items, data.RecipeItem{
				ItemID: uint32(lInt(row, "item_id")),
				Amount: uint32(lInt(row, "amount")),
			})
		}
	})
	return items
}

// LootOverrides calls Lua get_loot_overrides(). Each returned table replaces
// the YAML table of the same block.
func (e *Engine) LootOverrides() ([]data.BlockLoot, error) {
	rt, err := e.callTable("get_loot_overrides")
	if err != nil || rt == nil {
		return nil, err
	}
	var out []data.BlockLoot
	rt.ForEach(func(_, v lua.LValue) {
		row, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		b := data.BlockLoot{
			BlockID:     uint32(lInt(row, "block_id")),
			Name:        lStr(row, "name"),
			Rarity:      lStr(row, "rarity"),
			AlwaysDrops: lua.LVAsBool(row.RawGetString("always_drops")),
		}
		if items, ok := row.RawGetString("items").(*lua.LTable); ok {
			items.ForEach(func(_, v lua.LValue) {
				it, ok := v.(*lua.LTable)
				if !ok {
					return
				}
				b.Items = append(b.Items, data.LootItem{
					ItemID:      uint32(lInt(it, "item_id")),
					Weight:      uint32(lInt(it, "weight")),
					Min:         uint32(lInt(it, "min")),
					Max:         uint32(lInt(it, "max")),
					Rarity:      lStr(it, "rarity"),
					MinLevel:    uint8(lInt(it, "min_level")),
					MinToolTier: uint8(lInt(it, "min_tool_tier")),
				})
			})
		}
		out = append(out, b)
	})
	return out, nil
}

// --- World Bridge ---

// WeatherSeed calls Lua weather_seed(tick). Without the function the seed is
// constant, which keeps loot rolls a function of the nonce alone.
func (e *Engine) WeatherSeed(tick uint64) (uint32, error) {
	if e.vm.GetGlobal("weather_seed") == lua.LNil {
		return 0, nil
	}
	n, err := e.callIntFunc("weather_seed", int(tick%(1<<31)))
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// --- Lua helpers ---

// callTable calls a zero-argument Lua function that returns a table. A
// missing function returns (nil, nil).
func (e *Engine) callTable(name string) (*lua.LTable, error) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return nil, nil
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return nil, fmt.Errorf("lua %s: %w", name, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	if result == lua.LNil {
		return nil, nil
	}
	rt, ok := result.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua %s returned %s, want table", name, result.Type())
	}
	return rt, nil
}

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// callIntFunc calls a Lua function with int args and returns an int result.
func (e *Engine) callIntFunc(name string, args ...int) (int, error) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return 0, fmt.Errorf("lua %s: function not found", name)
	}

	lArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lArgs[i] = lua.LNumber(a)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lArgs...); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return 0, fmt.Errorf("lua %s: %w", name, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	n, ok := result.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("lua %s returned %s, want number", name, result.Type())
	}
	return int(n), nil
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
