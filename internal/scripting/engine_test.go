package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShippedScripts(t *testing.T) {
	e, err := NewEngine("../../scripts", nil)
	require.NoError(t, err)
	defer e.Close()

	recipes, err := e.Recipes()
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	require.Equal(t, uint32(100), recipes[0].ID)
	require.Equal(t, "gold_pickaxe", recipes[0].Name)
	require.Len(t, recipes[0].Inputs, 2)
	require.Equal(t, uint32(266), recipes[0].Inputs[0].ItemID)
	require.Equal(t, uint32(3), recipes[0].Inputs[0].Amount)

	loot, err := e.LootOverrides()
	require.NoError(t, err)
	require.Len(t, loot, 1)
	require.Equal(t, uint32(5), loot[0].BlockID)
	require.Len(t, loot[0].Items, 2)
	require.Equal(t, "uncommon", loot[0].Items[1].Rarity)

	// Same epoch, same seed; the seed moves with the epoch.
	for _, tc := range []struct {
		tick uint64
		want uint32
	}{
		{0, 270369},
		{1199, 270369},
		{1200, 1361127282},
		{2400, 2724113954},
		{3600 + 17, 4153947222},
	} {
		seed, err := e.WeatherSeed(tc.tick)
		require.NoError(t, err)
		require.Equal(t, tc.want, seed, "tick %d", tc.tick)
	}
}

func TestBitXor(t *testing.T) {
	e, err := NewEngine("../../scripts", nil)
	require.NoError(t, err)
	defer e.Close()

	for _, tc := range [][3]int{{0, 0, 0}, {5, 3, 6}, {255, 170, 85}, {1 << 31, 1, 1<<31 + 1}, {4294967295, 65535, 4294901760}} {
		got, err := e.callIntFunc("bit_xor", tc[0], tc[1])
		require.NoError(t, err)
		require.Equal(t, tc[2], got, "%d ^ %d", tc[0], tc[1])
	}
}

func TestMissingFunctionsAreEmpty(t *testing.T) {
	e, err := NewEngine(t.TempDir(), nil)
	require.NoError(t, err)
	defer e.Close()

	recipes, err := e.Recipes()
	require.NoError(t, err)
	require.Empty(t, recipes)
	loot, err := e.LootOverrides()
	require.NoError(t, err)
	require.Empty(t, loot)
	seed, err := e.WeatherSeed(42)
	require.NoError(t, err)
	require.Zero(t, seed)

	_, err = e.callIntFunc("weather_seed", 1)
	require.ErrorContains(t, err, "not found")
}

func TestScriptErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "economy"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "economy", "bad.lua"),
		[]byte(`function get_recipes() return 7 end
function get_loot_overrides() error("boom") end`), 0o644))

	e, err := NewEngine(dir, nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Recipes()
	require.ErrorContains(t, err, "want table")
	_, err = e.LootOverrides()
	require.ErrorContains(t, err, "boom")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "world"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world", "weather.lua"),
		[]byte(`function weather_seed(tick) if tick > 10 then error("storm") end return "calm" end`), 0o644))
	w, err := NewEngine(dir, nil)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.WeatherSeed(20)
	require.ErrorContains(t, err, "storm")
	_, err = w.WeatherSeed(1)
	require.ErrorContains(t, err, "want number")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "economy", "bad.lua"), []byte("function ("), 0o644))
	_, err = NewEngine(dir, nil)
	require.Error(t, err)
}
