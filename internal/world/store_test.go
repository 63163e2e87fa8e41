package world

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	s, err := NewDiskStore(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)
	defer s.Close()

	cc := ColumnCoord{X: -3, Z: 12}
	_, err = s.Load(cc)
	require.ErrorIs(t, err, ErrColumnNotFound)

	raw := bytes.Repeat([]byte{byte(Stone), byte(Dirt), byte(Air), byte(Air)}, 2*ChunkVolume/4)
	require.NoError(t, s.Save(cc, raw))
	got, err := s.Load(cc)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	// Overwrite in place.
	raw[0] = byte(Wood)
	require.NoError(t, s.Save(cc, raw))
	got, err = s.Load(cc)
	require.NoError(t, err)
	require.Equal(t, byte(Wood), got[0])

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestDiskStoreDetectsCorruption(t *testing.T) {
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	cc := ColumnCoord{X: 1, Z: 1}
	raw := make([]byte, ChunkVolume)
	for i := range raw {
		raw[i] = byte(i % 7)
	}
	require.NoError(t, s.Save(cc, raw))

	path := s.path(cc)
	b, err := os.ReadFile(path)
	require.NoError(t, err)

	// Bad checksum.
	bad := bytes.Clone(b)
	bad[12] ^= 0xff
	require.NoError(t, os.WriteFile(path, bad, 0o644))
	_, err = s.Load(cc)
	require.ErrorIs(t, err, ErrCorruptColumn)

	// Bad magic.
	bad = bytes.Clone(b)
	bad[0] = 'X'
	require.NoError(t, os.WriteFile(path, bad, 0o644))
	_, err = s.Load(cc)
	require.ErrorIs(t, err, ErrCorruptColumn)

	// Truncated body.
	require.NoError(t, os.WriteFile(path, b[:len(b)-3], 0o644))
	_, err = s.Load(cc)
	require.ErrorIs(t, err, ErrCorruptColumn)
}

func TestCorruptColumnIsRegenerated(t *testing.T) {
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, os.WriteFile(s.path(ColumnCoord{}), []byte("garbage"), 0o644))

	m := NewManager(testConfig(4), s, nil)
	m.EnsureLoadedAround(0, 0, 0)
	require.True(t, m.HasGround(0, 127, 0))
	require.Equal(t, uint64(8), m.Stats().ChunksGenerated)
	require.Zero(t, m.Stats().ColumnsRestored)
}

func TestManagerConfigValidate(t *testing.T) {
	require.NoError(t, DefaultManagerConfig().Validate())

	for name, mut := range map[string]func(*ManagerConfig){
		"unload below view": func(c *ManagerConfig) { c.UnloadRadius = c.ViewRadius - 1 },
		"zero budget":       func(c *ManagerConfig) { c.PerTickGenBudget = 0 },
		"zero workers":      func(c *ManagerConfig) { c.WorkerThreads = 0 },
		"tiny cap":          func(c *ManagerConfig) { c.MaxLoadedChunks = 3 },
		"no headroom":       func(c *ManagerConfig) { c.MaxHeight = 250 },
		"sea below min":     func(c *ManagerConfig) { c.SeaLevel = 10 },
		"y range":           func(c *ManagerConfig) { c.MaxChunkY = 16 },
	} {
		cfg := DefaultManagerConfig()
		mut(&cfg)
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, name)
	}
}
