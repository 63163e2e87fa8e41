package world

import (
	"math"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"
)

func TestDeriveIsIndependent(t *testing.T) {
	s := WorldSeed(42)
	require.Equal(t, s.Derive(PurposeHeight), s.Derive(PurposeHeight))
	require.NotEqual(t, s.Derive(PurposeHeight), s.Derive(PurposeFeatures))
	require.NotEqual(t, s.Derive(PurposeHeight), WorldSeed(43).Derive(PurposeHeight))
}

func TestSimplexRangeAndDeterminism(t *testing.T) {
	a := NewSimplex(7)
	b := NewSimplex(7)
	c := NewSimplex(8)
	differs := false
	for i := 0; i < 2000; i++ {
		x, y := float64(i)*0.37-300, float64(i)*0.11+17
		v := a.Sample(x, y)
		require.False(t, math.IsNaN(v))
		require.LessOrEqual(t, math.Abs(v), 1.0)
		require.Equal(t, v, b.Sample(x, y))
		if v != c.Sample(x, y) {
			differs = true
		}
		o := a.Octaved(x, y, 6, 0.5, 2)
		require.LessOrEqual(t, math.Abs(o), 1.0)
		r := a.Ridged(x, y, 3, 0.5, 2)
		require.GreaterOrEqual(t, r, 0.0)
		require.LessOrEqual(t, r, 1.0)
	}
	require.True(t, differs)
}

func TestChunkCoordEuclidean(t *testing.T) {
	q, r := floorDiv(-1)
	require.Equal(t, -1, q)
	require.Equal(t, 15, r)
	q, r = floorDiv(-16)
	require.Equal(t, -1, q)
	require.Equal(t, 0, r)
	q, r = floorDiv(31)
	require.Equal(t, 1, q)
	require.Equal(t, 15, r)

	require.Equal(t, ChunkCoord{X: -2, Y: 0, Z: 1}, ChunkCoordOf(-17, 5, 16))
	require.Equal(t, ColumnCoord{X: -1, Z: 0}, ColumnOf(-0.5, 15.9))

	for _, cc := range []ColumnCoord{{0, 0}, {-1, 1}, {1 << 20, -(1 << 20)}, {-2147483648, 2147483647}} {
		require.Equal(t, cc, columnFromKey(cc.key()))
	}
}

func testConfig(seed WorldSeed) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.Seed = seed
	cfg.MaxChunkY = 7
	cfg.MaxHeight = 110
	return cfg
}

func TestGeneratorLayers(t *testing.T) {
	cfg := testConfig(12345)
	require.NoError(t, cfg.Validate())
	g := NewGenerator(cfg)

	for _, cc := range []ColumnCoord{{0, 0}, {-3, 7}, {40, -40}} {
		chunks := g.Generate(cc)
		require.Len(t, chunks, 8)
		buf := &columnBuf{chunks: chunks, minY: 0, maxY: 128}
		for z := 0; z < ChunkSize; z++ {
			for x := 0; x < ChunkSize; x++ {
				for y := 0; y <= 2; y++ {
					require.Equal(t, Bedrock, buf.get(x, y, z))
				}
				h := g.HeightAt(int(cc.X)*ChunkSize+x, int(cc.Z)*ChunkSize+z)
				require.GreaterOrEqual(t, h, cfg.MinHeight)
				require.LessOrEqual(t, h, cfg.MaxHeight)
				require.True(t, buf.get(x, h, z).Solid(), "surface at %d,%d,%d", x, h, z)
				if h < cfg.SeaLevel {
					require.Equal(t, Water, buf.get(x, cfg.SeaLevel, z))
				}
				require.Equal(t, Air, buf.get(x, 127, z))
			}
		}
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(testConfig(42))
	b := NewGenerator(testConfig(42))
	c := NewGenerator(testConfig(43))

	ca := a.Generate(ColumnCoord{X: 6, Z: 6})
	cb := b.Generate(ColumnCoord{X: 6, Z: 6})
	cc := c.Generate(ColumnCoord{X: 6, Z: 6})
	same := true
	for i := range ca {
		require.Equal(t, ca[i].blocks, cb[i].blocks)
		require.False(t, ca[i].dirty)
		if ca[i].blocks != cc[i].blocks {
			same = false
		}
	}
	require.False(t, same, "different seeds should give different terrain")
}

func TestClassifyBuckets(t *testing.T) {
	require.Equal(t, DeepOcean, classify(-0.8, 0, 0))
	require.Equal(t, Ocean, classify(-0.3, 0, 0))
	require.Equal(t, Beach, classify(-0.15, 0, 0))
	require.Equal(t, SnowyPeaks, classify(0.8, -0.5, 0))
	require.Equal(t, Mountains, classify(0.8, 0.3, 0))
	require.Equal(t, Desert, classify(0.2, 0.7, -0.5))
	require.Equal(t, Jungle, classify(0.2, 0.7, 0.7))
	require.Equal(t, Swamp, classify(0, 0, 0.7))
	require.Equal(t, Forest, classify(0.2, 0, 0.3))
	require.Equal(t, Plains, classify(0.2, 0, -0.5))
	require.Equal(t, "snowy_peaks", SnowyPeaks.String())
}

// The expected values are the results of evaluating every multiply and add
// as separately rounded float64 operations. A fused multiply-add anywhere on
// the noise path changes them, so this fails on any architecture that fuses.
func TestTerrainBitExact(t *testing.T) {
	s := NewSimplex(7)
	for _, tc := range []struct {
		x, y                float64
		sample, oct, ridged uint64
	}{
		{0.5, 0.25, 0xbfe1840cd66dbc49, 0xbfc32ca068fe1e90, 0x3fd5398cc9e37775},
		{-123.456, 78.9, 0xbfc93a96d5003c56, 0xbfc8b06bdc32933a, 0x3fe56056bd50e3df},
		{1000.3, -2000.7, 0x3fd2f711a6703ee2, 0x3fd2f490928f08af, 0x3fdcbd599acc8470},
	} {
		require.Equal(t, tc.sample, math.Float64bits(s.Sample(tc.x, tc.y)), "sample %v,%v", tc.x, tc.y)
		require.Equal(t, tc.oct, math.Float64bits(s.Octaved(tc.x, tc.y, 6, 0.5, 2)), "octaved %v,%v", tc.x, tc.y)
		require.Equal(t, tc.ridged, math.Float64bits(s.Ridged(tc.x, tc.y, 3, 0.5, 2)), "ridged %v,%v", tc.x, tc.y)
	}
	require.Zero(t, s.Sample(0, 0))

	c := NewClimate(42)
	e := c.Elevation(100, 100)
	require.Equal(t, uint64(0xbfbdd8cd985dc7d3), math.Float64bits(e))
	require.Equal(t, uint64(0xbfea3a3cca3e7c68), math.Float64bits(c.Temperature(100, 100, e)))
	require.Equal(t, Beach, c.Classify(100, 100, e))
	e = c.Elevation(-517, 2049)
	require.Equal(t, uint64(0xbfc20a418435aca6), math.Float64bits(e))
	require.Equal(t, uint64(0x3fe108b557741cc6), math.Float64bits(c.Temperature(-517, 2049, e)))

	g := NewGenerator(testConfig(42))
	require.Equal(t, 61, g.HeightAt(100, 100))
	require.Equal(t, 60, g.HeightAt(-517, 2049))
}

func generatedDigest(g *Generator, cc ColumnCoord) uint64 {
	d := xxhash.New()
	for _, c := range g.Generate(cc) {
		_, _ = d.Write(c.blocks[:])
	}
	return d.Sum64()
}

func TestColumnDigestPinned(t *testing.T) {
	for _, tc := range []struct {
		seed WorldSeed
		cc   ColumnCoord
		want uint64
	}{
		{42, ColumnCoord{6, 6}, 0x07be6303f4e6776c},
		{12345, ColumnCoord{0, 0}, 0xd5d733d3aff5e8e8},
		{12345, ColumnCoord{-3, 7}, 0xc060a9bf0a5fabdb},
		{12345, ColumnCoord{40, -40}, 0x863e37907ee817da},
	} {
		require.Equal(t, tc.want, generatedDigest(NewGenerator(testConfig(tc.seed)), tc.cc),
			"seed %d column %d,%d", tc.seed, tc.cc.X, tc.cc.Z)
	}

	m := NewManager(testConfig(42), nil, nil)
	m.EnsureLoadedAround(100, 100, 0)
	d, ok := m.ColumnDigest(6, 6)
	require.True(t, ok)
	require.Equal(t, uint64(0x07be6303f4e6776c), d)
}
