package world

const (
	treeMinHeight = 4
	treeMaxHeight = 6
)

type oreVein struct {
	block    Block
	minY     int
	maxY     int
	size     int
	attempts int
}

var oreVeins = []oreVein{
	{CoalOre, 5, 128, 12, 20},
	{IronOre, 5, 64, 8, 20},
	{GoldOre, 5, 32, 8, 2},
	{EmeraldOre, 5, 32, 3, 1},
	{DiamondOre, 5, 16, 6, 1},
}

// Generator builds columns from a seed. Output depends only on the seed,
// the column coordinate and the height parameters, never on call order,
// so workers may generate columns concurrently.
type Generator struct {
	seed      WorldSeed
	climate   *Climate
	seaLevel  int
	minHeight int
	maxHeight int
	minChunkY int
	chunksY   int
}

// NewGenerator returns a generator for the vertical range of cfg.
func NewGenerator(cfg ManagerConfig) *Generator {
	return &Generator{
		seed:      cfg.Seed,
		climate:   NewClimate(cfg.Seed),
		seaLevel:  cfg.SeaLevel,
		minHeight: cfg.MinHeight,
		maxHeight: cfg.MaxHeight,
		minChunkY: cfg.MinChunkY,
		chunksY:   cfg.MaxChunkY - cfg.MinChunkY + 1,
	}
}

func (g *Generator) Climate() *Climate { return g.climate }

// HeightAt returns the surface height of world column (x, z).
func (g *Generator) HeightAt(x, z int) int {
	return g.height(g.climate.Elevation(float64(x), float64(z)))
}

func (g *Generator) height(e float64) int {
	var h int
	if e >= 0 {
		h = g.seaLevel + int(e*float64(g.maxHeight-g.seaLevel))
	} else {
		h = g.seaLevel + int(e*float64(g.seaLevel-g.minHeight))
	}
	return max(g.minHeight, min(g.maxHeight, h))
}

// columnBuf is the throwaway buffer a column is generated into. Writes
// outside the stored vertical range are dropped.
type columnBuf struct {
	chunks []*Chunk
	minY   int
	maxY   int
}

func (b *columnBuf) set(x, y, z int, v Block) {
	if y < b.minY || y >= b.maxY {
		return
	}
	y -= b.minY
	b.chunks[y>>4].blocks[blockIndex(x, y&15, z)] = byte(v)
}

func (b *columnBuf) get(x, y, z int) Block {
	if y < b.minY || y >= b.maxY {
		return Air
	}
	y -= b.minY
	return Block(b.chunks[y>>4].blocks[blockIndex(x, y&15, z)])
}

// Generate builds every stored chunk of column cc.
func (g *Generator) Generate(cc ColumnCoord) []*Chunk {
	chunks := make([]*Chunk, g.chunksY)
	for i := range chunks {
		chunks[i] = &Chunk{Coord: ChunkCoord{X: cc.X, Y: int32(g.minChunkY + i), Z: cc.Z}}
	}
	buf := &columnBuf{
		chunks: chunks,
		minY:   g.minChunkY * ChunkSize,
		maxY:   (g.minChunkY + g.chunksY) * ChunkSize,
	}

	var (
		heights [ChunkSize][ChunkSize]int
		biomes  [ChunkSize][ChunkSize]Biome
	)
	bx, bz := int(cc.X)*ChunkSize, int(cc.Z)*ChunkSize
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			wx, wz := float64(bx+x), float64(bz+z)
			e := g.climate.Elevation(wx, wz)
			h := g.height(e)
			b := g.climate.Classify(wx, wz, e)
			heights[x][z] = h
			biomes[x][z] = b
			g.fillColumn(buf, x, z, h, b)
		}
	}

	g.placeOres(buf, cc, &heights)
	g.placeTrees(buf, cc, &heights, &biomes)
	return chunks
}

func subsurface(b Biome) Block {
	switch b {
	case DeepOcean, Ocean, Beach, Desert:
		return Sand
	case Mountains, SnowyPeaks:
		return Stone
	case Badlands:
		return RedSand
	default:
		return Dirt
	}
}

func (g *Generator) fillColumn(buf *columnBuf, x, z, h int, b Biome) {
	top := max(h, g.seaLevel)
	sub := subsurface(b)
	for y := max(buf.minY, 0); y <= top && y < buf.maxY; y++ {
		var v Block
		switch {
		case y <= 2:
			v = Bedrock
		case y < h-3:
			v = Stone
		case y < h:
			v = sub
		case y == h:
			v = b.Surface()
		case y <= g.seaLevel:
			v = Water
		default:
			continue
		}
		buf.set(x, y, z, v)
	}
}

func (g *Generator) placeOres(buf *columnBuf, cc ColumnCoord, heights *[ChunkSize][ChunkSize]int) {
	rng := newColumnRNG(g.seed.Derive(PurposeOres), cc.X, cc.Z, 500)
	for _, ore := range oreVeins {
		for a := 0; a < ore.attempts; a++ {
			x := rng.nextN(ChunkSize)
			y := ore.minY + rng.nextN(ore.maxY-ore.minY)
			z := rng.nextN(ChunkSize)
			if y >= heights[x][z] {
				continue
			}
			for n := 0; n < ore.size; n++ {
				if x >= 0 && x < ChunkSize && z >= 0 && z < ChunkSize && y > 2 && y < heights[x][z] &&
					buf.get(x, y, z) == Stone {
					buf.set(x, y, z, ore.block)
				}
				switch rng.nextN(6) {
				case 0:
					x++
				case 1:
					x--
				case 2:
					y++
				case 3:
					y--
				case 4:
					z++
				case 5:
					z--
				}
			}
		}
	}
}

// placeTrees draws trees and boulders from the feature stream. Features
// stay two blocks inside the footprint so they never cross into a
// neighbour column.
func (g *Generator) placeTrees(buf *columnBuf, cc ColumnCoord, heights *[ChunkSize][ChunkSize]int, biomes *[ChunkSize][ChunkSize]Biome) {
	rng := newColumnRNG(g.seed.Derive(PurposeFeatures), cc.X, cc.Z, 600)
	center := biomes[ChunkSize/2][ChunkSize/2]

	for a := 0; a < center.TreeDensity(); a++ {
		x := 2 + rng.nextN(ChunkSize-4)
		z := 2 + rng.nextN(ChunkSize-4)
		trunk := treeMinHeight + rng.nextN(treeMaxHeight-treeMinHeight+1)
		h := heights[x][z]
		if h < g.seaLevel || h+trunk+3 >= buf.maxY {
			continue
		}
		if s := buf.get(x, h, z); s != Grass && s != JungleGrass {
			continue
		}
		g.placeTree(buf, x, h+1, z, trunk)
	}

	if center.Rocky() && rng.nextN(4) == 0 {
		x := 1 + rng.nextN(ChunkSize-2)
		z := 1 + rng.nextN(ChunkSize-2)
		h := heights[x][z]
		if h >= g.seaLevel && h+3 < buf.maxY {
			for dy := 1; dy <= 2; dy++ {
				for dz := -1; dz <= 1; dz++ {
					for dx := -1; dx <= 1; dx++ {
						if dy == 2 && dx != 0 && dz != 0 {
							continue
						}
						if buf.get(x+dx, h+dy, z+dz) == Air {
							buf.set(x+dx, h+dy, z+dz, Stone)
						}
					}
				}
			}
		}
	}
}

func (g *Generator) placeTree(buf *columnBuf, x, base, z, trunk int) {
	for y := base; y < base+trunk; y++ {
		if buf.get(x, y, z) != Air {
			return
		}
	}
	for y := base; y < base+trunk; y++ {
		buf.set(x, y, z, Wood)
	}
	for y := base + trunk - 2; y < base+trunk+2; y++ {
		for dz := -2; dz <= 2; dz++ {
			for dx := -2; dx <= 2; dx++ {
				if dx*dx+dz*dz > 5 {
					continue
				}
				if buf.get(x+dx, y, z+dz) == Air {
					buf.set(x+dx, y, z+dz, Leaves)
				}
			}
		}
	}
}
