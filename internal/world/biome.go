package world

import "math"

// Biome buckets a column by elevation, temperature and humidity.
type Biome uint8

const (
	DeepOcean Biome = iota
	Ocean
	Beach
	Plains
	Forest
	Jungle
	Desert
	Tundra
	Taiga
	Mountains
	SnowyPeaks
	Swamp
	Savanna
	Badlands
)

var biomeNames = [...]string{
	"deep_ocean", "ocean", "beach", "plains", "forest", "jungle", "desert",
	"tundra", "taiga", "mountains", "snowy_peaks", "swamp", "savanna", "badlands",
}

func (b Biome) String() string {
	if int(b) < len(biomeNames) {
		return biomeNames[b]
	}
	return "unknown"
}

// Surface is the block placed at the top of a column.
func (b Biome) Surface() Block {
	switch b {
	case DeepOcean, Ocean, Beach, Desert:
		return Sand
	case Jungle:
		return JungleGrass
	case Tundra, Taiga:
		return FrozenDirt
	case Mountains:
		return Stone
	case SnowyPeaks:
		return Snow
	case Swamp:
		return Mud
	case Badlands:
		return RedSand
	default:
		return Grass
	}
}

// TreeDensity is the number of tree placement attempts per column.
func (b Biome) TreeDensity() int {
	switch b {
	case Forest:
		return 8
	case Jungle:
		return 12
	case Taiga:
		return 6
	case Swamp:
		return 3
	case Savanna:
		return 1
	case Plains:
		return 1
	default:
		return 0
	}
}

// Rocky biomes get boulders.
func (b Biome) Rocky() bool {
	return b == Mountains || b == Badlands || b == Tundra
}

const (
	elevationScale   = 0.0025
	temperatureScale = 0.002
	humidityScale    = 0.003
)

// Climate samples the three noise fields that shape terrain. It is
// immutable and safe for concurrent use by generator workers.
type Climate struct {
	height      *Simplex
	temperature *Simplex
	humidity    *Simplex
}

// NewClimate derives the height, temperature and humidity fields from seed.
func NewClimate(seed WorldSeed) *Climate {
	return &Climate{
		height:      NewSimplex(seed.Derive(PurposeHeight)),
		temperature: NewSimplex(seed.Derive(PurposeTemperature)),
		humidity:    NewSimplex(seed.Derive(PurposeHumidity)),
	}
}

// Elevation is in [-1, 1]. Below zero is under sea level.
func (c *Climate) Elevation(x, z float64) float64 {
	base := c.height.Octaved(float64(x*elevationScale), float64(z*elevationScale), 6, 0.5, 2)
	ridge := c.height.Ridged(float64(x*elevationScale*1.5), float64(z*elevationScale*1.5), 3, 0.5, 2)
	return terrainCurve(float64(base*0.8) + float64((float64(ridge*2)-1)*0.2))
}

// terrainCurve flattens lowlands and steepens mountains.
func terrainCurve(e float64) float64 {
	switch {
	case e < -0.3:
		return math.Max(e, -1)
	case e < -0.1:
		return -0.3 + float64((e+0.3)*0.5)
	case e < 0.3:
		return -0.2 + float64((e+0.1)/0.4*0.3)
	case e < 0.5:
		return 0.1 + float64((e-0.3)/0.2*0.3)
	default:
		return math.Min(0.4+float64((e-0.5)/0.5*0.6), 1)
	}
}

// Temperature falls with distance from z = 0 and with altitude.
func (c *Climate) Temperature(x, z, elevation float64) float64 {
	base := c.temperature.Sample(float64(x*temperatureScale), float64(z*temperatureScale))
	latitude := math.Min(float64(math.Abs(z)*0.0001), 1)
	t := base - float64(latitude*0.5) - float64(math.Max(elevation, 0)*0.5)
	return math.Max(-1, math.Min(1, t))
}

func (c *Climate) Humidity(x, z float64) float64 {
	return c.humidity.Octaved(float64(x*humidityScale), float64(z*humidityScale), 4, 0.5, 2)
}

// Classify returns the biome of the column at (x, z) given its elevation.
func (c *Climate) Classify(x, z, elevation float64) Biome {
	return classify(elevation, c.Temperature(x, z, elevation), c.Humidity(x, z))
}

func classify(e, t, h float64) Biome {
	switch {
	case e < -0.5:
		return DeepOcean
	case e < -0.2:
		return Ocean
	case e < -0.1:
		return Beach
	case e > 0.7 && t < -0.2:
		return SnowyPeaks
	case e > 0.7:
		return Mountains
	case t < -0.5:
		return Tundra
	case t < -0.2 && h > 0:
		return Taiga
	case t < -0.2:
		return Tundra
	case t > 0.5 && h < -0.3:
		return Desert
	case t > 0.5 && h > 0.5:
		return Jungle
	case t > 0.3 && h < 0:
		return Savanna
	case t > 0.6:
		return Badlands
	case h > 0.5 && e < 0.1:
		return Swamp
	case h > 0.2:
		return Forest
	default:
		return Plains
	}
}
