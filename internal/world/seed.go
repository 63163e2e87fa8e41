package world

// WorldSeed is the master seed of a world. Every generator draws from a
// sub-seed derived from it, so one value reproduces the whole world.
type WorldSeed uint64

// DefaultSeed is used when no seed is configured.
const DefaultSeed WorldSeed = 0xDEADBEEFCAFEBABE

// Derivation purposes. Each names an independent pseudo-random stream.
const (
	PurposeHeight      uint64 = 1
	PurposeTemperature uint64 = 2
	PurposeHumidity    uint64 = 3
	PurposeFeatures    uint64 = 4
	PurposeOres        uint64 = 5
)

// Derive mixes the seed with a purpose tag into an independent sub-seed.
func (s WorldSeed) Derive(purpose uint64) WorldSeed {
	h := uint64(s) ^ purpose
	h *= 0x517cc1b727220a95
	h ^= h >> 32
	return WorldSeed(h)
}

// columnRNG is a small LCG stream for per-column feature placement.
type columnRNG struct {
	state int64
}

func newColumnRNG(seed WorldSeed, cx, cz int32, salt int64) *columnRNG {
	s := int64(seed) ^ (int64(cx)*341873128712 + int64(cz)*132897987541 + salt)
	return &columnRNG{state: s}
}

func (r *columnRNG) next() int64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return r.state
}

// nextN returns a value in [0, n).
func (r *columnRNG) nextN(n int) int {
	v := int(r.next()>>33) % n
	if v < 0 {
		v = -v
	}
	return v
}
