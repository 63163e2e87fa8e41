package world

import "math"

const (
	simplexF2 = 0.366025403784439 // (sqrt(3) - 1) / 2
	simplexG2 = 0.211324865405187 // (3 - sqrt(3)) / 6
)

var gradients2 = [12][2]float64{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {0, 1}, {-1, 0}, {0, -1},
}

// Simplex is seeded 2D simplex noise. Output of Sample lies in [-1, 1].
// A Simplex is immutable after construction and safe for concurrent use.
type Simplex struct {
	perm [512]uint8
}

// NewSimplex builds the permutation table with a xorshift64 Fisher-Yates
// shuffle, so a seed yields the same table on every platform.
func NewSimplex(seed WorldSeed) *Simplex {
	n := &Simplex{}
	for i := 0; i < 256; i++ {
		n.perm[i] = uint8(i)
	}
	state := uint64(seed)
	for i := 255; i > 0; i-- {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		j := int(state % uint64(i+1))
		n.perm[i], n.perm[j] = n.perm[j], n.perm[i]
	}
	copy(n.perm[256:], n.perm[:256])
	return n
}

func (n *Simplex) p(i int) int { return int(n.perm[i&511]) }

// Sample returns the noise value at (x, y).
//
// Every product that feeds an addition is rounded with an explicit float64
// conversion. Without it the compiler may fuse the pair into one FMA on
// arm64, ppc64 and s390x, and terrain would differ from amd64.
func (n *Simplex) Sample(x, y float64) float64 {
	s := float64((x + y) * simplexF2)
	i := fastFloor(x + s)
	j := fastFloor(y + s)

	t := float64(float64(i+j) * simplexG2)
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)

	i1, j1 := 0, 1
	if x0 > y0 {
		i1, j1 = 1, 0
	}

	x1 := x0 - float64(i1) + simplexG2
	y1 := y0 - float64(j1) + simplexG2
	x2 := x0 - 1 + 2*simplexG2
	y2 := y0 - 1 + 2*simplexG2

	ii := i & 255
	jj := j & 255
	g0 := n.p(ii + n.p(jj))
	g1 := n.p(ii + i1 + n.p(jj+j1))
	g2 := n.p(ii + 1 + n.p(jj+1))

	return float64(70 * (corner(x0, y0, g0) + corner(x1, y1, g1) + corner(x2, y2, g2)))
}

func corner(x, y float64, g int) float64 {
	t := 0.5 - float64(x*x) - float64(y*y)
	if t < 0 {
		return 0
	}
	grad := gradients2[g%12]
	t = float64(t * t)
	return float64(t * t * (float64(x*grad[0]) + float64(y*grad[1])))
}

// Octaved sums octaves of noise, each scaled in frequency by lacunarity and
// in amplitude by persistence, normalised back to roughly [-1, 1].
func (n *Simplex) Octaved(x, y float64, octaves int, persistence, lacunarity float64) float64 {
	var total, maxAmp float64
	amp, freq := 1.0, 1.0
	for o := 0; o < octaves; o++ {
		total += float64(n.Sample(float64(x*freq), float64(y*freq)) * amp)
		maxAmp += amp
		amp = float64(amp * persistence)
		freq = float64(freq * lacunarity)
	}
	if maxAmp == 0 {
		return 0
	}
	return total / maxAmp
}

// Ridged is octaved 1-|noise| squared, in [0, 1]. Used for mountain ridges.
func (n *Simplex) Ridged(x, y float64, octaves int, persistence, lacunarity float64) float64 {
	var total, maxAmp float64
	amp, freq := 1.0, 1.0
	for o := 0; o < octaves; o++ {
		r := 1 - math.Abs(n.Sample(float64(x*freq), float64(y*freq)))
		total += float64(r * r * amp)
		maxAmp += amp
		amp = float64(amp * persistence)
		freq = float64(freq * lacunarity)
	}
	if maxAmp == 0 {
		return 0
	}
	return total / maxAmp
}

func fastFloor(x float64) int {
	xi := int(x)
	if x < float64(xi) {
		return xi - 1
	}
	return xi
}
