package ecs

import "math/bits"

// DirtyTracker records rows modified since the last sync as a bitset, with a
// running count and the high-water mark (one past the highest dirty row).
type DirtyTracker struct {
	words     []uint64
	count     int
	highWater int
}

func NewDirtyTracker(capacity int) DirtyTracker {
	return DirtyTracker{words: make([]uint64, (capacity+63)/64)}
}

// Mark sets the bit for row. Marking an already dirty row is a no-op.
func (d *DirtyTracker) Mark(row int) {
	w, b := row>>6, uint(row&63)
	if d.words[w]&(1<<b) != 0 {
		return
	}
	d.words[w] |= 1 << b
	d.count++
	if row >= d.highWater {
		d.highWater = row + 1
	}
}

// MarkRange marks rows [0, n) dirty in whole words where possible.
func (d *DirtyTracker) MarkRange(n int) {
	full := n >> 6
	for w := 0; w < full; w++ {
		d.words[w] = ^uint64(0)
	}
	if rem := n & 63; rem != 0 {
		d.words[full] |= (1 << uint(rem)) - 1
	}
	d.recount(n)
	if n > d.highWater {
		d.highWater = n
	}
}

func (d *DirtyTracker) recount(limit int) {
	end := (max(limit, d.highWater) + 63) >> 6
	c := 0
	for _, w := range d.words[:end] {
		c += bits.OnesCount64(w)
	}
	d.count = c
}

func (d *DirtyTracker) IsDirty(row int) bool {
	return d.words[row>>6]&(1<<uint(row&63)) != 0
}

func (d *DirtyTracker) Count() int     { return d.count }
func (d *DirtyTracker) HighWater() int { return d.highWater }

// Ratio is the dirty fraction of the first n rows.
func (d *DirtyTracker) Ratio(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(d.count) / float64(n)
}

// Each calls fn for every dirty row in ascending order.
func (d *DirtyTracker) Each(fn func(row int)) {
	end := (d.highWater + 63) >> 6
	for w := 0; w < end; w++ {
		word := d.words[w]
		for word != 0 {
			tz := bits.TrailingZeros64(word)
			fn(w<<6 + tz)
			word &= word - 1
		}
	}
}

// Clear zeroes the words up to the high-water mark and resets the counters.
func (d *DirtyTracker) Clear() {
	end := (d.highWater + 63) >> 6
	clear(d.words[:end])
	d.count = 0
	d.highWater = 0
}
