package economy

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// Rarity orders drops from common to mythic.
type Rarity uint8

const (
	Common Rarity = iota
	Uncommon
	Rare
	Epic
	Legendary
	Mythic
)

var rarityNames = [...]string{"common", "uncommon", "rare", "epic", "legendary", "mythic"}

func (r Rarity) String() string {
	if int(r) < len(rarityNames) {
		return rarityNames[r]
	}
	return fmt.Sprintf("rarity(%d)", uint8(r))
}

// ParseRarity accepts the lower-case rarity names used in data files.
func ParseRarity(s string) (Rarity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Common, nil
	}
	for i, n := range rarityNames {
		if n == s {
			return Rarity(i), nil
		}
	}
	return 0, fmt.Errorf("rarity %q: %w", s, ErrInvalidLootTable)
}

// Basis points, 10000 = 100%.
var (
	rarityBaseBP    = [...]uint32{7000, 2000, 700, 250, 40, 10}
	rarityMultBP    = [...]uint32{10000, 8000, 6000, 4000, 2000, 1000}
	levelBonusBP    [256]uint32
	toolBonusBP     [256]uint32
	bonusTablesOnce sync.Once
)

func initBonusTables() {
	for i := range levelBonusBP {
		levelBonusBP[i] = uint32(i) * 1000 / 255
		toolBonusBP[i] = min(uint32(i)*50, 2500)
	}
}

// BlockchainSalt is 128 bits of external entropy mixed into every loot roll.
type BlockchainSalt struct {
	Low  uint64
	High uint64
}

// SaltFromBlockHash takes the first 16 bytes of a block hash, little endian.
func SaltFromBlockHash(hash [32]byte) BlockchainSalt {
	return BlockchainSalt{
		Low:  binary.LittleEndian.Uint64(hash[0:8]),
		High: binary.LittleEndian.Uint64(hash[8:16]),
	}
}

// SaltFromPhrase derives a salt from a configured phrase with BLAKE2b-256,
// for deployments without a chain listener.
func SaltFromPhrase(phrase string) BlockchainSalt {
	return SaltFromBlockHash(blake2b.Sum256([]byte(phrase)))
}

type LootEntry struct {
	Item        ItemID
	Weight      uint32
	MinQuantity uint32
	MaxQuantity uint32
	Rarity      Rarity
	MinLevel    uint8
	MinToolTier uint8
}

// LootTable lists the possible drops of one block type. AlwaysDrops skips the
// drop-chance roll; the weighted pick and entry requirements still apply.
type LootTable struct {
	BlockID     uint32
	Rarity      Rarity
	AlwaysDrops bool
	Entries     []LootEntry

	totalWeight uint64
}

func (t *LootTable) validate() error {
	if len(t.Entries) == 0 {
		return fmt.Errorf("block %d: no entries: %w", t.BlockID, ErrInvalidLootTable)
	}
	if int(t.Rarity) >= len(rarityBaseBP) {
		return fmt.Errorf("block %d: %s: %w", t.BlockID, t.Rarity, ErrInvalidLootTable)
	}
	t.totalWeight = 0
	for _, e := range t.Entries {
		if e.Item == 0 || e.Weight == 0 || e.MinQuantity == 0 || e.MaxQuantity < e.MinQuantity {
			return fmt.Errorf("block %d item %d: %w", t.BlockID, e.Item, ErrInvalidLootTable)
		}
		t.totalWeight += uint64(e.Weight)
	}
	return nil
}

// Drop is the outcome of one mining roll together with every input that
// produced it, so a logged drop can be re-verified.
type Drop struct {
	Block       uint32
	Level       uint8
	Tool        uint8
	WeatherSeed uint32
	Nonce       uint64
	Salt        BlockchainSalt
	// Secure drops were rolled with the server secret under SecureNonce.
	Secure      bool
	SecureNonce uint64

	Item     ItemID
	Quantity uint32
	Rarity   Rarity
	ChanceBP uint32
}

// Dropped reports whether the roll produced an item.
func (d Drop) Dropped() bool { return d.Item != 0 && d.Quantity > 0 }

// SecureFrom is the lowest table rarity rolled in secure mode once a server
// secret is set.
const SecureFrom = Rare

// MaxSecretSize is the longest key BLAKE2b accepts.
const MaxSecretSize = blake2b.Size

// LootCalculator rolls drops from registered tables. A plain roll is a pure
// function of its inputs and the current salt. With a server secret set,
// tables of SecureFrom rarity and above roll with a keyed BLAKE2b hash that
// also mixes in a per-roll nonce, so players cannot predict them.
type LootCalculator struct {
	mu     sync.RWMutex
	tables map[uint32]*LootTable
	salt   BlockchainSalt
	secret []byte

	secureNonce atomic.Uint64
}

func NewLootCalculator(salt BlockchainSalt) *LootCalculator {
	bonusTablesOnce.Do(initBonusTables)
	return &LootCalculator{tables: make(map[uint32]*LootTable), salt: salt}
}

// Register adds or replaces the table for t.BlockID.
func (c *LootCalculator) Register(t LootTable) error {
	t.Entries = append([]LootEntry(nil), t.Entries...)
	if err := t.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.tables[t.BlockID] = &t
	c.mu.Unlock()
	return nil
}

func (c *LootCalculator) Table(block uint32) (LootTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[block]
	if !ok {
		return LootTable{}, false
	}
	return *t, true
}

// Blocks returns the registered block ids in ascending order.
func (c *LootCalculator) Blocks() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint32, 0, len(c.tables))
	for id := range c.tables {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *LootCalculator) SetSalt(s BlockchainSalt) {
	c.mu.Lock()
	c.salt = s
	c.mu.Unlock()
}

func (c *LootCalculator) Salt() BlockchainSalt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.salt
}

// SetSecret enables secure rolls. An empty secret disables them.
func (c *LootCalculator) SetSecret(secret []byte) error {
	if len(secret) > MaxSecretSize {
		return fmt.Errorf("server secret of %d bytes, max %d: %w", len(secret), MaxSecretSize, ErrInvalidSecret)
	}
	c.mu.Lock()
	c.secret = append([]byte(nil), secret...)
	c.mu.Unlock()
	return nil
}

// Secure reports whether a server secret is set.
func (c *LootCalculator) Secure() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.secret) > 0
}

// NextSecureNonce is the nonce the next secure roll will use.
func (c *LootCalculator) NextSecureNonce() uint64 { return c.secureNonce.Load() }

// observeSecureNonce moves the counter past a nonce seen in the log, so a
// restarted server never rolls under a logged nonce again.
func (c *LootCalculator) observeSecureNonce(n uint64) {
	for {
		cur := c.secureNonce.Load()
		if n < cur || c.secureNonce.CompareAndSwap(cur, n+1) {
			return
		}
	}
}

const (
	fnvOffset = 0xcbf29ce484222325
	fnvPrime  = 0x100000001b3
)

// rollHash folds each input into an FNV-1a style accumulator, one word at a
// time. The byte order of the inputs is fixed, so results match everywhere.
func rollHash(block uint32, level, tool uint8, weather uint32, nonce uint64, salt BlockchainSalt) uint64 {
	h := uint64(fnvOffset)
	for _, v := range [...]uint64{uint64(block), uint64(level), uint64(tool), uint64(weather), nonce, salt.Low, salt.High} {
		h ^= v
		h *= fnvPrime
	}
	return h
}

// secureHash keys BLAKE2b-256 with the server secret and folds the digest of
// the roll inputs, the salt and the secure nonce to 64 bits.
func secureHash(secret []byte, block uint32, level, tool uint8, weather uint32, nonce uint64, salt BlockchainSalt, secureNonce uint64) uint64 {
	h, err := blake2b.New256(secret)
	if err != nil {
		// SetSecret bounds the key length.
		panic(err)
	}
	var buf [64]byte
	b := le.AppendUint32(buf[:0], block)
	b = append(b, level, tool)
	b = le.AppendUint32(b, weather)
	b = le.AppendUint64(b, nonce)
	b = le.AppendUint64(b, salt.Low)
	b = le.AppendUint64(b, salt.High)
	b = le.AppendUint64(b, secureNonce)
	_, _ = h.Write(b)
	sum := h.Sum(buf[:0])
	return le.Uint64(sum[0:]) ^ le.Uint64(sum[8:]) ^ le.Uint64(sum[16:]) ^ le.Uint64(sum[24:])
}

// Roll computes the drop for one mining hit. A block without a table drops
// nothing. A secure roll consumes a nonce whether or not it drops.
func (c *LootCalculator) Roll(block uint32, level, tool uint8, weather uint32, nonce uint64) Drop {
	c.mu.RLock()
	t := c.tables[block]
	salt := c.salt
	secret := c.secret
	c.mu.RUnlock()

	d := Drop{Block: block, Level: level, Tool: tool, WeatherSeed: weather, Nonce: nonce, Salt: salt}
	if t == nil || t.totalWeight == 0 {
		return d
	}
	if len(secret) > 0 && t.Rarity >= SecureFrom {
		d.Secure = true
		d.SecureNonce = c.secureNonce.Add(1) - 1
		return t.apply(d, secureHash(secret, block, level, tool, weather, nonce, salt, d.SecureNonce))
	}
	return t.apply(d, rollHash(block, level, tool, weather, nonce, salt))
}

// Verify recomputes a drop from the inputs it carries. Secure drops need the
// secret they were rolled with.
func (c *LootCalculator) Verify(d Drop) bool {
	c.mu.RLock()
	t := c.tables[d.Block]
	secret := c.secret
	c.mu.RUnlock()

	want := Drop{Block: d.Block, Level: d.Level, Tool: d.Tool, WeatherSeed: d.WeatherSeed, Nonce: d.Nonce, Salt: d.Salt,
		Secure: d.Secure, SecureNonce: d.SecureNonce}
	if t != nil && t.totalWeight > 0 {
		var h uint64
		switch {
		case d.Secure && len(secret) == 0:
			return false
		case d.Secure:
			h = secureHash(secret, d.Block, d.Level, d.Tool, d.WeatherSeed, d.Nonce, d.Salt, d.SecureNonce)
		default:
			h = rollHash(d.Block, d.Level, d.Tool, d.WeatherSeed, d.Nonce, d.Salt)
		}
		want = t.apply(want, h)
	}
	return want.Item == d.Item && want.Quantity == d.Quantity && want.Rarity == d.Rarity && want.ChanceBP == d.ChanceBP
}

// apply turns a roll hash into the drop of t.
func (t *LootTable) apply(d Drop, h uint64) Drop {
	level, tool := d.Level, d.Tool
	if t.AlwaysDrops {
		d.ChanceBP = 10000
	} else {
		bonus := 10000 + levelBonusBP[level] + toolBonusBP[tool]
		d.ChanceBP = (rarityBaseBP[t.Rarity] * bonus / 10000) * rarityMultBP[t.Rarity] / 10000
		if uint32(h%10000) >= d.ChanceBP {
			d.Rarity = t.Rarity
			return d
		}
	}

	pick := (h >> 16) % t.totalWeight
	var acc uint64
	for _, e := range t.Entries {
		acc += uint64(e.Weight)
		if pick >= acc {
			continue
		}
		// An entry the player does not qualify for passes the pick on to the
		// next one.
		if level < e.MinLevel || tool < e.MinToolTier {
			continue
		}
		d.Item = e.Item
		d.Rarity = e.Rarity
		d.Quantity = e.MinQuantity
		if span := e.MaxQuantity - e.MinQuantity + 1; span > 1 {
			d.Quantity += uint32(h>>32) % span
		}
		return d
	}
	return d
}
