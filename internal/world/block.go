package world

// Block is a one-byte material id.
type Block uint8

const (
	Air         Block = 0
	Grass       Block = 1
	Stone       Block = 2
	Dirt        Block = 3
	Wood        Block = 4
	Leaves      Block = 5
	Bedrock     Block = 7
	Water       Block = 10
	Sand        Block = 11
	JungleGrass Block = 12
	FrozenDirt  Block = 13
	Snow        Block = 14
	Mud         Block = 15
	RedSand     Block = 16
	CoalOre     Block = 20
	IronOre     Block = 21
	GoldOre     Block = 22
	DiamondOre  Block = 56
	EmeraldOre  Block = 57
)

// Solid reports whether the block can be stood on.
func (b Block) Solid() bool { return b != Air && b != Water }
