package economy

import (
	"encoding/binary"
	"fmt"

	"github.com/oroboros/server/internal/wal"
)

// Payload layouts, all little endian:
//
//	loot_drop         player u64 | block u32 | level u8 | tool u8 | weather u32 | nonce u64 | item u32 | qty u32 | rarity u8 | chance_bp u16 |
//	                  salt_low u64 | salt_high u64 | secure u8 | secure_nonce u64
//	inventory_add     player u64 | item u32 | count u32 | max_stack u32
//	inventory_remove  player u64 | item u32 | count u32
//	craft             player u64 | recipe u32 | count u32
//	trade             from u64 | to u64 | item u32 | count u32
//	rollback          op u8 | player u64 | reason_len u8 | reason

const (
	lootDropSize        = 62
	inventoryAddSize    = 20
	inventoryRemoveSize = 16
	craftSize           = 16
	tradeSize           = 24
	rollbackMinSize     = 10
)

var le = binary.LittleEndian

type lootDropRecord struct {
	Player uint64
	Drop   Drop
}

func appendLootDrop(dst []byte, player uint64, d Drop) []byte {
	dst = le.AppendUint64(dst, player)
	dst = le.AppendUint32(dst, d.Block)
	dst = append(dst, d.Level, d.Tool)
	dst = le.AppendUint32(dst, d.WeatherSeed)
	dst = le.AppendUint64(dst, d.Nonce)
	dst = le.AppendUint32(dst, uint32(d.Item))
	dst = le.AppendUint32(dst, d.Quantity)
	dst = append(dst, byte(d.Rarity))
	dst = le.AppendUint16(dst, uint16(d.ChanceBP))
	dst = le.AppendUint64(dst, d.Salt.Low)
	dst = le.AppendUint64(dst, d.Salt.High)
	var secure byte
	if d.Secure {
		secure = 1
	}
	dst = append(dst, secure)
	return le.AppendUint64(dst, d.SecureNonce)
}

func decodeLootDrop(b []byte) (lootDropRecord, error) {
	if len(b) != lootDropSize || b[53] > 1 {
		return lootDropRecord{}, malformed(wal.OpLootDrop, len(b))
	}
	return lootDropRecord{
		Player: le.Uint64(b[0:]),
		Drop: Drop{
			Block:       le.Uint32(b[8:]),
			Level:       b[12],
			Tool:        b[13],
			WeatherSeed: le.Uint32(b[14:]),
			Nonce:       le.Uint64(b[18:]),
			Item:        ItemID(le.Uint32(b[26:])),
			Quantity:    le.Uint32(b[30:]),
			Rarity:      Rarity(b[34]),
			ChanceBP:    uint32(le.Uint16(b[35:])),
			Salt:        BlockchainSalt{Low: le.Uint64(b[37:]), High: le.Uint64(b[45:])},
			Secure:      b[53] != 0,
			SecureNonce: le.Uint64(b[54:]),
		},
	}, nil
}

type stackRecord struct {
	Player   uint64
	Item     ItemID
	Count    uint32
	MaxStack uint32
}

func appendInventoryAdd(dst []byte, r stackRecord) []byte {
	dst = le.AppendUint64(dst, r.Player)
	dst = le.AppendUint32(dst, uint32(r.Item))
	dst = le.AppendUint32(dst, r.Count)
	return le.AppendUint32(dst, r.MaxStack)
}

func decodeInventoryAdd(b []byte) (stackRecord, error) {
	if len(b) != inventoryAddSize {
		return stackRecord{}, malformed(wal.OpInventoryAdd, len(b))
	}
	return stackRecord{
		Player:   le.Uint64(b[0:]),
		Item:     ItemID(le.Uint32(b[8:])),
		Count:    le.Uint32(b[12:]),
		MaxStack: le.Uint32(b[16:]),
	}, nil
}

func appendInventoryRemove(dst []byte, r stackRecord) []byte {
	dst = le.AppendUint64(dst, r.Player)
	dst = le.AppendUint32(dst, uint32(r.Item))
	return le.AppendUint32(dst, r.Count)
}

func decodeInventoryRemove(b []byte) (stackRecord, error) {
	if len(b) != inventoryRemoveSize {
		return stackRecord{}, malformed(wal.OpInventoryRemove, len(b))
	}
	return stackRecord{
		Player: le.Uint64(b[0:]),
		Item:   ItemID(le.Uint32(b[8:])),
		Count:  le.Uint32(b[12:]),
	}, nil
}

type craftRecord struct {
	Player uint64
	Recipe RecipeID
	Count  uint32
}

func appendCraft(dst []byte, r craftRecord) []byte {
	dst = le.AppendUint64(dst, r.Player)
	dst = le.AppendUint32(dst, uint32(r.Recipe))
	return le.AppendUint32(dst, r.Count)
}

func decodeCraft(b []byte) (craftRecord, error) {
	if len(b) != craftSize {
		return craftRecord{}, malformed(wal.OpCraft, len(b))
	}
	return craftRecord{
		Player: le.Uint64(b[0:]),
		Recipe: RecipeID(le.Uint32(b[8:])),
		Count:  le.Uint32(b[12:]),
	}, nil
}

type tradeRecord struct {
	From, To uint64
	Item     ItemID
	Count    uint32
}

func appendTrade(dst []byte, r tradeRecord) []byte {
	dst = le.AppendUint64(dst, r.From)
	dst = le.AppendUint64(dst, r.To)
	dst = le.AppendUint32(dst, uint32(r.Item))
	return le.AppendUint32(dst, r.Count)
}

func decodeTrade(b []byte) (tradeRecord, error) {
	if len(b) != tradeSize {
		return tradeRecord{}, malformed(wal.OpTrade, len(b))
	}
	return tradeRecord{
		From:  le.Uint64(b[0:]),
		To:    le.Uint64(b[8:]),
		Item:  ItemID(le.Uint32(b[16:])),
		Count: le.Uint32(b[20:]),
	}, nil
}

type rollbackRecord struct {
	Op     wal.OpType
	Player uint64
	Reason string
}

func appendRollback(dst []byte, r rollbackRecord) []byte {
	reason := r.Reason
	if len(reason) > 255 {
		reason = reason[:255]
	}
	dst = append(dst, byte(r.Op))
	dst = le.AppendUint64(dst, r.Player)
	dst = append(dst, byte(len(reason)))
	return append(dst, reason...)
}

func decodeRollback(b []byte) (rollbackRecord, error) {
	if len(b) < rollbackMinSize || len(b) != rollbackMinSize+int(b[9]) {
		return rollbackRecord{}, malformed(wal.OpRollback, len(b))
	}
	return rollbackRecord{
		Op:     wal.OpType(b[0]),
		Player: le.Uint64(b[1:]),
		Reason: string(b[rollbackMinSize:]),
	}, nil
}

func malformed(op wal.OpType, n int) error {
	return fmt.Errorf("%s payload of %d bytes: %w", op, n, ErrMalformedPayload)
}

// DescribeRecord renders an economy record for inspection tools. Records of
// other subsystems are described by op name and size only.
func DescribeRecord(rec wal.Record) string {
	var (
		s   string
		err error
	)
	switch rec.Op {
	case wal.OpLootDrop:
		var r lootDropRecord
		if r, err = decodeLootDrop(rec.Payload); err == nil {
			d := r.Drop
			s = fmt.Sprintf("player=%d block=%d level=%d tool=%d weather=%d nonce=%d item=%d qty=%d rarity=%s salt=%016x%016x",
				r.Player, d.Block, d.Level, d.Tool, d.WeatherSeed, d.Nonce, d.Item, d.Quantity, d.Rarity, d.Salt.High, d.Salt.Low)
			if d.Secure {
				s += fmt.Sprintf(" secure_nonce=%d", d.SecureNonce)
			}
		}
	case wal.OpInventoryAdd:
		var r stackRecord
		if r, err = decodeInventoryAdd(rec.Payload); err == nil {
			s = fmt.Sprintf("player=%d item=%d count=%d max_stack=%d", r.Player, r.Item, r.Count, r.MaxStack)
		}
	case wal.OpInventoryRemove:
		var r stackRecord
		if r, err = decodeInventoryRemove(rec.Payload); err == nil {
			s = fmt.Sprintf("player=%d item=%d count=%d", r.Player, r.Item, r.Count)
		}
	case wal.OpCraft:
		var r craftRecord
		if r, err = decodeCraft(rec.Payload); err == nil {
			s = fmt.Sprintf("player=%d recipe=%d count=%d", r.Player, r.Recipe, r.Count)
		}
	case wal.OpTrade:
		var r tradeRecord
		if r, err = decodeTrade(rec.Payload); err == nil {
			s = fmt.Sprintf("from=%d to=%d item=%d count=%d", r.From, r.To, r.Item, r.Count)
		}
	case wal.OpRollback:
		var r rollbackRecord
		if r, err = decodeRollback(rec.Payload); err == nil {
			s = fmt.Sprintf("op=%s player=%d reason=%q", r.Op, r.Player, r.Reason)
		}
	default:
		return fmt.Sprintf("%d bytes", len(rec.Payload))
	}
	if err != nil {
		return err.Error()
	}
	return s
}
