package persist

import (
	"github.com/oroboros/server/internal/economy"
	"github.com/oroboros/server/internal/wal"
	"github.com/oroboros/server/internal/world"
)

// DescribeRecord renders any record of the shared log for the archive's
// detail column and for inspection tools.
func DescribeRecord(rec wal.Record) string {
	if rec.Op != wal.OpBlockMutation {
		return economy.DescribeRecord(rec)
	}
	m, err := world.DecodeMutation(rec.Payload)
	if err != nil {
		return err.Error()
	}
	return m.String()
}
