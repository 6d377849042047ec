package txns

import (
	"sync/atomic"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// IDGenerator hands out transaction ids. Monotonic, never NilTxnID.
type IDGenerator struct {
	ctr atomic.Uint64
}

func (g *IDGenerator) Next() common.TxnID {
	return common.TxnID(g.ctr.Add(1))
}
