package txns

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// Tracker records which pages each active transaction has touched. Entries
// appear lazily on the first page access and disappear at TxnComplete; the
// set is exactly what the lifecycle flushes, reverts and unlocks.
type Tracker struct {
	mu      sync.Mutex
	touched map[common.TxnID]mapset.Set[common.PageIdentity]
}

func NewTracker() *Tracker {
	return &Tracker{
		touched: map[common.TxnID]mapset.Set[common.PageIdentity]{},
	}
}

func (t *Tracker) Track(txnID common.TxnID, pageIdent common.PageIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pages, ok := t.touched[txnID]
	if !ok {
		pages = mapset.NewSet[common.PageIdentity]()
		t.touched[txnID] = pages
	}

	pages.Add(pageIdent)
}

// Touched returns the pages the transaction has accessed so far. Unknown
// transactions yield an empty slice.
func (t *Tracker) Touched(txnID common.TxnID) []common.PageIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()

	pages, ok := t.touched[txnID]
	if !ok {
		return nil
	}

	return pages.ToSlice()
}

func (t *Tracker) Forget(txnID common.TxnID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.touched, txnID)
}

func (t *Tracker) ActiveTransactions() []common.TxnID {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := make([]common.TxnID, 0, len(t.touched))
	for txnID := range t.touched {
		res = append(res, txnID)
	}

	return res
}
