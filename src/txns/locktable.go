package txns

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// ErrTxnAborted is returned when a lock acquisition exceeds the deadlock
// timeout. The requesting transaction is considered aborted; the caller
// must finish it with TxnComplete(commit=false) to release whatever locks
// it already holds.
var ErrTxnAborted = errors.New("transaction aborted: lock wait timed out")

const DefaultDeadlockTimeout = 2 * time.Second

// lockEntry is the lock state of a single page.
//
// Invariants: an exclusive holder implies shared ⊆ {holder}; two or more
// shared holders imply no exclusive holder.
type lockEntry struct {
	mu sync.Mutex

	exclusive common.TxnID
	shared    mapset.Set[common.TxnID]

	// changed is closed and replaced whenever a release may admit a
	// waiter: every exclusive release, and a shared release that leaves at
	// most one reader. Closing reaches every waiter at once: wakeups must
	// be broadcast, since several readers (or a lone-self upgrader) may
	// become eligible together.
	changed chan struct{}
}

func newLockEntry() *lockEntry {
	return &lockEntry{
		exclusive: common.NilTxnID,
		shared:    mapset.NewSet[common.TxnID](),
		changed:   make(chan struct{}),
	}
}

func (e *lockEntry) broadcast() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// grantableShared: no exclusive holder, or the holder is the requester.
func (e *lockEntry) grantableShared(txnID common.TxnID) bool {
	return e.exclusive == common.NilTxnID || e.exclusive == txnID
}

// grantableExclusive additionally requires that no other transaction reads
// the page. A lone reader upgrading itself passes.
func (e *lockEntry) grantableExclusive(txnID common.TxnID) bool {
	if e.exclusive != common.NilTxnID && e.exclusive != txnID {
		return false
	}

	switch e.shared.Cardinality() {
	case 0:
		return true
	case 1:
		return e.shared.Contains(txnID)
	default:
		return false
	}
}

// LockTable implements strict two-phase locking at page granularity with
// deadlock handling by timeout. Entries are created on first request and
// persist afterwards; the set is bounded by the pages ever touched.
type LockTable struct {
	mu      sync.Mutex
	entries map[common.PageIdentity]*lockEntry

	timeout time.Duration
	log     src.Logger
}

func NewLockTable(timeout time.Duration, log src.Logger) *LockTable {
	assert.Assert(timeout > 0, "deadlock timeout must be positive, got %v", timeout)

	return &LockTable{
		entries: map[common.PageIdentity]*lockEntry{},
		timeout: timeout,
		log:     log,
	}
}

func (t *LockTable) entry(pageIdent common.PageIdentity) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[pageIdent]
	if !ok {
		e = newLockEntry()
		t.entries[pageIdent] = e
	}

	return e
}

// Acquire takes a page lock for txnID, blocking up to the deadlock timeout.
// The deadline is fixed up front, so the total wait across wakeup rounds is
// bounded regardless of how often the entry churns. On timeout the call
// fails with ErrTxnAborted and grants nothing.
func (t *LockTable) Acquire(
	txnID common.TxnID,
	pageIdent common.PageIdentity,
	mode LockMode,
) error {
	assert.Assert(txnID != common.NilTxnID, "nil txn cannot lock pages")

	e := t.entry(pageIdent)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()

		switch mode {
		case LockShared:
			if e.grantableShared(txnID) {
				e.shared.Add(txnID)
				e.mu.Unlock()
				return nil
			}
		case LockExclusive:
			if e.grantableExclusive(txnID) {
				e.exclusive = txnID
				e.mu.Unlock()
				return nil
			}
		default:
			e.mu.Unlock()
			assert.Assert(false, "unknown lock mode %v", mode)
		}

		changed := e.changed
		e.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			t.log.Warnf(
				"txn %d: %v lock on page %v timed out after %v",
				txnID, mode, pageIdent, t.timeout,
			)
			return fmt.Errorf(
				"txn %d acquiring %v on page %v: %w",
				txnID, mode, pageIdent, ErrTxnAborted,
			)
		}
	}
}

// Release drops txnID's lock on the page. Releasing an exclusive hold wakes
// everyone. Releasing a shared hold wakes everyone once at most one reader
// remains: the survivor may be parked waiting to upgrade.
func (t *LockTable) Release(txnID common.TxnID, pageIdent common.PageIdentity) {
	t.mu.Lock()
	e, ok := t.entries[pageIdent]
	t.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exclusive == txnID {
		e.exclusive = common.NilTxnID
		e.shared.Remove(txnID)
		e.broadcast()
		return
	}

	e.shared.Remove(txnID)
	if e.shared.Cardinality() <= 1 {
		e.broadcast()
	}
}

// Holds reports whether txnID currently holds any lock on the page. A page
// nobody ever locked yields false.
func (t *LockTable) Holds(txnID common.TxnID, pageIdent common.PageIdentity) bool {
	t.mu.Lock()
	e, ok := t.entries[pageIdent]
	t.mu.Unlock()

	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exclusive != common.NilTxnID {
		return e.exclusive == txnID
	}

	return e.shared.Contains(txnID)
}
