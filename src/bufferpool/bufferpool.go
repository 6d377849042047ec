package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

// ErrNoCleanPage is returned when eviction is required but every resident
// page is dirty. Under NO-STEAL failing is the only correct answer: an
// uncommitted page image must never reach disk.
var ErrNoCleanPage = errors.New("no clean page to evict")

const DefaultPoolSize = 50

// DbFile is a registered table file. Its record operations go back through
// the pool with exclusive locks and return every page they touched.
type DbFile interface {
	ID() common.FileID
	InsertRecord(txnID common.TxnID, record []byte) ([]*page.Page, error)
	DeleteRecord(txnID common.TxnID, rid common.RecordID) ([]*page.Page, error)
}

// FileRegistry resolves a file id to its DbFile.
type FileRegistry interface {
	File(fileID common.FileID) (DbFile, bool)
}

// lruNode is a cache entry threaded on the recency list. head.next is the
// eviction candidate, tail.prev the most recently used.
type lruNode struct {
	prev, next *lruNode

	pageIdent common.PageIdentity
	page      *page.Page
}

// Manager is the buffer pool: a bounded page cache in front of a PageStore,
// coordinating access across transactions through the lock table. It owns
// the transaction lifecycle: commit flushes dirty pages before releasing
// locks (FORCE), abort reloads on-disk images, which under NO-STEAL are
// guaranteed to be the pre-transaction state.
type Manager struct {
	capacity int

	mu         sync.Mutex
	pages      map[common.PageIdentity]*lruNode
	head, tail *lruNode

	lockTable *txns.LockTable
	tracker   *txns.Tracker
	disk      common.PageStore

	registry FileRegistry
	logger   common.TxnLogger
	steal    bool

	log src.Logger
}

func New(
	capacity int,
	lockTable *txns.LockTable,
	tracker *txns.Tracker,
	disk common.PageStore,
	log src.Logger,
) *Manager {
	assert.Assert(capacity > 0, "pool capacity must be positive, got %d", capacity)

	head := &lruNode{}
	tail := &lruNode{}
	head.next = tail
	tail.prev = head

	return &Manager{
		capacity:  capacity,
		pages:     map[common.PageIdentity]*lruNode{},
		head:      head,
		tail:      tail,
		lockTable: lockTable,
		tracker:   tracker,
		disk:      disk,
		logger:    common.NoLogs(),
		log:       log,
	}
}

// SetRegistry wires the table files for record routing. Catalog and pool
// reference each other, so the registry arrives after construction.
func (m *Manager) SetRegistry(registry FileRegistry) { m.registry = registry }

func (m *Manager) SetLogger(logger common.TxnLogger) { m.logger = logger }

// EnableSteal switches eviction to flush-and-steal through the WAL hook.
// Abort-by-reload is unsound in this mode: a stolen page's uncommitted
// image stays on disk after abort, and the TxnLogger only records it
// (nothing replays the log). It exists for recovery integration, not for
// general use.
func (m *Manager) EnableSteal() { m.steal = true }

func (m *Manager) detach(n *lruNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (m *Manager) pushMRU(n *lruNode) {
	n.prev = m.tail.prev
	n.next = m.tail
	m.tail.prev.next = n
	m.tail.prev = n
}

// GetPage acquires the page lock (blocking up to the deadlock timeout),
// records the access under txnID and returns the cached page, loading it
// from the store on a miss. Every hit refreshes the page's LRU position.
func (m *Manager) GetPage(
	txnID common.TxnID,
	pageIdent common.PageIdentity,
	mode txns.LockMode,
) (*page.Page, error) {
	if err := m.lockTable.Acquire(txnID, pageIdent, mode); err != nil {
		return nil, err
	}

	m.tracker.Track(txnID, pageIdent)

	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.pages[pageIdent]; ok {
		m.detach(n)
		m.pushMRU(n)
		return n.page, nil
	}

	if len(m.pages) >= m.capacity {
		if err := m.evict(); err != nil {
			return nil, err
		}
	}

	data, err := m.disk.ReadPage(pageIdent)
	if err != nil {
		return nil, fmt.Errorf("failed to load page %v: %w", pageIdent, err)
	}

	n := &lruNode{
		pageIdent: pageIdent,
		page:      page.FromBytes(pageIdent, data),
	}
	m.pages[pageIdent] = n
	m.pushMRU(n)

	return n.page, nil
}

// evict frees one cache slot. Strict NO-STEAL scans from the LRU end and
// drops the first clean page; if everything is dirty the caller's GetPage
// fails. In steal mode the LRU page is flushed (WAL first) and dropped
// regardless.
func (m *Manager) evict() error {
	if m.steal {
		victim := m.head.next
		if victim == m.tail {
			return ErrNoCleanPage
		}
		if err := m.flushNode(victim); err != nil {
			return err
		}
		m.detach(victim)
		delete(m.pages, victim.pageIdent)
		return nil
	}

	for cur := m.head.next; cur != m.tail; cur = cur.next {
		if cur.page.IsDirty() {
			continue
		}

		m.detach(cur)
		delete(m.pages, cur.pageIdent)
		return nil
	}

	return ErrNoCleanPage
}

// flushNode writes a dirty page out: update record, log flush, page write,
// then the page becomes clean and its before-image catches up with the
// flushed contents. Clean pages are a no-op. Callers hold m.mu.
func (m *Manager) flushNode(n *lruNode) error {
	pg := n.page
	if !pg.IsDirty() {
		return nil
	}

	pg.Lock()
	defer pg.Unlock()

	after := make([]byte, pg.Size())
	copy(after, pg.Data())

	if err := m.logger.AppendUpdate(pg.DirtiedBy(), n.pageIdent, pg.BeforeImage(), after); err != nil {
		return fmt.Errorf("failed to log update for page %v: %w", n.pageIdent, err)
	}
	if err := m.logger.Flush(); err != nil {
		return fmt.Errorf("failed to flush log: %w", err)
	}

	if err := m.disk.WritePage(n.pageIdent, after); err != nil {
		return fmt.Errorf("failed to write page %v: %w", n.pageIdent, err)
	}

	pg.ClearDirty()
	pg.SetBeforeImage()

	return nil
}

// FlushPage forces a single resident dirty page out. Pages not in the pool
// are a no-op. Recovery/test hook; repeated calls are idempotent.
func (m *Manager) FlushPage(pageIdent common.PageIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.pages[pageIdent]
	if !ok {
		return nil
	}

	return m.flushNode(n)
}

// FlushAllPages writes out resident dirty pages except those dirtied by a
// still-active transaction: under FORCE those flush at their own commit,
// and writing them early would put uncommitted state on disk.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := map[common.TxnID]struct{}{}
	for _, txnID := range m.tracker.ActiveTransactions() {
		active[txnID] = struct{}{}
	}

	var err error
	for cur := m.head.next; cur != m.tail; cur = cur.next {
		if _, ok := active[cur.page.DirtiedBy()]; ok {
			m.log.Debugf(
				"skipping flush of page %v: dirtied by active txn %d",
				cur.pageIdent, cur.page.DirtiedBy(),
			)
			continue
		}
		err = errors.Join(err, m.flushNode(cur))
	}

	return err
}

// DiscardPage drops a page from the cache without flushing.
func (m *Manager) DiscardPage(pageIdent common.PageIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.pages[pageIdent]
	if !ok {
		return
	}

	m.detach(n)
	delete(m.pages, pageIdent)
}

// InsertRecord routes a record insert to its table file and marks every
// page the file dirtied. The file takes exclusive page locks through
// GetPage, so the pages are already tracked under txnID.
func (m *Manager) InsertRecord(txnID common.TxnID, fileID common.FileID, record []byte) error {
	assert.Assert(m.registry != nil, "no file registry attached")

	file, ok := m.registry.File(fileID)
	if !ok {
		return fmt.Errorf("fileID %d: no such table file", fileID)
	}

	dirtied, err := file.InsertRecord(txnID, record)
	if err != nil {
		return fmt.Errorf("failed to insert into file %d: %w", fileID, err)
	}

	for _, pg := range dirtied {
		pg.MarkDirty(txnID)
	}

	return nil
}

// DeleteRecord routes a record delete to the owning table file and marks
// the dirtied pages.
func (m *Manager) DeleteRecord(txnID common.TxnID, rid common.RecordID) error {
	assert.Assert(m.registry != nil, "no file registry attached")

	file, ok := m.registry.File(rid.PageIdentity.FileID)
	if !ok {
		return fmt.Errorf("fileID %d: no such table file", rid.PageIdentity.FileID)
	}

	dirtied, err := file.DeleteRecord(txnID, rid)
	if err != nil {
		return fmt.Errorf("failed to delete record %v: %w", rid, err)
	}

	for _, pg := range dirtied {
		pg.MarkDirty(txnID)
	}

	return nil
}

// HoldsLock reports whether the transaction holds a lock on the page.
func (m *Manager) HoldsLock(txnID common.TxnID, pageIdent common.PageIdentity) bool {
	return m.lockTable.Holds(txnID, pageIdent)
}

// UnsafeRelease drops a single page lock without completing the
// transaction. Breaks two-phase locking; test hook only.
func (m *Manager) UnsafeRelease(txnID common.TxnID, pageIdent common.PageIdentity) {
	m.lockTable.Release(txnID, pageIdent)
}

// TxnComplete finishes a transaction. Commit flushes every page the
// transaction dirtied (FORCE) and logs the commit before any lock is
// released; abort reloads the on-disk images, which NO-STEAL guarantees to
// be the pre-transaction state. Either way all locks are released and the
// transaction's tracking entry is dropped.
func (m *Manager) TxnComplete(txnID common.TxnID, commit bool) error {
	touched := m.tracker.Touched(txnID)

	var err error
	if commit {
		err = m.commitPages(txnID, touched)
	} else {
		err = m.revertPages(txnID, touched)
	}

	for _, pageIdent := range touched {
		m.lockTable.Release(txnID, pageIdent)
	}
	m.tracker.Forget(txnID)

	return err
}

func (m *Manager) commitPages(txnID common.TxnID, touched []common.PageIdentity) error {
	m.mu.Lock()

	var err error
	for _, pageIdent := range touched {
		n, ok := m.pages[pageIdent]
		if !ok || n.page.DirtiedBy() != txnID {
			continue
		}
		err = errors.Join(err, m.flushNode(n))
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("txn %d commit: %w", txnID, err)
	}

	if err := m.logger.AppendCommit(txnID); err != nil {
		return fmt.Errorf("txn %d commit: %w", txnID, err)
	}
	if err := m.logger.Flush(); err != nil {
		return fmt.Errorf("txn %d commit: %w", txnID, err)
	}

	return nil
}

func (m *Manager) revertPages(txnID common.TxnID, touched []common.PageIdentity) error {
	m.mu.Lock()

	var err error
	for _, pageIdent := range touched {
		n, ok := m.pages[pageIdent]
		if !ok || n.page.DirtiedBy() != txnID {
			continue
		}

		data, readErr := m.disk.ReadPage(pageIdent)
		if readErr != nil {
			// Can't reload: drop the poisoned entry, the next reader
			// will fault it in.
			m.log.Errorf("txn %d abort: reload of page %v failed: %v", txnID, pageIdent, readErr)
			m.detach(n)
			delete(m.pages, pageIdent)
			err = errors.Join(err, readErr)
			continue
		}

		n.page.Lock()
		n.page.SetData(data)
		n.page.Unlock()
	}
	m.mu.Unlock()

	if logErr := m.logger.AppendAbort(txnID); logErr != nil {
		err = errors.Join(err, logErr)
	}

	if err != nil {
		return fmt.Errorf("txn %d abort: %w", txnID, err)
	}

	return nil
}

// NumCached returns the number of resident pages.
func (m *Manager) NumCached() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pages)
}

func (m *Manager) Capacity() int { return m.capacity }
