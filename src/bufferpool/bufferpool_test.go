package bufferpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/disk"
	"github.com/Blackdeer1524/HeapDB/src/storage/heap"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

const (
	testPageSize = 256
	testTimeout  = 200 * time.Millisecond
)

type countingStore struct {
	inner common.PageStore

	reads  atomic.Int64
	writes atomic.Int64
}

func (s *countingStore) ReadPage(pageIdent common.PageIdentity) ([]byte, error) {
	s.reads.Add(1)
	return s.inner.ReadPage(pageIdent)
}

func (s *countingStore) WritePage(pageIdent common.PageIdentity, data []byte) error {
	s.writes.Add(1)
	return s.inner.WritePage(pageIdent, data)
}

func (s *countingStore) NumPages(fileID common.FileID) (common.PageID, error) {
	return s.inner.NumPages(fileID)
}

type testRegistry struct {
	files map[common.FileID]DbFile
}

func (r *testRegistry) File(fileID common.FileID) (DbFile, bool) {
	f, ok := r.files[fileID]
	return f, ok
}

type env struct {
	store *countingStore
	pool  *Manager
	table *heap.File
}

func newEnv(t *testing.T, capacity, recordSize int) *env {
	t.Helper()

	log := zap.NewNop().Sugar()

	store := &countingStore{inner: disk.NewInMemoryManager(testPageSize)}
	fileID := store.inner.(*disk.InMemoryManager).CreateFile("users.tbl")

	pool := New(
		capacity,
		txns.NewLockTable(testTimeout, log),
		txns.NewTracker(),
		store,
		log,
	)

	table := heap.NewFile(fileID, testPageSize, recordSize, pool, store)
	pool.SetRegistry(&testRegistry{files: map[common.FileID]DbFile{fileID: table}})

	return &env{store: store, pool: pool, table: table}
}

func (e *env) pid(pageID uint64) common.PageIdentity {
	return common.PageIdentity{FileID: e.table.ID(), PageID: common.PageID(pageID)}
}

func record(e *env, b byte) []byte {
	rec := make([]byte, e.table.RecordSize())
	for i := range rec {
		rec[i] = b
	}
	return rec
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func TestGetPageSameTxnSameObject(t *testing.T) {
	e := newEnv(t, 2, 16)

	first, err := e.pool.GetPage(1, e.pid(0), txns.LockShared)
	require.NoError(t, err)

	second, err := e.pool.GetPage(1, e.pid(0), txns.LockShared)
	require.NoError(t, err)

	assert.Same(t, first, second)
	require.NoError(t, e.pool.TxnComplete(1, true))
}

func TestInsertMarksPagesDirty(t *testing.T) {
	e := newEnv(t, 2, 16)

	require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, 0xAA)))

	pg, err := e.pool.GetPage(1, e.pid(0), txns.LockShared)
	require.NoError(t, err)
	assert.Equal(t, common.TxnID(1), pg.DirtiedBy())
	assert.True(t, e.pool.HoldsLock(1, e.pid(0)))

	require.NoError(t, e.pool.TxnComplete(1, true))
}

func TestCommitFlushesAndFlushAllDoesNotLeakUncommitted(t *testing.T) {
	e := newEnv(t, 1, 16)

	require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, 0xAA)))

	// FORCE-at-commit: a flush-all before the commit must not push the
	// uncommitted page image to disk.
	require.NoError(t, e.pool.FlushAllPages())

	onDisk, err := e.store.inner.ReadPage(e.pid(0))
	require.NoError(t, err)
	assert.True(t, allZero(onDisk), "uncommitted page reached disk")

	require.NoError(t, e.pool.TxnComplete(1, true))

	onDisk, err = e.store.inner.ReadPage(e.pid(0))
	require.NoError(t, err)
	assert.False(t, allZero(onDisk))
	assert.EqualValues(t, 1, onDisk[0]&1, "first slot must be marked used")

	// The record is visible to a later transaction.
	records, err := e.table.Scan(2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record(e, 0xAA), records[0].Data)
	require.NoError(t, e.pool.TxnComplete(2, true))
}

func TestAbortRevertsDeletes(t *testing.T) {
	e := newEnv(t, 4, 16)

	require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, 0xAA)))
	require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, 0xBB)))
	require.NoError(t, e.pool.TxnComplete(1, true))

	records, err := e.table.Scan(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NoError(t, e.pool.TxnComplete(2, true))

	require.NoError(t, e.pool.DeleteRecord(3, records[0].RID))
	require.NoError(t, e.pool.TxnComplete(3, false))

	// The delete never happened.
	after, err := e.table.Scan(4)
	require.NoError(t, err)
	assert.Len(t, after, 2)
	require.NoError(t, e.pool.TxnComplete(4, true))
}

func TestAbortRevertsInserts(t *testing.T) {
	e := newEnv(t, 4, 16)

	require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, 0xAA)))
	require.NoError(t, e.pool.TxnComplete(1, false))

	records, err := e.table.Scan(2)
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, e.pool.TxnComplete(2, true))
}

func TestEvictionSkipsDirtyPages(t *testing.T) {
	// record size 120 → two slots per page: three inserts dirty two pages.
	e := newEnv(t, 2, 120)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, byte(i+1))))
	}
	require.Equal(t, 2, e.pool.NumCached())

	// Both resident pages are dirty: a miss must fail, not steal.
	_, err := e.pool.GetPage(2, e.pid(2), txns.LockShared)
	require.ErrorIs(t, err, ErrNoCleanPage)

	// After the writer commits the same read succeeds.
	require.NoError(t, e.pool.TxnComplete(1, true))

	_, err = e.pool.GetPage(2, e.pid(2), txns.LockShared)
	require.NoError(t, err)
	require.NoError(t, e.pool.TxnComplete(2, true))
}

func TestLRUPrefersOldestCleanPage(t *testing.T) {
	e := newEnv(t, 2, 16)

	_, err := e.pool.GetPage(1, e.pid(0), txns.LockShared)
	require.NoError(t, err)
	_, err = e.pool.GetPage(1, e.pid(1), txns.LockShared)
	require.NoError(t, err)

	// Refresh page 0: page 1 becomes the eviction candidate.
	_, err = e.pool.GetPage(1, e.pid(0), txns.LockShared)
	require.NoError(t, err)

	_, err = e.pool.GetPage(1, e.pid(2), txns.LockShared)
	require.NoError(t, err)

	reads := e.store.reads.Load()
	_, err = e.pool.GetPage(1, e.pid(0), txns.LockShared)
	require.NoError(t, err)
	assert.Equal(t, reads, e.store.reads.Load(), "page 0 must still be cached")

	_, err = e.pool.GetPage(1, e.pid(1), txns.LockShared)
	require.NoError(t, err)
	assert.Equal(t, reads+1, e.store.reads.Load(), "page 1 must have been evicted")

	require.NoError(t, e.pool.TxnComplete(1, true))
}

func TestFlushPageIsIdempotent(t *testing.T) {
	e := newEnv(t, 2, 16)

	require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, 0xAA)))

	require.NoError(t, e.pool.FlushPage(e.pid(0)))
	writes := e.store.writes.Load()
	require.EqualValues(t, 1, writes)

	require.NoError(t, e.pool.FlushPage(e.pid(0)))
	assert.Equal(t, writes, e.store.writes.Load())

	// Flushing a page that is not resident is a no-op.
	require.NoError(t, e.pool.FlushPage(e.pid(9)))
	assert.Equal(t, writes, e.store.writes.Load())

	require.NoError(t, e.pool.TxnComplete(1, true))
}

func TestTxnCompleteReleasesEveryLock(t *testing.T) {
	e := newEnv(t, 4, 16)

	_, err := e.pool.GetPage(1, e.pid(0), txns.LockExclusive)
	require.NoError(t, err)
	_, err = e.pool.GetPage(1, e.pid(1), txns.LockShared)
	require.NoError(t, err)

	require.True(t, e.pool.HoldsLock(1, e.pid(0)))
	require.True(t, e.pool.HoldsLock(1, e.pid(1)))

	require.NoError(t, e.pool.TxnComplete(1, true))

	assert.False(t, e.pool.HoldsLock(1, e.pid(0)))
	assert.False(t, e.pool.HoldsLock(1, e.pid(1)))
}

func TestWriterBlocksReaderUntilCommit(t *testing.T) {
	e := newEnv(t, 4, 16)

	_, err := e.pool.GetPage(1, e.pid(0), txns.LockExclusive)
	require.NoError(t, err)

	granted := make(chan error, 1)
	go func() {
		_, err := e.pool.GetPage(2, e.pid(0), txns.LockShared)
		granted <- err
	}()

	select {
	case err := <-granted:
		t.Fatalf("reader should have blocked behind the writer, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, e.pool.TxnComplete(1, true))

	select {
	case err := <-granted:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("reader was not admitted after the writer committed")
	}

	require.NoError(t, e.pool.TxnComplete(2, true))
}

func TestLockTimeoutSurfacesAsAbort(t *testing.T) {
	e := newEnv(t, 4, 16)

	_, err := e.pool.GetPage(1, e.pid(0), txns.LockExclusive)
	require.NoError(t, err)

	_, err = e.pool.GetPage(2, e.pid(0), txns.LockExclusive)
	require.ErrorIs(t, err, txns.ErrTxnAborted)

	// The aborted caller completes with commit=false and leaks nothing.
	require.NoError(t, e.pool.TxnComplete(2, false))
	assert.True(t, e.pool.HoldsLock(1, e.pid(0)))

	require.NoError(t, e.pool.TxnComplete(1, true))
}

func TestDiscardDropsPageWithoutFlush(t *testing.T) {
	e := newEnv(t, 2, 16)

	require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, 0xAA)))
	require.Equal(t, 1, e.pool.NumCached())

	e.pool.DiscardPage(e.pid(0))

	assert.Equal(t, 0, e.pool.NumCached())
	assert.EqualValues(t, 0, e.store.writes.Load())

	require.NoError(t, e.pool.TxnComplete(1, false))
}

func TestStealModeFlushesVictim(t *testing.T) {
	e := newEnv(t, 2, 120)
	e.pool.EnableSteal()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.pool.InsertRecord(1, e.table.ID(), record(e, byte(i+1))))
	}

	// Both resident pages are dirty, but steal mode flushes the LRU one
	// instead of failing.
	_, err := e.pool.GetPage(2, e.pid(2), txns.LockShared)
	require.NoError(t, err)
	assert.Positive(t, e.store.writes.Load())

	require.NoError(t, e.pool.TxnComplete(1, true))
	require.NoError(t, e.pool.TxnComplete(2, true))
}
