package page

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// Page is a fixed-size byte container. The raw bytes are the serialized
// form; interpreting them is the heap layer's job. Besides the data a page
// carries the id of the transaction that dirtied it (NilTxnID when clean)
// and a before-image snapshot taken at load time and after every flush,
// which is what abort-revert and the WAL hook feed on.
//
// The latch serializes page-level readers/writers against flushes. It is
// short-held; transaction-level isolation is the lock table's job.
type Page struct {
	id common.PageIdentity

	latch deadlock.RWMutex

	data        []byte
	dirtyBy     common.TxnID
	beforeImage []byte
}

// New returns a zeroed page of the given size.
func New(id common.PageIdentity, size int) *Page {
	assert.Assert(size > 0, "page size must be positive, got %d", size)

	data := make([]byte, size)
	return &Page{
		id:          id,
		data:        data,
		dirtyBy:     common.NilTxnID,
		beforeImage: make([]byte, size),
	}
}

// FromBytes wraps a page read from disk. The slice is owned by the page
// afterwards; the before-image is snapshotted from it.
func FromBytes(id common.PageIdentity, data []byte) *Page {
	assert.Assert(len(data) > 0, "page %v: empty data", id)

	before := make([]byte, len(data))
	copy(before, data)

	return &Page{
		id:          id,
		data:        data,
		dirtyBy:     common.NilTxnID,
		beforeImage: before,
	}
}

func (p *Page) ID() common.PageIdentity { return p.id }

func (p *Page) Size() int { return len(p.data) }

// Data returns the live byte slice. Callers mutate it only while holding
// the latch and an exclusive page lock.
func (p *Page) Data() []byte { return p.data }

// SetData replaces the page contents with a copy of data and resets the
// dirty marker and before-image, as if freshly loaded. Used by
// abort-revert.
func (p *Page) SetData(data []byte) {
	assert.Assert(len(data) == len(p.data),
		"page %v: size mismatch on SetData: %d != %d", p.id, len(data), len(p.data))

	copy(p.data, data)
	copy(p.beforeImage, data)
	p.dirtyBy = common.NilTxnID
}

// MarkDirty records the transaction responsible for the page's current
// uncommitted state.
func (p *Page) MarkDirty(txnID common.TxnID) {
	assert.Assert(txnID != common.NilTxnID, "page %v: dirtied by nil txn", p.id)
	p.dirtyBy = txnID
}

func (p *Page) ClearDirty() { p.dirtyBy = common.NilTxnID }

// DirtiedBy returns the dirtying transaction, NilTxnID when clean.
func (p *Page) DirtiedBy() common.TxnID { return p.dirtyBy }

func (p *Page) IsDirty() bool { return p.dirtyBy != common.NilTxnID }

// SetBeforeImage re-snapshots the current contents. Called after a flush so
// that a later transaction aborts back to the flushed state.
func (p *Page) SetBeforeImage() {
	copy(p.beforeImage, p.data)
}

// BeforeImage returns a copy of the last snapshot.
func (p *Page) BeforeImage() []byte {
	img := make([]byte, len(p.beforeImage))
	copy(img, p.beforeImage)
	return img
}

func (p *Page) Lock()    { p.latch.Lock() }
func (p *Page) Unlock()  { p.latch.Unlock() }
func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }
