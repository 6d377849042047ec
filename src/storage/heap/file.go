package heap

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

var (
	ErrWrongFile    = errors.New("record does not belong to this file")
	ErrNoSuchRecord = errors.New("no record at the given slot")
	ErrPageFull     = errors.New("no free slot found")
)

// PageSource is how the file reaches pages: always through the buffer pool,
// so every page access is locked and tracked.
type PageSource interface {
	GetPage(
		txnID common.TxnID,
		pageIdent common.PageIdentity,
		mode txns.LockMode,
	) (*page.Page, error)
}

// File is a heap file: an unordered collection of fixed-size records packed
// into pages. Each page starts with a used-slot bitmap followed by the
// record slots:
//
//	slots  = floor(pageSize*8 / (recordSize*8 + 1))
//	header = ceil(slots / 8) bytes
//
// Record operations take exclusive page locks through the pool and return
// the pages they touched so the pool can mark them dirty.
type File struct {
	fileID     common.FileID
	pageSize   int
	recordSize int

	slotsPerPage int
	headerBytes  int

	pages PageSource
	store common.PageStore
}

func NewFile(
	fileID common.FileID,
	pageSize int,
	recordSize int,
	pages PageSource,
	store common.PageStore,
) *File {
	assert.Assert(recordSize > 0, "record size must be positive, got %d", recordSize)

	slots := pageSize * 8 / (recordSize*8 + 1)
	assert.Assert(slots > 0,
		"record of %d bytes does not fit a %d byte page", recordSize, pageSize)

	return &File{
		fileID:       fileID,
		pageSize:     pageSize,
		recordSize:   recordSize,
		slotsPerPage: slots,
		headerBytes:  (slots + 7) / 8,
		pages:        pages,
		store:        store,
	}
}

func (f *File) ID() common.FileID { return f.fileID }

func (f *File) RecordSize() int { return f.recordSize }

func (f *File) SlotsPerPage() int { return f.slotsPerPage }

func (f *File) NumPages() (common.PageID, error) {
	return f.store.NumPages(f.fileID)
}

func (f *File) slotUsed(data []byte, slot int) bool {
	return data[slot/8]&(1<<(slot%8)) != 0
}

func (f *File) setSlot(data []byte, slot int, used bool) {
	if used {
		data[slot/8] |= 1 << (slot % 8)
	} else {
		data[slot/8] &^= 1 << (slot % 8)
	}
}

func (f *File) recordAt(data []byte, slot int) []byte {
	off := f.headerBytes + slot*f.recordSize
	return data[off : off+f.recordSize]
}

// InsertRecord places the record on the first page with a free slot,
// walking the file under exclusive locks. Reading one page past the end
// extends the file, so a full file grows by a fresh page.
func (f *File) InsertRecord(txnID common.TxnID, record []byte) ([]*page.Page, error) {
	if len(record) != f.recordSize {
		return nil, fmt.Errorf("bad record size %d, want %d", len(record), f.recordSize)
	}

	numPages, err := f.NumPages()
	if err != nil {
		return nil, err
	}

	for pageNo := common.PageID(0); pageNo <= numPages; pageNo++ {
		pageIdent := common.PageIdentity{FileID: f.fileID, PageID: pageNo}

		pg, err := f.pages.GetPage(txnID, pageIdent, txns.LockExclusive)
		if err != nil {
			return nil, err
		}

		pg.Lock()
		_, ok := f.insertInto(pg.Data(), record)
		pg.Unlock()

		if ok {
			return []*page.Page{pg}, nil
		}
	}

	return nil, fmt.Errorf("file %d: %w", f.fileID, ErrPageFull)
}

func (f *File) insertInto(data []byte, record []byte) (int, bool) {
	for slot := 0; slot < f.slotsPerPage; slot++ {
		if f.slotUsed(data, slot) {
			continue
		}

		f.setSlot(data, slot, true)
		copy(f.recordAt(data, slot), record)
		return slot, true
	}

	return 0, false
}

// DeleteRecord clears the record's slot under an exclusive page lock.
func (f *File) DeleteRecord(txnID common.TxnID, rid common.RecordID) ([]*page.Page, error) {
	if rid.PageIdentity.FileID != f.fileID {
		return nil, fmt.Errorf("record %v: %w", rid, ErrWrongFile)
	}
	if int(rid.SlotNum) >= f.slotsPerPage {
		return nil, fmt.Errorf("record %v: slot out of range: %w", rid, ErrNoSuchRecord)
	}

	numPages, err := f.NumPages()
	if err != nil {
		return nil, err
	}
	if rid.PageIdentity.PageID >= numPages {
		return nil, fmt.Errorf("record %v: page out of range: %w", rid, ErrNoSuchRecord)
	}

	pg, err := f.pages.GetPage(txnID, rid.PageIdentity, txns.LockExclusive)
	if err != nil {
		return nil, err
	}

	pg.Lock()
	defer pg.Unlock()

	if !f.slotUsed(pg.Data(), int(rid.SlotNum)) {
		return nil, fmt.Errorf("record %v: %w", rid, ErrNoSuchRecord)
	}

	f.setSlot(pg.Data(), int(rid.SlotNum), false)

	return []*page.Page{pg}, nil
}

// ReadRecord returns a copy of the record under a shared page lock.
func (f *File) ReadRecord(txnID common.TxnID, rid common.RecordID) ([]byte, error) {
	if rid.PageIdentity.FileID != f.fileID {
		return nil, fmt.Errorf("record %v: %w", rid, ErrWrongFile)
	}

	pg, err := f.pages.GetPage(txnID, rid.PageIdentity, txns.LockShared)
	if err != nil {
		return nil, err
	}

	pg.RLock()
	defer pg.RUnlock()

	if int(rid.SlotNum) >= f.slotsPerPage || !f.slotUsed(pg.Data(), int(rid.SlotNum)) {
		return nil, fmt.Errorf("record %v: %w", rid, ErrNoSuchRecord)
	}

	record := make([]byte, f.recordSize)
	copy(record, f.recordAt(pg.Data(), int(rid.SlotNum)))

	return record, nil
}

// Record is a live record with its location.
type Record struct {
	RID  common.RecordID
	Data []byte
}

// Scan walks every page of the file under shared locks and returns the
// live records in slot order.
func (f *File) Scan(txnID common.TxnID) ([]Record, error) {
	numPages, err := f.NumPages()
	if err != nil {
		return nil, err
	}

	var records []Record
	for pageNo := common.PageID(0); pageNo < numPages; pageNo++ {
		pageIdent := common.PageIdentity{FileID: f.fileID, PageID: pageNo}

		pg, err := f.pages.GetPage(txnID, pageIdent, txns.LockShared)
		if err != nil {
			return nil, err
		}

		pg.RLock()
		for slot := 0; slot < f.slotsPerPage; slot++ {
			if !f.slotUsed(pg.Data(), slot) {
				continue
			}

			data := make([]byte, f.recordSize)
			copy(data, f.recordAt(pg.Data(), slot))

			records = append(records, Record{
				RID: common.RecordID{
					PageIdentity: pageIdent,
					SlotNum:      uint16(slot),
				},
				Data: data,
			})
		}
		pg.RUnlock()
	}

	return records, nil
}
