package disk

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dsnet/golib/memfile"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// InMemoryManager keeps every registered file in a memfile. Same contract
// as Manager; used by tests and the bench workload.
type InMemoryManager struct {
	mu sync.Mutex

	pageSize int
	files    map[common.FileID]*memfile.File
	numPages map[common.FileID]common.PageID
}

var _ common.PageStore = &InMemoryManager{}

func NewInMemoryManager(pageSize int) *InMemoryManager {
	return &InMemoryManager{
		pageSize: pageSize,
		files:    map[common.FileID]*memfile.File{},
		numPages: map[common.FileID]common.PageID{},
	}
}

func (m *InMemoryManager) PageSize() int { return m.pageSize }

// CreateFile registers an empty in-memory file under the given name.
func (m *InMemoryManager) CreateFile(name string) common.FileID {
	fileID := FileIDOf(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[fileID]; !ok {
		m.files[fileID] = memfile.New(make([]byte, 0))
		m.numPages[fileID] = 0
	}

	return fileID
}

func (m *InMemoryManager) NumPages(fileID common.FileID) (common.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.numPages[fileID]
	if !ok {
		return 0, fmt.Errorf("fileID %d: %w", fileID, ErrUnknownFile)
	}

	return n, nil
}

func (m *InMemoryManager) ReadPage(pageIdent common.PageIdentity) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[pageIdent.FileID]
	if !ok {
		return nil, fmt.Errorf("fileID %d: %w", pageIdent.FileID, ErrUnknownFile)
	}

	count := m.numPages[pageIdent.FileID]
	if pageIdent.PageID > count {
		return nil, fmt.Errorf("page %v (file has %d pages): %w", pageIdent, count, ErrNoSuchPage)
	}

	data := make([]byte, m.pageSize)
	if pageIdent.PageID == count {
		m.numPages[pageIdent.FileID] = count + 1
		return data, nil
	}

	offset := int64(pageIdent.PageID) * int64(m.pageSize)
	if _, err := file.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read page %v: %w", pageIdent, err)
	}

	return data, nil
}

func (m *InMemoryManager) WritePage(pageIdent common.PageIdentity, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[pageIdent.FileID]
	if !ok {
		return fmt.Errorf("fileID %d: %w", pageIdent.FileID, ErrUnknownFile)
	}

	if len(data) != m.pageSize {
		return fmt.Errorf("page %v: bad page size %d, want %d", pageIdent, len(data), m.pageSize)
	}

	offset := int64(pageIdent.PageID) * int64(m.pageSize)
	if _, err := file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write page %v: %w", pageIdent, err)
	}

	if pageIdent.PageID+1 > m.numPages[pageIdent.FileID] {
		m.numPages[pageIdent.FileID] = pageIdent.PageID + 1
	}

	return nil
}
