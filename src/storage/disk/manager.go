package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spaolacci/murmur3"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

var (
	ErrNoSuchPage  = errors.New("no such page")
	ErrUnknownFile = errors.New("file is not registered")
)

// FileIDOf derives the stable id of a backing file from its absolute path.
func FileIDOf(absPath string) common.FileID {
	return common.FileID(murmur3.Sum64([]byte(absPath)))
}

// Manager reads and writes fixed-size pages of registered heap files.
// Page k of a file lives at byte offset k × pageSize. The logical page
// count of a file is seeded from its length and can run ahead of the
// physical one: reading the page right past the end hands out a zeroed
// page and bumps the count, the file itself grows only when that page is
// written.
type Manager struct {
	mu sync.Mutex

	fs       afero.Fs
	pageSize int

	fileIDToPath map[common.FileID]string
	numPages     map[common.FileID]common.PageID
}

var _ common.PageStore = &Manager{}

func NewManager(fs afero.Fs, pageSize int) *Manager {
	return &Manager{
		fs:           fs,
		pageSize:     pageSize,
		fileIDToPath: map[common.FileID]string{},
		numPages:     map[common.FileID]common.PageID{},
	}
}

func (m *Manager) PageSize() int { return m.pageSize }

// Register creates the file if needed and returns its id. Registering the
// same path twice is idempotent.
func (m *Manager) Register(path string) (common.FileID, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	fileID := FileIDOf(absPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.fileIDToPath[fileID]; ok {
		return fileID, nil
	}

	file, err := m.fs.OpenFile(absPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to open %q: %w", absPath, err)
	}

	info, err := file.Stat()
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %q: %w", absPath, err)
	}

	m.fileIDToPath[fileID] = absPath
	m.numPages[fileID] = common.PageID(info.Size() / int64(m.pageSize))

	return fileID, nil
}

func (m *Manager) PathOf(fileID common.FileID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.fileIDToPath[fileID]
	return path, ok
}

func (m *Manager) NumPages(fileID common.FileID) (common.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.numPages[fileID]
	if !ok {
		return 0, fmt.Errorf("fileID %d: %w", fileID, ErrUnknownFile)
	}

	return n, nil
}

// ReadPage reads page pageIdent.PageID of the file. Requesting the page at
// the current page count extends the file logically and returns a zeroed
// page; requesting beyond that is ErrNoSuchPage.
func (m *Manager) ReadPage(pageIdent common.PageIdentity) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.fileIDToPath[pageIdent.FileID]
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

	file, err := m.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer file.Close()

	offset := int64(pageIdent.PageID) * int64(m.pageSize)

	// A logically extended page may not have reached the file yet; short
	// reads past EOF stay zero-filled.
	if _, err := file.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read page %v: %w", pageIdent, err)
	}

	return data, nil
}

func (m *Manager) WritePage(pageIdent common.PageIdentity, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.fileIDToPath[pageIdent.FileID]
	if !ok {
		return fmt.Errorf("fileID %d: %w", pageIdent.FileID, ErrUnknownFile)
	}

	if len(data) != m.pageSize {
		return fmt.Errorf("page %v: bad page size %d, want %d", pageIdent, len(data), m.pageSize)
	}

	file, err := m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer file.Close()

	offset := int64(pageIdent.PageID) * int64(m.pageSize)
	if _, err := file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write page %v: %w", pageIdent, err)
	}

	if pageIdent.PageID+1 > m.numPages[pageIdent.FileID] {
		m.numPages[pageIdent.FileID] = pageIdent.PageID + 1
	}

	return nil
}
