package catalog

import (
	"sync"

	"github.com/Blackdeer1524/HeapDB/src/bufferpool"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/heap"
)

// Catalog is the registry the core needs from a full catalog: routing from
// file ids to table files. Schemas, statistics and SQL names live a layer
// above.
type Catalog struct {
	mu    sync.RWMutex
	files map[common.FileID]*heap.File
	names map[string]common.FileID
}

var _ bufferpool.FileRegistry = &Catalog{}

func New() *Catalog {
	return &Catalog{
		files: map[common.FileID]*heap.File{},
		names: map[string]common.FileID{},
	}
}

func (c *Catalog) Register(name string, file *heap.File) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.files[file.ID()] = file
	c.names[name] = file.ID()
}

func (c *Catalog) File(fileID common.FileID) (bufferpool.DbFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.files[fileID]
	return f, ok
}

func (c *Catalog) ByName(name string) (*heap.File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fileID, ok := c.names[name]
	if !ok {
		return nil, false
	}

	return c.files[fileID], true
}

func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.names))
	for name := range c.names {
		names = append(names, name)
	}

	return names
}
