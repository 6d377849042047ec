package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/HeapDB/src/bufferpool"
	"github.com/Blackdeer1524/HeapDB/src/storage/disk"
	"github.com/Blackdeer1524/HeapDB/src/storage/heap"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

func TestRegisterAndLookup(t *testing.T) {
	log := zap.NewNop().Sugar()

	store := disk.NewInMemoryManager(256)
	pool := bufferpool.New(
		4,
		txns.NewLockTable(200*time.Millisecond, log),
		txns.NewTracker(),
		store,
		log,
	)

	c := New()
	pool.SetRegistry(c)

	users := heap.NewFile(store.CreateFile("users.tbl"), 256, 16, pool, store)
	orders := heap.NewFile(store.CreateFile("orders.tbl"), 256, 32, pool, store)
	c.Register("users", users)
	c.Register("orders", orders)

	got, ok := c.File(users.ID())
	require.True(t, ok)
	assert.Equal(t, users.ID(), got.ID())

	byName, ok := c.ByName("orders")
	require.True(t, ok)
	assert.Equal(t, orders.ID(), byName.ID())

	_, ok = c.File(12345)
	assert.False(t, ok)
	_, ok = c.ByName("ghosts")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"users", "orders"}, c.Tables())
}
