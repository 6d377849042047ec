package recovery

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

func TestLogRecordsReachDiskOnFlush(t *testing.T) {
	fs := afero.NewMemMapFs()

	logger, err := NewTxnLogger(fs, "/wal.log", zap.NewNop().Sugar())
	require.NoError(t, err)

	pageIdent := common.PageIdentity{FileID: 1, PageID: 0}
	require.NoError(t, logger.AppendUpdate(1, pageIdent, []byte{0}, []byte{1}))
	require.NoError(t, logger.AppendCommit(1))

	// Nothing durable until Flush.
	content, err := afero.ReadFile(fs, "/wal.log")
	require.NoError(t, err)
	assert.Empty(t, content)

	require.NoError(t, logger.Flush())

	content, err = afero.ReadFile(fs, "/wal.log")
	require.NoError(t, err)
	assert.NotEmpty(t, content)

	// kind byte of the first record
	assert.EqualValues(t, recordUpdate, content[0])

	require.NoError(t, logger.Close())
}

func TestFlushIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()

	logger, err := NewTxnLogger(fs, "/wal.log", zap.NewNop().Sugar())
	require.NoError(t, err)

	require.NoError(t, logger.AppendAbort(3))
	require.NoError(t, logger.Flush())

	first, err := afero.ReadFile(fs, "/wal.log")
	require.NoError(t, err)

	require.NoError(t, logger.Flush())

	second, err := afero.ReadFile(fs, "/wal.log")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, logger.Close())
}
