package recovery

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

type recordKind uint8

const (
	recordUpdate recordKind = iota + 1
	recordCommit
	recordAbort
)

// TxnLogger is the file-backed implementation of the pool's WAL hook. It
// appends length-prefixed records to a buffer and makes them durable on
// Flush; the pool flushes the log before page writes and at commit, which
// is all a future replayer needs. Replay itself is not implemented here.
type TxnLogger struct {
	mu   sync.Mutex
	file afero.File
	buf  []byte

	log src.Logger
}

var _ common.TxnLogger = &TxnLogger{}

func NewTxnLogger(fs afero.Fs, path string, log src.Logger) (*TxnLogger, error) {
	file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}

	return &TxnLogger{
		file: file,
		log:  log,
	}, nil
}

func (l *TxnLogger) appendHeader(kind recordKind, txnID common.TxnID) {
	l.buf = append(l.buf, byte(kind))
	l.buf = binary.BigEndian.AppendUint64(l.buf, uint64(txnID))
}

func (l *TxnLogger) appendBlob(blob []byte) {
	l.buf = binary.BigEndian.AppendUint32(l.buf, uint32(len(blob)))
	l.buf = append(l.buf, blob...)
}

func (l *TxnLogger) AppendUpdate(
	txnID common.TxnID,
	pageIdent common.PageIdentity,
	before, after []byte,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.appendHeader(recordUpdate, txnID)
	l.buf = binary.BigEndian.AppendUint64(l.buf, uint64(pageIdent.FileID))
	l.buf = binary.BigEndian.AppendUint64(l.buf, uint64(pageIdent.PageID))
	l.appendBlob(before)
	l.appendBlob(after)

	return nil
}

func (l *TxnLogger) AppendCommit(txnID common.TxnID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.appendHeader(recordCommit, txnID)
	return nil
}

func (l *TxnLogger) AppendAbort(txnID common.TxnID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.appendHeader(recordAbort, txnID)
	return nil
}

// Flush writes the buffered records out and syncs the file.
func (l *TxnLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buf) == 0 {
		return nil
	}

	if _, err := l.file.Write(l.buf); err != nil {
		return fmt.Errorf("failed to write log records: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	l.log.Debugf("flushed %d log bytes", len(l.buf))
	l.buf = l.buf[:0]

	return nil
}

func (l *TxnLogger) Close() error {
	if err := l.Flush(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
