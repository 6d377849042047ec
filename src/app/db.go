package app

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/bufferpool"
	"github.com/Blackdeer1524/HeapDB/src/config"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/pkg/utils"
	"github.com/Blackdeer1524/HeapDB/src/recovery"
	"github.com/Blackdeer1524/HeapDB/src/storage/catalog"
	"github.com/Blackdeer1524/HeapDB/src/storage/disk"
	"github.com/Blackdeer1524/HeapDB/src/storage/heap"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

// Database assembles the storage core: disk manager, lock table, tracker,
// buffer pool and catalog, wired per the config.
type Database struct {
	cfg config.Config
	log src.Logger

	disk      *disk.Manager
	catalog   *catalog.Catalog
	lockTable *txns.LockTable
	tracker   *txns.Tracker
	pool      *bufferpool.Manager

	txnLog *recovery.TxnLogger
	idGen  txns.IDGenerator
}

func Open(cfg config.Config, fs afero.Fs) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var log src.Logger
	if cfg.Environment == config.EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}

	diskManager := disk.NewManager(fs, cfg.PageSize)
	tracker := txns.NewTracker()
	lockTable := txns.NewLockTable(cfg.DeadlockTimeout, log)

	pool := bufferpool.New(cfg.PoolSize, lockTable, tracker, diskManager, log)
	cat := catalog.New()
	pool.SetRegistry(cat)
	if cfg.Steal {
		pool.EnableSteal()
	}

	db := &Database{
		cfg:       cfg,
		log:       log,
		disk:      diskManager,
		catalog:   cat,
		lockTable: lockTable,
		tracker:   tracker,
		pool:      pool,
	}

	return db, nil
}

// AttachLog hooks a file-backed transaction log into the pool. Until then
// the pool logs nothing, so with cfg.Steal set (enabled by Open) pages
// stolen before this call leave no log record.
func (d *Database) AttachLog(fs afero.Fs, path string) error {
	txnLog, err := recovery.NewTxnLogger(fs, path, d.log)
	if err != nil {
		return fmt.Errorf("failed to attach txn log: %w", err)
	}

	d.txnLog = txnLog
	d.pool.SetLogger(txnLog)

	return nil
}

// CreateTable registers a heap file at path holding fixed-size records and
// makes it reachable for record operations. Loading an existing file is
// the same call: the file id is derived from the path.
func (d *Database) CreateTable(name, path string, recordSize int) (*heap.File, error) {
	fileID, err := d.disk.Register(path)
	if err != nil {
		return nil, fmt.Errorf("failed to register table %q: %w", name, err)
	}

	file := heap.NewFile(fileID, d.cfg.PageSize, recordSize, d.pool, d.disk)
	d.catalog.Register(name, file)

	d.log.Infof("table %q registered: file %d at %q", name, fileID, path)

	return file, nil
}

func (d *Database) Begin() common.TxnID { return d.idGen.Next() }

func (d *Database) Commit(txnID common.TxnID) error {
	return d.pool.TxnComplete(txnID, true)
}

func (d *Database) Abort(txnID common.TxnID) error {
	return d.pool.TxnComplete(txnID, false)
}

func (d *Database) Pool() *bufferpool.Manager { return d.pool }

func (d *Database) Catalog() *catalog.Catalog { return d.catalog }

func (d *Database) Disk() *disk.Manager { return d.disk }

func (d *Database) Logger() src.Logger { return d.log }

// Close flushes whatever can be flushed and closes the txn log. Active
// transactions keep their pages pinned in memory; finish them first.
func (d *Database) Close() error {
	err := d.pool.FlushAllPages()

	if d.txnLog != nil {
		err = errors.Join(err, d.txnLog.Close())
	}

	_ = d.log.Sync()

	return err
}
