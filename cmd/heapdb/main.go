package main

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/HeapDB/src/app"
	"github.com/Blackdeer1524/HeapDB/src/config"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

var (
	benchWorkers int
	benchTxns    int
	benchRecords int
	benchDir     string

	infoRecordSize int
)

const benchRecordSize = 8

func main() {
	root := &cobra.Command{
		Use:   "heapdb",
		Short: "Transactional heap-file storage core",
	}

	bench := &cobra.Command{
		Use:   "bench",
		Short: "Run a concurrent record churn workload and report txn outcomes",
		RunE:  runBench,
	}
	bench.Flags().IntVar(&benchWorkers, "workers", 8, "concurrent transactions")
	bench.Flags().IntVar(&benchTxns, "txns", 1000, "transactions to run")
	bench.Flags().IntVar(&benchRecords, "records", 64, "records preloaded into the table")
	bench.Flags().StringVar(&benchDir, "dir", "", "directory for table files (default: in-memory)")

	info := &cobra.Command{
		Use:   "info <table-file>",
		Short: "Print page statistics of a heap file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
	info.Flags().IntVar(&infoRecordSize, "record-size", benchRecordSize, "record size of the table file")

	root.AddCommand(bench, info)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	cfg.Environment = config.EnvProd

	fs := afero.NewMemMapFs()
	dir := "/bench"
	if benchDir != "" {
		fs = afero.NewOsFs()
		dir = benchDir
	}
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	db, err := app.Open(cfg, fs)
	if err != nil {
		return err
	}
	defer db.Close()

	tablePath := filepath.Join(dir, fmt.Sprintf("bench-%s.tbl", uuid.NewString()))
	table, err := db.CreateTable("bench", tablePath, benchRecordSize)
	if err != nil {
		return err
	}

	loader := db.Begin()
	for i := 0; i < benchRecords; i++ {
		record := make([]byte, benchRecordSize)
		binary.BigEndian.PutUint64(record, uint64(i))
		if err := db.Pool().InsertRecord(loader, table.ID(), record); err != nil {
			return err
		}
	}
	if err := db.Commit(loader); err != nil {
		return err
	}

	pool, err := ants.NewPool(benchWorkers)
	if err != nil {
		return err
	}
	defer pool.Release()

	var commits, aborts atomic.Uint64

	start := time.Now()

	g := errgroup.Group{}
	for i := 0; i < benchTxns; i++ {
		seed := int64(i)
		g.Go(func() error {
			done := make(chan struct{})
			submitErr := pool.Submit(func() {
				defer close(done)

				rng := rand.New(rand.NewSource(seed))
				if runChurnTxn(db, table.ID(), rng) {
					commits.Add(1)
				} else {
					aborts.Add(1)
				}
			})
			if submitErr != nil {
				return submitErr
			}
			<-done
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)

	scanTxn := db.Begin()
	records, err := table.Scan(scanTxn)
	if err != nil {
		return err
	}
	if err := db.Commit(scanTxn); err != nil {
		return err
	}

	fmt.Printf("ran %d txns in %v (%d workers)\n", benchTxns, elapsed, benchWorkers)
	fmt.Printf("commits: %d, aborts: %d, live records: %d\n",
		commits.Load(), aborts.Load(), len(records))

	return nil
}

// runChurnTxn deletes a random record and inserts a replacement. Any lock
// timeout aborts the transaction; true means committed.
func runChurnTxn(db *app.Database, fileID common.FileID, rng *rand.Rand) bool {
	txnID := db.Begin()

	record := make([]byte, benchRecordSize)
	binary.BigEndian.PutUint64(record, rng.Uint64())

	pageNo := common.PageID(rng.Intn(4))
	rid := common.RecordID{
		PageIdentity: common.PageIdentity{FileID: fileID, PageID: pageNo},
		SlotNum:      uint16(rng.Intn(8)),
	}

	if err := db.Pool().DeleteRecord(txnID, rid); err != nil {
		// Lock timeouts abort; a missing record just means another txn
		// got there first, the insert below still proceeds.
		if txns.IsAborted(err) {
			_ = db.Abort(txnID)
			return false
		}
	}

	if err := db.Pool().InsertRecord(txnID, fileID, record); err != nil {
		_ = db.Abort(txnID)
		return false
	}

	if err := db.Commit(txnID); err != nil {
		return false
	}

	return true
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Environment = config.EnvProd

	db, err := app.Open(cfg, afero.NewOsFs())
	if err != nil {
		return err
	}
	defer db.Close()

	table, err := db.CreateTable("table", args[0], infoRecordSize)
	if err != nil {
		return err
	}

	numPages, err := table.NumPages()
	if err != nil {
		return err
	}

	scanTxn := db.Begin()
	records, err := table.Scan(scanTxn)
	if err != nil {
		return err
	}
	if err := db.Commit(scanTxn); err != nil {
		return err
	}

	fmt.Printf("%s: %d pages, %d live records, %d slots per page\n",
		args[0], numPages, len(records), table.SlotsPerPage())

	return nil
}
