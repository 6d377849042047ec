package common

type dummyLogger struct{}

var noLogs = dummyLogger{}

var _ TxnLogger = &noLogs

// NoLogs returns a TxnLogger that drops everything. The pool defaults to it
// so the core runs without a log file attached.
func NoLogs() TxnLogger {
	return &noLogs
}

func (l *dummyLogger) AppendUpdate(TxnID, PageIdentity, []byte, []byte) error { return nil }

func (l *dummyLogger) AppendCommit(TxnID) error { return nil }

func (l *dummyLogger) AppendAbort(TxnID) error { return nil }

func (l *dummyLogger) Flush() error { return nil }
