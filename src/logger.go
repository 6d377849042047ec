package src

// Logger is the logging surface every component takes. *zap.SugaredLogger
// satisfies it; tests pass zap.NewNop().Sugar().
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Error(args ...any)
	Sync() error
}
