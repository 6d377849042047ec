package txns

import "errors"

// IsAborted reports whether err is a deadlock-timeout abort.
func IsAborted(err error) bool {
	return errors.Is(err, ErrTxnAborted)
}
