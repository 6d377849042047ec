package txns

import "fmt"

// LockMode is the page lock strength. Two modes only: page-granular
// shared/exclusive, upgrade expressed through the exclusive grant
// predicate.
type LockMode uint8

const (
	LockShared LockMode = iota
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockShared:
		return "SHARED"
	case LockExclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("LockMode(%d)", uint8(m))
	}
}

// Compatible reports whether two granted modes may coexist on a page for
// different transactions.
func (m LockMode) Compatible(other LockMode) bool {
	return m == LockShared && other == LockShared
}
