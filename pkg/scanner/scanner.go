// Package scanner implements the ScannerManager (spec.md §4.9): lifecycle
// and scheduling of user-defined scanners that dynamically discover
// symbols and promote them into SessionData via its unified adhoc path.
package scanner

import (
	"time"

	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/timeutil"
	"github.com/marketsession/engine/pkg/types"
)

// State is a scanner instance's lifecycle state (spec.md §4.9):
// Initialized -> SetupPending -> SetupComplete -> (Scanning <-> ScanComplete)* -> TeardownComplete | Error.
type State int

const (
	Initialized State = iota
	SetupPending
	SetupComplete
	Scanning
	ScanComplete
	TeardownComplete
	Error
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case SetupPending:
		return "setup_pending"
	case SetupComplete:
		return "setup_complete"
	case Scanning:
		return "scanning"
	case ScanComplete:
		return "scan_complete"
	case TeardownComplete:
		return "teardown_complete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Context is handed to every scanner hook: references to SessionData,
// TimeManager, mode, current time, and the scanner's own config subtree.
type Context struct {
	SessionData *sessiondata.SessionData
	TimeManager *timeutil.TimeManager
	Mode        types.Mode
	Now         time.Time
	Config      map[string]interface{}
}

// ScanResult is what one scan() invocation produces: discovered symbols
// plus free-form metadata for the status document.
type ScanResult struct {
	Symbols  []string
	Metadata map[string]interface{}
}

// Scanner is the user-defined hook set. Criteria live inside the scanner
// implementation, not in config — config only selects which scanner runs
// and against which universe (spec.md §4.9).
type Scanner interface {
	Setup(ctx Context) (bool, error)
	Scan(ctx Context) (ScanResult, error)
	Teardown(ctx Context) error
}
