package types

import "github.com/pkg/errors"

// Sentinel errors forming the error taxonomy of spec.md §7. Components wrap
// these with github.com/pkg/errors so callers can both errors.Is against
// the sentinel and read the contextual message.
var (
	// Validation
	ErrValidation      = errors.New("validation error")
	ErrNoDerivationPath = errors.New("no derivation path")

	// StateViolation
	ErrStateViolation = errors.New("state violation")
	ErrOutOfOrder     = errors.New("out of order")
	ErrIllegalState   = errors.New("illegal state")
	ErrSymbolLocked   = errors.New("symbol locked")

	// TransientExternal
	ErrTransientExternal = errors.New("transient external error")
	ErrCalendarUnavailable = errors.New("calendar unavailable")

	// PermanentExternal
	ErrPermanentExternal = errors.New("permanent external error")
	ErrNoData            = errors.New("no data")
	ErrUnknownSymbol     = errors.New("unknown symbol")

	// FatalInit
	ErrFatalInit = errors.New("fatal initialization error")

	// Cancellation
	ErrCancelled = errors.New("cancelled")
)

// Phase names a session lifecycle phase for error reporting (spec.md §7).
type Phase string

const (
	PhaseInitialization    Phase = "initialization"
	PhasePreSessionScan    Phase = "pre_session_scanning"
	PhaseStreaming         Phase = "streaming"
	PhaseQualityCheck      Phase = "quality_check"
	PhaseTeardown          Phase = "teardown"
)

// ErrorKind is the taxonomy tag attached to a reported failure.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindStateViolation   ErrorKind = "state_violation"
	KindTransientExternal ErrorKind = "transient_external"
	KindPermanentExternal ErrorKind = "permanent_external"
	KindFatalInit        ErrorKind = "fatal_init"
)

// ReportedError is the user-visible failure shape spec.md §7 requires:
// phase, symbol(s), and error kind, always attached to the underlying
// cause.
type ReportedError struct {
	Phase   Phase
	Symbols []string
	Kind    ErrorKind
	Cause   error
}

func (e *ReportedError) Error() string {
	return errors.Wrapf(e.Cause, "phase=%s symbols=%v kind=%s", e.Phase, e.Symbols, e.Kind).Error()
}

func (e *ReportedError) Unwrap() error {
	return e.Cause
}

func NewReportedError(phase Phase, kind ErrorKind, cause error, symbols ...string) *ReportedError {
	return &ReportedError{Phase: phase, Symbols: symbols, Kind: kind, Cause: cause}
}
