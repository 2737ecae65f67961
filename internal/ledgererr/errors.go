// Package ledgererr defines the typed error taxonomy shared by every
// ledger component, in the style of a single enumerated error-code type
// plus a wrapping struct rather than ad-hoc fmt.Errorf calls.
package ledgererr

import "fmt"

// Code identifies the category of a ledger failure.
type Code string

const (
	CodeCorruptBlock     Code = "CORRUPT_BLOCK"
	CodeChainBroken      Code = "CHAIN_BROKEN"
	CodeIndexGap         Code = "INDEX_GAP"
	CodeHashMismatch     Code = "HASH_MISMATCH"
	CodeBadGenesis       Code = "BAD_GENESIS"
	CodeSoulViolation    Code = "SOUL_VIOLATION"
	CodeChainLocked      Code = "CHAIN_LOCKED"
	CodeCancelled        Code = "CANCELLED"
	CodeIoError          Code = "IO_ERROR"
	CodeFsyncFailed      Code = "FSYNC_FAILED"
	CodeAuthFail         Code = "AUTH_FAIL"
	CodeBadPassword      Code = "BAD_PASSWORD"
	CodeKdfFailed        Code = "KDF_FAILED"
	CodeDecisionParse    Code = "DECISION_PARSE_ERROR"
	CodeInvalidChoice    Code = "INVALID_CHOICE"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
)

// Error is the single error type returned by ledger components. Msg
// carries detail; Suggestion is the actionable next step shown to a
// user ("run repair"); Debug is only surfaced when a caller opts into
// debug output.
type Error struct {
	Code       Code
	Msg        string
	Suggestion string
	Debug      string
	cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no suggestion or wrapped cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and an actionable suggestion to an underlying cause.
func Wrap(code Code, suggestion string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Msg: cause.Error(), Suggestion: suggestion, cause: cause}
}

// WithSuggestion returns a copy of err with Suggestion set, if err is a
// *Error; otherwise it wraps err under CodeIoError.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	if le, ok := err.(*Error); ok {
		cp := *le
		cp.Suggestion = suggestion
		return &cp
	}
	return &Error{Code: CodeIoError, Msg: err.Error(), Suggestion: suggestion, cause: err}
}

// CodeOf extracts the Code from err, returning "" if err is not (or does
// not wrap) a *Error.
func CodeOf(err error) Code {
	var le *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			le = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if le == nil {
		return ""
	}
	return le.Code
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }

// ExitCode maps an error to the process exit codes of spec.md §6.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case CodeChainBroken, CodeCorruptBlock, CodeIndexGap, CodeHashMismatch, CodeBadGenesis, CodeSoulViolation:
		return 2
	case CodeAuthFail, CodeBadPassword, CodeKdfFailed:
		return 3
	case CodeInvalidArgument, CodeInvalidChoice, CodeDecisionParse:
		return 4
	default:
		return 1
	}
}
