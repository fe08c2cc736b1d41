// Package storeerr is the error taxonomy shared by the preferences and
// relational store subsystems.
package storeerr

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// Code categorizes store errors.
type Code string

const (
	// CodeInvalidConfig indicates a malformed store config (bad name, bad
	// security level). Always raised before any file I/O.
	CodeInvalidConfig Code = "INVALID_CONFIG"

	// CodePathUnavailable indicates the backing directory is missing or not writable.
	CodePathUnavailable Code = "PATH_UNAVAILABLE"

	// CodeIO indicates a file system failure during flush, backup, restore or delete.
	CodeIO Code = "IO_ERROR"

	// CodeEngine wraps an error returned by the SQL engine.
	CodeEngine Code = "ENGINE_ERROR"

	// CodeStoreClosed indicates an operation on a closed or deleted handle.
	CodeStoreClosed Code = "STORE_CLOSED"

	// CodePredicateMismatch indicates a predicate built for another table.
	CodePredicateMismatch Code = "PREDICATE_MISMATCH"

	// CodeInvalidArgument indicates a bad operation argument (empty table,
	// oversized key, malformed predicate).
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeAlreadyConsumed indicates a future already bound to another consumer.
	CodeAlreadyConsumed Code = "ALREADY_CONSUMED"
)

// errBase is the start of the numeric error space exposed to callers that
// expect integer codes.
const errBase = 14800000

var numbers = map[Code]int{
	CodeEngine:            errBase + 0,
	CodeInvalidArgument:   errBase + 1,
	CodeStoreClosed:       errBase + 2,
	CodeInvalidConfig:     errBase + 3,
	CodePredicateMismatch: errBase + 4,
	CodeAlreadyConsumed:   errBase + 9,
	CodePathUnavailable:   errBase + 11,
	CodeIO:                errBase + 13,
}

// Error is the error type returned by every public store operation.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// EngineCode and EngineMessage carry the SQL engine's native error for
	// CodeEngine. EngineCode is the extended result code when available.
	EngineCode    int
	EngineMessage string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Code == CodeEngine && e.EngineMessage != "":
		return fmt.Sprintf("%s: %s (engine %d: %s)", e.Code, e.Message, e.EngineCode, e.EngineMessage)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Number returns the numeric code for e, e.g. 14800011 for PATH_UNAVAILABLE.
func (e *Error) Number() int {
	if n, ok := numbers[e.Code]; ok {
		return n
	}
	return errBase
}

// New creates an Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given code that wraps err. If err already
// is (or wraps) an *Error it is returned unchanged so the original
// classification survives.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Engine classifies an error returned from database/sql. Native errors of
// both drivers contribute their result code and message: mattn's
// sqlite3.Error its extended code, modernc's *sqlite.Error its Code().
func Engine(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	e := &Error{Code: CodeEngine, Message: fmt.Sprintf(format, args...), Err: err}
	var cgoErr sqlite3.Error
	var pureErr *sqlite.Error
	switch {
	case errors.As(err, &cgoErr):
		e.EngineCode = int(cgoErr.ExtendedCode)
		e.EngineMessage = cgoErr.Error()
	case errors.As(err, &pureErr):
		e.EngineCode = pureErr.Code()
		e.EngineMessage = pureErr.Error()
	default:
		e.EngineMessage = err.Error()
	}
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsInvalidConfig(err error) bool     { return Is(err, CodeInvalidConfig) }
func IsPathUnavailable(err error) bool   { return Is(err, CodePathUnavailable) }
func IsIO(err error) bool                { return Is(err, CodeIO) }
func IsEngine(err error) bool            { return Is(err, CodeEngine) }
func IsStoreClosed(err error) bool       { return Is(err, CodeStoreClosed) }
func IsPredicateMismatch(err error) bool { return Is(err, CodePredicateMismatch) }
func IsInvalidArgument(err error) bool   { return Is(err, CodeInvalidArgument) }

// ErrStoreClosed is returned for operations submitted to a closed handle.
var ErrStoreClosed = &Error{Code: CodeStoreClosed, Message: "store is closed"}
