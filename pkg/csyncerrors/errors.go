// Package csyncerrors implements the synchronizer's error taxonomy,
// distinguishing structural/fatal errors (which abort a cycle and leave
// the journal untouched) from per-file errors (which are recorded on a
// Record and allow the current phase to continue).
package csyncerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a taxonomized error kind.
type Code int

const (
	// None indicates no error.
	None Code = iota
	// Mem indicates a memory allocation failure.
	Mem
	// Param indicates an invalid parameter was supplied.
	Param
	// Lock indicates the lock file could not be acquired.
	Lock
	// ConfigLoad indicates the configuration file could not be loaded.
	ConfigLoad
	// ConfigFile indicates a malformed configuration file.
	ConfigFile
	// Module indicates a VIO backend could not be loaded or initialized.
	Module
	// TimeSkew indicates the replica clocks differ by more than the
	// configured threshold.
	TimeSkew
	// Filesystem indicates a filesystem-capability detection failure.
	Filesystem
	// Tree indicates an in-memory tree allocation or traversal failure.
	Tree
	// StatedbLoad indicates the journal could not be opened or read.
	StatedbLoad
	// StatedbWrite indicates the journal could not be committed.
	StatedbWrite
	// Update indicates a structural failure during the update phase.
	Update
	// Reconcile indicates a structural failure during the reconcile phase.
	Reconcile
	// Propagate indicates a structural failure during the propagate phase.
	Propagate
	// Auth indicates a remote authentication failure.
	Auth
	// ProxyAuth indicates a remote proxy authentication failure.
	ProxyAuth
	// Connect indicates a remote connection failure.
	Connect
	// Timeout indicates a remote operation timed out.
	Timeout
	// HTTP indicates a remote operation failed with a nested HTTP status.
	HTTP
	// Quota indicates a remote quota was exceeded.
	Quota
	// UserAbort indicates the cycle was cancelled via the abort flag.
	UserAbort
	// SourceFileChange indicates a source file changed mid-transfer.
	SourceFileChange
	// Unspec indicates an otherwise unclassified error.
	Unspec
)

// String renders the error code for logs and diagnostics.
func (c Code) String() string {
	switch c {
	case None:
		return "NONE"
	case Mem:
		return "MEM"
	case Param:
		return "PARAM"
	case Lock:
		return "LOCK"
	case ConfigLoad:
		return "CONFIG_LOAD"
	case ConfigFile:
		return "CONFIG_FILE"
	case Module:
		return "MODULE"
	case TimeSkew:
		return "TIMESKEW"
	case Filesystem:
		return "FILESYSTEM"
	case Tree:
		return "TREE"
	case StatedbLoad:
		return "STATEDB_LOAD"
	case StatedbWrite:
		return "STATEDB_WRITE"
	case Update:
		return "UPDATE"
	case Reconcile:
		return "RECONCILE"
	case Propagate:
		return "PROPAGATE"
	case Auth:
		return "AUTH"
	case ProxyAuth:
		return "PROXY_AUTH"
	case Connect:
		return "CONNECT"
	case Timeout:
		return "TIMEOUT"
	case HTTP:
		return "HTTP"
	case Quota:
		return "QUOTA"
	case UserAbort:
		return "USER_ABORT"
	case SourceFileChange:
		return "SOURCE_FILE_CHANGE"
	default:
		return "UNSPEC"
	}
}

// Error pairs a taxonomized Code with an underlying wrapped cause. Structural
// errors (anything other than per-file errors attached to a Record) should
// be constructed with New or Wrap and propagated to the caller so that the
// session can set its first-error-wins error state.
type Error struct {
	// Code is the taxonomized kind of failure.
	Code Code
	// HTTPStatus carries the nested HTTP status for Code == HTTP.
	HTTPStatus int
	// cause is the underlying error, if any.
	cause error
}

// New creates an Error of the given code with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, cause: errors.Errorf(format, args...)}
}

// Wrap creates an Error of the given code wrapping an existing error.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, cause: errors.Wrap(cause, message)}
}

// WithHTTPStatus attaches a nested HTTP status code to an Error of code
// HTTP.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == HTTP && e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (http %d): %v", e.Code, e.HTTPStatus, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.cause)
}

// Unwrap enables errors.Is/errors.As against the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, and
// Unspec otherwise.
func CodeOf(err error) Code {
	if err == nil {
		return None
	}
	var csErr *Error
	if errors.As(err, &csErr) {
		return csErr.Code
	}
	return Unspec
}

// IsUserAbort reports whether err represents a cooperative cancellation.
func IsUserAbort(err error) bool {
	return CodeOf(err) == UserAbort
}
