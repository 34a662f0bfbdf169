// Package rekord defines the shared error model used across every
// rekord subpackage, following the same shape as the teacher's
// cxdb.ServerError/IsServerError pair (clients/go/errors.go): a closed
// Kind enumeration wrapped in a typed error that carries the failing
// operation's name.
package rekord

import (
	"errors"
	"fmt"
)

// Kind is the closed error-kind enumeration from spec.md §7.
type Kind int

const (
	// KindConfig covers an invalid URL, missing password, or
	// contradictory settings. Surfaced at startup; fatal.
	KindConfig Kind = iota
	// KindAuth covers a wrong password on open, or a sealed box that
	// failed to unwrap its symmetric key on read. Fatal to the
	// enclosing operation.
	KindAuth
	// KindBackend covers I/O, network, or protocol errors from the
	// storage backend. Fatal to the enclosing put/get; does not
	// corrupt the repository.
	KindBackend
	// KindCorrupt covers an invalid envelope version/type, a truncated
	// object, a size mismatch in file reassembly, or a malformed
	// snapshot/directory entry. Fatal to the enclosing operation; one
	// corrupt object does not block listing others.
	KindCorrupt
	// KindUnsafePath covers a restoration path escape attempt. Fatal to
	// get.
	KindUnsafePath
)

var kindNames = map[Kind]string{
	KindConfig:     "Config",
	KindAuth:       "Auth",
	KindBackend:    "Backend",
	KindCorrupt:    "Corrupt",
	KindUnsafePath: "UnsafePath",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the typed error every rekord subpackage returns for
// operation failures. Op names the failing operation (e.g. "repository.Open",
// "snapshot.Put") so log lines and CLI output can report where a failure
// happened without string-matching Err.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error for op/kind wrapping cause.
func NewError(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind,
// mirroring the teacher's IsServerError helper.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
