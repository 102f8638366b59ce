// Package joberrors defines the sentinel error kinds raised across the
// deployment engine, so callers can classify failures with errors.Is/As
// regardless of which subsystem produced them.
package joberrors

import "fmt"

// Kind identifies one of the canonical failure modes of the engine.
type Kind string

const (
	ConfigInvalid      Kind = "ConfigInvalid"
	ConnectFailed      Kind = "ConnectFailed"
	NotFound           Kind = "NotFound"
	NonEmpty           Kind = "NonEmpty"
	Permission         Kind = "Permission"
	InputMissing       Kind = "InputMissing"
	VarMissing         Kind = "VarMissing"
	FileMissing        Kind = "FileMissing"
	NameCollision      Kind = "NameCollision"
	BadWalltime        Kind = "BadWalltime"
	UnsupportedPattern Kind = "UnsupportedPattern"
	ExecFailed         Kind = "ExecFailed"
	ExecTimeout        Kind = "ExecTimeout"
	SecurityRejected   Kind = "SecurityRejected"
	RunsFailed         Kind = "RunsFailed"
)

// Error wraps a Kind with context and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, joberrors.New(joberrors.NotFound, "")) style checks work
// without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, carrying cause as Unwrap target.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// OfKind is a sentinel usable with errors.Is: errors.Is(err, joberrors.OfKind(NotFound)).
func OfKind(kind Kind) *Error {
	return &Error{Kind: kind}
}
