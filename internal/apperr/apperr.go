package apperr

import "fmt"

type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not found"
	KindParse         Kind = "parse"
	KindAPI           Kind = "api"
)

// Error tags a failure with the phase-independent kind used to decide
// whether a run aborts or a single node is reported.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) error { return New(KindConfiguration, op, err) }
func NotFound(op string, err error) error      { return New(KindNotFound, op, err) }
func Parse(op string, err error) error         { return New(KindParse, op, err) }
func API(op string, err error) error           { return New(KindAPI, op, err) }

// Is reports whether err, or anything it wraps or joins, is an *Error of the
// given kind.
func Is(err error, kind Kind) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		return e.Kind == kind || Is(e.Err, kind)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if Is(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return Is(e.Unwrap(), kind)
	}
	return false
}
