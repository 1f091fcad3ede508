package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving the orchestrator matches exactly one of
// these through errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrService      = errors.New("language model service error")
	ErrPersistence  = errors.New("persistence error")
	ErrConflict     = errors.New("stage already in flight")
	ErrBackpressure = errors.New("stage queue full")
)

// Kind is the closed set of error classes.
type Kind int

// Error classes, in the order KindOf checks them.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindService
	KindPersistence
	KindConflict
	KindBackpressure
)

var kindSentinels = []struct { //nolint:gochecknoglobals // lookup table
	kind Kind
	err  error
}{
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindService, ErrService},
	{KindPersistence, ErrPersistence},
	{KindConflict, ErrConflict},
	{KindBackpressure, ErrBackpressure},
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindService:
		return "service"
	case KindPersistence:
		return "persistence"
	case KindConflict:
		return "conflict"
	case KindBackpressure:
		return "backpressure"
	default:
		return "unknown"
	}
}

// Error tags an underlying failure with a kind and the operation that saw it.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WrapKind tags err with kind. A nil err yields nil. An err that already
// carries a kind keeps it.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindUnknown
}
