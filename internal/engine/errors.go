package engine

import (
	"context"
	"errors"
	"fmt"

	"studioflow/internal/catalog"
	"studioflow/internal/db"
	"studioflow/internal/engine/auth"
)

type Kind int

const (
	KindPrecondition Kind = iota + 1
	KindNotFound
	KindForbidden
	KindIntegrity
	KindTransient
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindIntegrity:
		return "integrity"
	case KindTransient:
		return "transient"
	case KindInvalid:
		return "invalid"
	}
	return "unknown"
}

// Error is a workflow failure with a stable machine-readable code. Two
// errors match under errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

var (
	ErrAtFinalPhase            = &Error{Kind: KindPrecondition, Code: "at_final_phase", Message: "project is at the final phase"}
	ErrNotCurrentPhase         = &Error{Kind: KindPrecondition, Code: "not_current_phase", Message: "phase is not the current phase"}
	ErrAlreadyInitialized      = &Error{Kind: KindPrecondition, Code: "already_initialized", Message: "phase tracking already initialized"}
	ErrActionNotInCurrentPhase = &Error{Kind: KindPrecondition, Code: "action_not_in_current_phase", Message: "action does not belong to the current phase"}
	ErrProjectCompleted        = &Error{Kind: KindPrecondition, Code: "project_completed", Message: "project is already completed"}
	ErrAlreadyInPhase          = &Error{Kind: KindPrecondition, Code: "already_in_phase", Message: "project is already in that phase"}
	ErrActionNotFound          = &Error{Kind: KindNotFound, Code: "action_not_found", Message: "action not found"}
	ErrProjectNotFound         = &Error{Kind: KindNotFound, Code: "project_not_found", Message: "project not found"}
	ErrNotInitialized          = &Error{Kind: KindNotFound, Code: "not_initialized", Message: "phase tracking not initialized"}
	ErrRuleNotFound            = &Error{Kind: KindNotFound, Code: "rule_not_found", Message: "automation rule not found"}
	ErrUnknownPhase            = &Error{Kind: KindInvalid, Code: "unknown_phase", Message: "unknown phase"}
	ErrInvalidInput            = &Error{Kind: KindInvalid, Code: "invalid_input", Message: "invalid input"}
	ErrForbidden               = &Error{Kind: KindForbidden, Code: "forbidden", Message: "forbidden"}
	ErrPhaseNotFound           = &Error{Kind: KindIntegrity, Code: "phase_not_found", Message: "phase missing from catalog"}
	ErrCatalogInvalid          = &Error{Kind: KindIntegrity, Code: "catalog_invalid", Message: "phase catalog is invalid"}
	ErrStoreUnavailable        = &Error{Kind: KindTransient, Code: "store_unavailable", Message: "store temporarily unavailable"}
)

// errorf returns a copy of base with a more specific message.
func errorf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

func wrap(base *Error, err error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: err}
}

// KindOf returns the kind of err, or zero when err is not a workflow error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// classify maps lower-level failures onto workflow errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var forbidden auth.ForbiddenError
	if errors.As(err, &forbidden) {
		return &Error{Kind: KindForbidden, Code: ErrForbidden.Code, Message: forbidden.Error(), Err: err}
	}
	if errors.Is(err, catalog.ErrInvalid) {
		return wrap(ErrCatalogInvalid, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if db.IsTransient(err) {
		return wrap(ErrStoreUnavailable, err)
	}
	return err
}
