package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrValidation             = errors.New("validation failed")
	ErrPersistence            = errors.New("persistence failure")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrInsufficientStock      = errors.New("insufficient stock")
)

// Error carries one of the sentinel kinds above together with the entity it
// concerns. errors.Is matches both the kind and the wrapped cause.
type Error struct {
	Kind    error
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func idString(id any) string {
	if id == nil {
		return ""
	}
	switch v := id.(type) {
	case int64:
		if v == 0 {
			return ""
		}
	case string:
		return v
	}
	return fmt.Sprint(id)
}

func NotFound(entity string, id any) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: idString(id)}
}

func InvalidTransition(entity string, id any, from, to string) error {
	return &Error{
		Kind:    ErrInvalidStateTransition,
		Entity:  entity,
		ID:      idString(id),
		Message: fmt.Sprintf("%s -> %s not allowed", from, to),
	}
}

func Validation(entity string, id any, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Entity: entity, ID: idString(id), Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a driver error. Errors that already carry a kind are
// returned unchanged so a NotFound raised inside a transaction stays NotFound.
func Persistence(entity string, id any, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: ErrPersistence, Entity: entity, ID: idString(id), Err: err}
}

func InsufficientStock(productID int64, available, requested int) error {
	return &Error{
		Kind:    ErrInsufficientStock,
		Entity:  "product",
		ID:      idString(productID),
		Message: fmt.Sprintf("available %d, change %d", available, requested),
	}
}

func GatewayUnavailable(provider string, err error) error {
	return &Error{Kind: ErrGatewayUnavailable, Entity: "gateway", ID: provider, Err: err}
}
