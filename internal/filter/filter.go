// Package filter composes pipeline stages that process an acquired visit
// order in place.
package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// ErrReject marks an expected decision to stop processing an order.
var ErrReject = errors.New("order rejected")

// Filter is one pipeline stage.
type Filter interface {
	// Name identifies the filter in logs, metrics and the index.
	Name() string
	// Describe returns human readable configuration lines.
	Describe() []string
	// Filter processes order in place. Returning an error matching ErrReject
	// stops the chain without signaling a failure.
	Filter(ctx context.Context, order *visit.Order) error
}

// Container is a Filter that wraps other filters.
type Container interface {
	Filter
	Children() []Filter
}

// RejectError records which filter rejected an order and why.
type RejectError struct {
	Filter string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejected order: %s", e.Filter, e.Reason)
}

// Is reports whether target is ErrReject.
func (e *RejectError) Is(target error) bool { return target == ErrReject }

// Reject builds a rejection for the named filter.
func Reject(filter, reason string) error {
	return &RejectError{Filter: filter, Reason: reason}
}

// Func adapts a plain function to the Filter interface.
type Func struct {
	name string
	desc []string
	fn   func(context.Context, *visit.Order) error
}

// NewFunc returns a Filter named name that calls fn.
func NewFunc(name string, fn func(context.Context, *visit.Order) error, describe ...string) *Func {
	return &Func{name: name, desc: describe, fn: fn}
}

// Name implements Filter.
func (f *Func) Name() string { return f.name }

// Describe implements Filter.
func (f *Func) Describe() []string { return f.desc }

// Filter implements Filter.
func (f *Func) Filter(ctx context.Context, order *visit.Order) error { return f.fn(ctx, order) }
