// Package backend defines the boundary between the dispatch pipeline and
// the shared cloud services behind it, plus the AWS implementation.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// Params carries tool-call arguments into a backend operation.
type Params map[string]any

// String fetches a required string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", &InvalidParamsError{Param: key, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &InvalidParamsError{Param: key, Reason: "not a string"}
	}
	return s, nil
}

// OptString fetches an optional string parameter.
func (p Params) OptString(key string) string {
	s, _ := p[key].(string)
	return s
}

// OptFloat fetches an optional numeric parameter.
func (p Params) OptFloat(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Invoker is the backend operation boundary consumed by the dispatcher.
// Implementations must honor the context deadline; the dispatcher treats
// a deadline expiry as a transient failure.
type Invoker interface {
	Invoke(ctx context.Context, tc *tenant.Context, service domain.Service, action domain.Action, params Params) (any, error)
}

// ErrorClass separates failures the retry policy may act on from those
// it must not.
type ErrorClass int

const (
	// ClassTransient errors (timeouts, upstream throttling, 5xx) are
	// expected to succeed if retried.
	ClassTransient ErrorClass = iota
	// ClassPermanent errors (validation, not-found, conflict) will not
	// succeed no matter how many retries.
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// Error wraps a backend failure with its retry classification.
type Error struct {
	Class   ErrorClass
	Service domain.Service
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Service, e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable backend error.
func Transient(service domain.Service, op string, err error) *Error {
	return &Error{Class: ClassTransient, Service: service, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable backend error.
func Permanent(service domain.Service, op string, err error) *Error {
	return &Error{Class: ClassPermanent, Service: service, Op: op, Err: err}
}

// IsTransient reports whether err is a backend error eligible for retry.
// Context deadline expiry counts as transient: the upstream may have done
// the work, but the attempt itself can be repeated.
func IsTransient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Class == ClassTransient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// InvalidParamsError reports malformed tool-call arguments. Always
// permanent.
type InvalidParamsError struct {
	Param  string
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// UnknownOperationError reports a (service, action) pair the backend has
// no operation for.
type UnknownOperationError struct {
	Service domain.Service
	Action  domain.Action
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("no backend operation for %s:%s", e.Service, e.Action)
}
