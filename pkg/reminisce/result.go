package reminisce

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// ErrorKind classifies a failed operation so callers can decide whether to
// fall back to computing a fresh result.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindTransient  ErrorKind = "transient"
	KindInternal   ErrorKind = "internal"
)

// Error is the failure half of a Result.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Result is returned by every Service operation. Exactly one of Data and
// Error is meaningful, as indicated by Success.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   *Error `json:"error,omitempty"`
}

// Err returns the failure as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.Success || r.Error == nil {
		return nil
	}
	return r.Error
}

func ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func fail[T any](err error) Result[T] {
	return Result[T]{Error: classify(err)}
}

func classify(err error) *Error {
	var (
		verr     memory.ValidationError
		fieldErr validator.ValidationErrors
		notFound storage.NotFoundError
		noCtx    ContextNotFoundError
	)

	switch {
	case errors.As(err, &verr):
		return &Error{Kind: KindValidation, Message: verr.Error()}
	case errors.As(err, &fieldErr):
		return &Error{Kind: KindValidation, Message: describeFieldErrors(fieldErr)}
	case errors.Is(err, eventstream.ErrNilEvent), errors.Is(err, eventstream.ErrInvalidEvent):
		return &Error{Kind: KindValidation, Message: err.Error()}
	case errors.As(err, &notFound):
		return &Error{Kind: KindNotFound, Message: notFound.Error()}
	case errors.As(err, &noCtx):
		return &Error{Kind: KindNotFound, Message: noCtx.Error()}
	case storage.IsTransient(err):
		return &Error{Kind: KindTransient, Message: err.Error()}
	}

	return &Error{Kind: KindInternal, Message: err.Error()}
}

func describeFieldErrors(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
