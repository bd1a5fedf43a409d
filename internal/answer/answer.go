// Package answer defines the contract for obtaining an answer document for a
// question, the error taxonomy failures are reported in, and the services
// that implement it.
package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChamsBouzaiene/ada/internal/document"
)

// Service produces the answer document for a question. Calls may take tens
// of seconds and must honour ctx cancellation.
type Service interface {
	Ask(ctx context.Context, question string) (*document.Document, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, question string) (*document.Document, error)

// Ask implements Service.
func (f ServiceFunc) Ask(ctx context.Context, question string) (*document.Document, error) {
	return f(ctx, question)
}

// ErrorKind is the category of an answer failure.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindTransport   ErrorKind = "transport"
	KindMalformed   ErrorKind = "malformed_response"
	KindApplication ErrorKind = "application"
)

// Error is the failure type returned by every Service in this package.
type Error struct {
	Kind   ErrorKind
	Reason string
	Status int // HTTP status when the service answered with one
	Err    error
}

func (e *Error) Error() string {
	var prefix string
	switch e.Kind {
	case KindTransport:
		prefix = "could not reach the answer service"
	case KindMalformed:
		prefix = "the answer service returned an unreadable answer"
	case KindApplication:
		prefix = "the answer service could not answer"
	case KindValidation:
		prefix = "invalid question"
	default:
		prefix = "answer failed"
	}
	if e.Reason == "" {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport builds a KindTransport error.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Reason: reasonOf(err), Err: err}
}

// Malformed builds a KindMalformed error.
func Malformed(err error) *Error {
	return &Error{Kind: KindMalformed, Reason: reasonOf(err), Err: err}
}

// Application builds a KindApplication error.
func Application(status int, reason string) *Error {
	return &Error{Kind: KindApplication, Status: status, Reason: reason}
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// KindOf returns the category of err. Errors that did not come from this
// package are treated as transport failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}
	return KindTransport
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return err != nil && KindOf(err) == KindTransport
}

// IsMalformed reports whether err is a malformed response failure.
func IsMalformed(err error) bool {
	return err != nil && KindOf(err) == KindMalformed
}

// IsApplication reports whether err is an application failure.
func IsApplication(err error) bool {
	return err != nil && KindOf(err) == KindApplication
}
