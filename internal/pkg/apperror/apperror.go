// Package apperror defines the error taxonomy shared by the billing
// orchestrator, the redirect store and the mapping job subsystem.
//
// Every core operation fails with exactly one Kind. Callers classify errors
// with KindOf instead of matching on messages.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindUnknown           Kind = "Unknown"
	KindNotFound          Kind = "NotFound"
	KindGateway           Kind = "GatewayError"
	KindStoreWrite        Kind = "StoreWriteError"
	KindStoreRead         Kind = "StoreReadError"
	KindValidation        Kind = "ValidationError"
	KindJobSubmission     Kind = "JobSubmissionError"
	KindSamePlan          Kind = "SamePlan"
	KindCreditCardMissing Kind = "CreditCardNotFound"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error without a cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, fmt.Sprintf(format, args...))
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

func StoreWrite(op string, err error) error {
	return Wrap(KindStoreWrite, op, err)
}

func StoreRead(op string, err error) error {
	return Wrap(KindStoreRead, op, err)
}

func JobSubmission(op string, err error) error {
	return Wrap(KindJobSubmission, op, err)
}

// GatewayError is a payment-gateway failure carrying the provider's code and
// message verbatim.
type GatewayError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway error: %s", e.Message)
	}
	return fmt.Sprintf("gateway error [%s]: %s", e.Code, e.Message)
}

// KindOf reports the taxonomy kind of err, walking the wrap chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var gwErr *GatewayError
	var appErr *Error
	// The outermost classification wins.
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.As(err, &gwErr) {
		return KindGateway
	}
	return KindUnknown
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the human-readable part of err for API responses.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Msg != "" {
			return appErr.Msg
		}
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
