package wfs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names a protocol failure.
type Kind string

const (
	KindMissingParameter         Kind = "MissingParameter"
	KindInvalidParameterValue    Kind = "InvalidParameterValue"
	KindLayerNotDefined          Kind = "LayerNotDefined"
	KindLayerNotRetrievable      Kind = "LayerNotRetrievable"
	KindLayerNotWritable         Kind = "LayerNotWritable"
	KindExclusiveParameters      Kind = "ExclusiveParameters"
	KindIncorrectSizeParameter   Kind = "IncorrectSizeParameter"
	KindOutputFormatNotSupported Kind = "OutputFormatNotSupported"
	KindOperationNotSupported    Kind = "OperationNotSupported"
	KindVersionNegotiation       Kind = "VersionNegotiationFailed"
	KindInvalidUpdateSequence    Kind = "InvalidUpdateSequence"
	KindNoApplicableCode         Kind = "NoApplicableCode"
)

// Error is a request failure reported to the client as an OWS exception.
type Error struct {
	Kind    Kind
	Locator string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Locator, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ExceptionCode is the OWS 1.1 exceptionCode for the kind.
func (e *Error) ExceptionCode() string {
	switch e.Kind {
	case KindMissingParameter:
		return "MissingParameterValue"
	case KindOperationNotSupported:
		return "OperationNotSupported"
	case KindVersionNegotiation:
		return "VersionNegotiationFailed"
	case KindInvalidUpdateSequence:
		return "InvalidUpdateSequence"
	case KindOutputFormatNotSupported:
		return "OptionNotSupported"
	case KindNoApplicableCode:
		return "NoApplicableCode"
	default:
		return "InvalidParameterValue"
	}
}

// Status is the HTTP status used when the error is rendered.
func (e *Error) Status() int {
	if e.Kind == KindNoApplicableCode {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func newError(kind Kind, locator, format string, args ...any) *Error {
	return &Error{Kind: kind, Locator: locator, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, locator string, err error) *Error {
	return &Error{Kind: kind, Locator: locator, Message: err.Error(), Err: err}
}

// Internal wraps a store or runtime failure.
func Internal(err error) *Error {
	return wrapError(KindNoApplicableCode, "", err)
}

// AsError returns err as a protocol error, classifying anything else as
// NoApplicableCode.
func AsError(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return Internal(err)
}

// IsKind reports whether err is a protocol error of kind k.
func IsKind(err error, k Kind) bool {
	var we *Error
	return errors.As(err, &we) && we.Kind == k
}
