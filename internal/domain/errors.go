package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an operator could not produce output fields.
// Kinds are attached to operators as derived state; they are never returned
// as Go errors from a recompute pass.
type ErrorKind string

const (
	ErrMissingUpstream     ErrorKind = "MissingUpstream"
	ErrTooManyUpstream     ErrorKind = "TooManyUpstream"
	ErrMissingUpstreamData ErrorKind = "MissingUpstreamData"
	ErrConfigInvalid       ErrorKind = "ConfigInvalid"
	ErrNodeChange          ErrorKind = "NodeChange"
	ErrDuplicateSource     ErrorKind = "DuplicateSource"
	ErrPolicyRestricted    ErrorKind = "PolicyRestricted"
	ErrSourceNotFound      ErrorKind = "SourceNotFound"
)

// OperatorError is the error state of a single operator
type OperatorError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

func (e *OperatorError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// NewOperatorError builds an operator error with a formatted message.
func NewOperatorError(kind ErrorKind, format string, args ...any) *OperatorError {
	return &OperatorError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind, or "" for a nil error.
func KindOf(err *OperatorError) ErrorKind {
	if err == nil {
		return ""
	}
	return err.Kind
}

// FieldError reports a problem with a single output field. Field errors do not
// clear the operator's output but block saving the pipeline.
type FieldError struct {
	FieldID  string `json:"fieldId"`
	SourceID string `json:"sourceId"`
	Message  string `json:"message"`
}

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrOperatorNotFound = errors.New("operator not found")
	ErrUnknownKind      = errors.New("unknown operator kind")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound) || errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrOperatorNotFound)
}
