package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures the engine recovers from.
type ErrorKind string

const (
	KindProbe    ErrorKind = "probe_failure"
	KindAction   ErrorKind = "action_execution_failure"
	KindDispatch ErrorKind = "alert_dispatch_failure"
	KindConfig   ErrorKind = "configuration_error"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ProbeError marks a failed dependency or endpoint probe.
func ProbeError(op, msg string, err error) error {
	return &AppError{Kind: KindProbe, Op: op, Msg: msg, Err: err}
}

// ActionError marks a remediation action that did not succeed.
func ActionError(op, msg string, err error) error {
	return &AppError{Kind: KindAction, Op: op, Msg: msg, Err: err}
}

// DispatchError marks an alert that could not be delivered.
func DispatchError(op, msg string, err error) error {
	return &AppError{Kind: KindDispatch, Op: op, Msg: msg, Err: err}
}

// ConfigError marks a malformed rule or alert condition.
func ConfigError(op, msg string, err error) error {
	return &AppError{Kind: KindConfig, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind carried by the first AppError in err's chain.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return KindOf(err) == KindConfig
}
