package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// Common errors
var (
	ErrNotFound   = &AppError{Code: http.StatusNotFound, Message: "Resource not found"}
	ErrBadRequest = &AppError{Code: http.StatusBadRequest, Message: "Bad request"}
)

// GetStatusCode returns the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	var alarmErr *AlarmError
	if stderrors.As(err, &alarmErr) {
		switch alarmErr.Kind {
		case KindInvalidRuleConfiguration:
			return http.StatusUnprocessableEntity
		case KindIngestionUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// Kind classifies failures raised by the alerting core.
type Kind string

const (
	KindIngestionUnavailable     Kind = "ingestion_unavailable"
	KindInvalidRuleConfiguration Kind = "invalid_rule_configuration"
	KindChannelDispatchFailure   Kind = "channel_dispatch_failure"
	KindClockSkew                Kind = "clock_skew"
)

// AlarmError carries a Kind plus the rule or channel it concerns.
type AlarmError struct {
	Kind    Kind
	RuleID  string
	Channel string
	Message string
	Err     error
}

func (e *AlarmError) Error() string {
	msg := string(e.Kind)
	if e.RuleID != "" {
		msg += fmt.Sprintf(" rule=%s", e.RuleID)
	}
	if e.Channel != "" {
		msg += fmt.Sprintf(" channel=%s", e.Channel)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AlarmError) Unwrap() error {
	return e.Err
}

// Is matches any AlarmError of the same Kind, so callers can test against
// the sentinels below with errors.Is.
func (e *AlarmError) Is(target error) bool {
	t, ok := target.(*AlarmError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrIngestionUnavailable     = &AlarmError{Kind: KindIngestionUnavailable}
	ErrInvalidRuleConfiguration = &AlarmError{Kind: KindInvalidRuleConfiguration}
	ErrChannelDispatchFailure   = &AlarmError{Kind: KindChannelDispatchFailure}
	ErrClockSkew                = &AlarmError{Kind: KindClockSkew}
)

// IngestionUnavailable wraps err as an IngestionUnavailable failure for ruleID.
func IngestionUnavailable(ruleID string, err error) *AlarmError {
	return &AlarmError{Kind: KindIngestionUnavailable, RuleID: ruleID, Err: err}
}

// InvalidRule reports a rule that fails its invariants.
func InvalidRule(ruleID, format string, args ...interface{}) *AlarmError {
	return &AlarmError{Kind: KindInvalidRuleConfiguration, RuleID: ruleID, Message: fmt.Sprintf(format, args...)}
}

// DispatchFailure reports a notification that could not be handed to channel.
func DispatchFailure(ruleID, channel string, err error) *AlarmError {
	return &AlarmError{Kind: KindChannelDispatchFailure, RuleID: ruleID, Channel: channel, Err: err}
}

// ClockSkew reports a tick that fired outside its expected window.
func ClockSkew(ruleID, format string, args ...interface{}) *AlarmError {
	return &AlarmError{Kind: KindClockSkew, RuleID: ruleID, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" when err is not an AlarmError.
func KindOf(err error) Kind {
	var alarmErr *AlarmError
	if stderrors.As(err, &alarmErr) {
		return alarmErr.Kind
	}
	return ""
}
