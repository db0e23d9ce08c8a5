// Package errors provides the structured error taxonomy shared by the
// notification, broadcast and trigger layers, plus its BPMN mapping for
// Zeebe job failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Dispatch / broadcast taxonomy
const (
	ErrCodeMissingItem          ErrorCode = "MISSING_ITEM"
	ErrCodeGatewayUnconfigured  ErrorCode = "GATEWAY_UNCONFIGURED"
	ErrCodeRecipientSendFailure ErrorCode = "RECIPIENT_SEND_FAILURE"
	ErrCodeDeadConnection       ErrorCode = "DEAD_CONNECTION"
)

// Trigger boundary and collaborators
const (
	ErrCodeInvalidEventPayload ErrorCode = "INVALID_EVENT_PAYLOAD"
	ErrCodeInvalidStatus       ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidProgress     ErrorCode = "INVALID_PROGRESS"
	ErrCodeItemLookupFailed    ErrorCode = "ITEM_LOOKUP_FAILED"
	ErrCodeSerializationFailed ErrorCode = "SERIALIZATION_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any StandardError carrying the same code, so sentinel values
// such as ErrMissingItem work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns the error with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingItem         = &StandardError{Code: ErrCodeMissingItem}
	ErrGatewayUnconfigured = &StandardError{Code: ErrCodeGatewayUnconfigured}
	ErrDeadConnection      = &StandardError{Code: ErrCodeDeadConnection}
	ErrInvalidEventPayload = &StandardError{Code: ErrCodeInvalidEventPayload}
	ErrInvalidStatus       = &StandardError{Code: ErrCodeInvalidStatus}
	ErrInvalidProgress     = &StandardError{Code: ErrCodeInvalidProgress}
	ErrItemLookupFailed    = &StandardError{Code: ErrCodeItemLookupFailed}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewMissingItemError reports a dispatch whose owning item could not be supplied.
func NewMissingItemError(itemID string) *StandardError {
	return newError(ErrCodeMissingItem, "Owning item not available for dispatch", "item_id="+itemID, false, nil).
		WithMetadata("item_id", itemID)
}

// NewGatewayUnconfiguredError is used for logging only; dispatch never returns it.
func NewGatewayUnconfiguredError() *StandardError {
	return newError(ErrCodeGatewayUnconfigured, "Delivery gateway has no credentials", "", false, nil)
}

// NewRecipientSendFailureError wraps one recipient's gateway failure.
func NewRecipientSendFailureError(address string, err error) *StandardError {
	return newError(ErrCodeRecipientSendFailure, "Delivery to recipient failed", errString(err), false, err).
		WithMetadata("address", address)
}

// NewDeadConnectionError reports a push against a connection that is no longer open.
func NewDeadConnectionError(connID, state string) *StandardError {
	return newError(ErrCodeDeadConnection, "Subscriber connection is not open", "state="+state, false, nil).
		WithMetadata("connection_id", connID)
}

// NewInvalidEventPayloadError reports an inbound trigger that failed validation.
func NewInvalidEventPayloadError(details string) *StandardError {
	return newError(ErrCodeInvalidEventPayload, "Invalid event payload", details, false, nil)
}

// NewInvalidStatusError reports an unknown item lifecycle status.
func NewInvalidStatusError(status string) *StandardError {
	return newError(ErrCodeInvalidStatus, "Unknown item status", status, false, nil)
}

// NewInvalidProgressError reports a progress value outside 0..100.
func NewInvalidProgressError(progress int) *StandardError {
	return newError(ErrCodeInvalidProgress, "Progress must be between 0 and 100", fmt.Sprintf("progress=%d", progress), false, nil)
}

// NewItemLookupFailedError wraps a snapshot store failure.
func NewItemLookupFailedError(itemID string, err error) *StandardError {
	return newError(ErrCodeItemLookupFailed, "Item snapshot lookup failed", errString(err), true, err).
		WithMetadata("item_id", itemID)
}

// NewSerializationFailedError wraps an envelope encoding failure.
func NewSerializationFailedError(eventType string, err error) *StandardError {
	return newError(ErrCodeSerializationFailed, "Event serialization failed", errString(err), false, err).
		WithMetadata("event_type", eventType)
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errString(err), false, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. BPMN Mapping
// ==========================

// BPMNErrorMapping maps internal codes to the BPMN error codes modelled in the
// notification processes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeMissingItem:          "ITEM_NOT_FOUND",
	ErrCodeGatewayUnconfigured:  "GATEWAY_UNCONFIGURED",
	ErrCodeRecipientSendFailure: "RECIPIENT_SEND_FAILURE",
	ErrCodeDeadConnection:       "DEAD_CONNECTION",
	ErrCodeInvalidEventPayload:  "INVALID_EVENT_PAYLOAD",
	ErrCodeInvalidStatus:        "INVALID_STATUS",
	ErrCodeInvalidProgress:      "INVALID_PROGRESS",
	ErrCodeItemLookupFailed:     "ITEM_LOOKUP_FAILED",
	ErrCodeSerializationFailed:  "SERIALIZATION_FAILED",
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeItemLookupFailed:
		return 3
	case ErrCodeInternal:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if itemID, ok := stdErr.Metadata["item_id"]; ok {
		vars["itemId"] = itemID
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError extracts a StandardError from err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns err's code, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "ITEM"):
		return "ITEM"
	case strings.Contains(codeStr, "GATEWAY") || strings.Contains(codeStr, "RECIPIENT"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "CONNECTION"):
		return "REALTIME"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
