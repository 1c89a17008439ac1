package runtime

import "fmt"

// FlowErrorType classifies error severity and retry behavior.
type FlowErrorType string

const (
	// ErrorTypeTransient signals the step can be retried in place.
	ErrorTypeTransient FlowErrorType = "transient"
	// ErrorTypePermanent signals the step failed and must not be retried.
	ErrorTypePermanent FlowErrorType = "permanent"
	// ErrorTypeTimeout signals the step was cancelled by its deadline.
	// Timeouts are treated as transient for retry purposes.
	ErrorTypeTimeout FlowErrorType = "timeout"
	// ErrorTypeStructural signals a flow-definition error (unknown executor
	// type, no matching edge). Never retried; ideally caught at validation.
	ErrorTypeStructural FlowErrorType = "structural"
)

// FlowErrorCode identifies known engine error codes.
type FlowErrorCode string

const (
	ErrorCodeRuntimeError          FlowErrorCode = "RUNTIME_ERROR"
	ErrorCodeDeadlineExceeded      FlowErrorCode = "DEADLINE_EXCEEDED"
	ErrorCodeContextCancelled      FlowErrorCode = "CONTEXT_CANCELLED"
	ErrorCodeUnknownExecutor       FlowErrorCode = "UNKNOWN_EXECUTOR"
	ErrorCodeNoMatchingEdge        FlowErrorCode = "NO_MATCHING_EDGE"
	ErrorCodeUnknownFlow           FlowErrorCode = "UNKNOWN_FLOW"
	ErrorCodeUnknownState          FlowErrorCode = "UNKNOWN_STATE"
	ErrorCodeRequiredVariableUnset FlowErrorCode = "REQUIRED_VARIABLE_UNSET"
	ErrorCodeConditionError        FlowErrorCode = "CONDITION_ERROR"
)

// FlowError is the canonical error type propagated through a flow run. It is
// JSON-serializable so it can be recorded verbatim on the step audit log.
type FlowError struct {
	Type    FlowErrorType `json:"type"`
	Code    FlowErrorCode `json:"code"`
	Message string        `json:"message"`
	State   string        `json:"state"`
	Cause   error         `json:"-"`
	Retries int           `json:"retries"`
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("[%s/%s] %s (state: %s, retries: %d)", e.Type, e.Code, e.Message, e.State, e.Retries)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Retriable reports whether the engine may retry the step in place.
func (e *FlowError) Retriable() bool {
	return e.Type == ErrorTypeTransient || e.Type == ErrorTypeTimeout
}

// NewTransientError wraps a recoverable failure (network timeout, 5xx).
func NewTransientError(state string, cause error) *FlowError {
	return &FlowError{
		Type:    ErrorTypeTransient,
		Code:    ErrorCodeRuntimeError,
		Message: cause.Error(),
		State:   state,
		Cause:   cause,
	}
}

// NewPermanentError wraps a failure that must not be retried.
func NewPermanentError(state string, cause error) *FlowError {
	return &FlowError{
		Type:    ErrorTypePermanent,
		Code:    ErrorCodeRuntimeError,
		Message: cause.Error(),
		State:   state,
		Cause:   cause,
	}
}

// NewStructuralError reports a defect in the flow definition itself.
func NewStructuralError(code FlowErrorCode, state, message string) *FlowError {
	return &FlowError{
		Type:    ErrorTypeStructural,
		Code:    code,
		Message: message,
		State:   state,
	}
}

// NewTimeoutError wraps a deadline expiry on a step invocation.
func NewTimeoutError(state string, cause error) *FlowError {
	return &FlowError{
		Type:    ErrorTypeTimeout,
		Code:    ErrorCodeDeadlineExceeded,
		Message: cause.Error(),
		State:   state,
		Cause:   cause,
	}
}

// ToMap converts the error to a map suitable for step audit snapshots.
func (e *FlowError) ToMap() map[string]any {
	return map[string]any{
		"type":    string(e.Type),
		"code":    string(e.Code),
		"message": e.Message,
		"state":   e.State,
		"retries": e.Retries,
	}
}
