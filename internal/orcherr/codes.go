package orcherr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for orchestration operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors (4xx equivalent)
	ErrCodeInvalidArgument        ErrorCode = 1000
	ErrCodeDuplicateType          ErrorCode = 1001
	ErrCodeUnknownType            ErrorCode = 1002
	ErrCodeUnknownName            ErrorCode = 1003
	ErrCodeFlowNotFound           ErrorCode = 1004
	ErrCodeInvalidPhase           ErrorCode = 1005
	ErrCodeInvalidStateTransition ErrorCode = 1006
	ErrCodeValidation             ErrorCode = 1007
	ErrCodeStateTooLarge          ErrorCode = 1008

	// Quota and isolation errors
	ErrCodeQuotaExceeded    ErrorCode = 2000
	ErrCodeTenantIsolation  ErrorCode = 2001
	ErrCodePermissionDenied ErrorCode = 2002

	// Server errors (5xx equivalent)
	ErrCodeInternal    ErrorCode = 3000
	ErrCodeUnavailable ErrorCode = 3001
	ErrCodeHandler     ErrorCode = 3002
)

// Quota dimensions reported in QuotaExceeded errors.
const (
	DimConcurrentFlows = "concurrent_flows"
	DimDailyFlows      = "daily_flows"
	DimStorageMB       = "storage_mb"
)

// Error represents a structured orchestration error with code and context
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts the error to a gRPC status for the RPC surface
func (e *Error) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *Error) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidPhase, ErrCodeValidation, ErrCodeStateTooLarge:
		return codes.InvalidArgument
	case ErrCodeDuplicateType:
		return codes.AlreadyExists
	case ErrCodeUnknownType, ErrCodeUnknownName, ErrCodeFlowNotFound:
		return codes.NotFound
	case ErrCodeInvalidStateTransition:
		return codes.FailedPrecondition
	case ErrCodeQuotaExceeded:
		return codes.ResourceExhausted
	case ErrCodeTenantIsolation, ErrCodePermissionDenied:
		return codes.PermissionDenied
	case ErrCodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// New creates a new Error
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// CodeOf extracts the orchestration error code from an error chain.
// Returns ErrCodeInternal for errors that are not *Error.
func CodeOf(err error) ErrorCode {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == code
}

// Convenience constructors for common errors

func DuplicateType(name string) *Error {
	return New(ErrCodeDuplicateType, fmt.Sprintf("flow type already registered: %s", name), nil).
		WithDetail("flow_type", name)
}

func UnknownType(name string) *Error {
	return New(ErrCodeUnknownType, fmt.Sprintf("unknown flow type: %s", name), nil).
		WithDetail("flow_type", name)
}

func UnknownName(kind, name string) *Error {
	return New(ErrCodeUnknownName, fmt.Sprintf("unknown %s: %s", kind, name), nil).
		WithDetail("kind", kind).
		WithDetail("name", name)
}

func FlowNotFound(flowID string) *Error {
	return New(ErrCodeFlowNotFound, fmt.Sprintf("flow not found: %s", flowID), nil).
		WithDetail("flow_id", flowID)
}

func InvalidPhase(flowType, phase string) *Error {
	return New(ErrCodeInvalidPhase, fmt.Sprintf("phase %q is not part of flow type %q", phase, flowType), nil).
		WithDetail("flow_type", flowType).
		WithDetail("phase", phase)
}

func InvalidStateTransition(flowID string, from, to string) *Error {
	return New(ErrCodeInvalidStateTransition,
		fmt.Sprintf("flow %s cannot transition from %s to %s", flowID, from, to), nil).
		WithDetail("flow_id", flowID).
		WithDetail("from", from).
		WithDetail("to", to)
}

func InvalidArgument(message string, cause error) *Error {
	return New(ErrCodeInvalidArgument, message, cause)
}

func ValidationFailed(message string) *Error {
	return New(ErrCodeValidation, message, nil)
}

func StateTooLarge(size, maxSize int) *Error {
	return New(ErrCodeStateTooLarge, fmt.Sprintf("serialized state size %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func QuotaExceeded(tenantID, dimension string, current, limit float64) *Error {
	return New(ErrCodeQuotaExceeded,
		fmt.Sprintf("tenant %s quota exceeded on %s: %.2f of %.2f", tenantID, dimension, current, limit), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("dimension", dimension).
		WithDetail("current", current).
		WithDetail("limit", limit)
}

func TenantIsolation(message string) *Error {
	return New(ErrCodeTenantIsolation, message, nil)
}

func PermissionDenied(message string) *Error {
	return New(ErrCodePermissionDenied, message, nil)
}

func Internal(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *Error {
	return New(ErrCodeUnavailable, message, cause)
}
