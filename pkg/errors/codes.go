package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeFeatureDisabled    ErrorCode = "COMMON_015"
)

// Sentinel codes outside the table.
const (
	CodeOK      = ErrorCode("OK")
	CodeUnknown = ErrorCode("UNKNOWN")
)

// Dataset module codes.
const (
	ErrCodeDatasetNotFound ErrorCode = "DATASET_001"
	ErrCodeDatasetReadOnly ErrorCode = "DATASET_002"
	ErrCodeDatasetInvalid  ErrorCode = "DATASET_003"
	ErrCodeDatasetLocked   ErrorCode = "DATASET_004"
)

// Batch-edit module codes.
const (
	ErrCodeSessionNotFound     ErrorCode = "BATCHEDIT_001"
	ErrCodeEmptyInstruction    ErrorCode = "BATCHEDIT_002"
	ErrCodeApplyBlocked        ErrorCode = "BATCHEDIT_003"
	ErrCodeNothingToApply      ErrorCode = "BATCHEDIT_004"
	ErrCodeActionListMalformed ErrorCode = "BATCHEDIT_005"
	ErrCodeCorrectionNotFound  ErrorCode = "BATCHEDIT_006"
)

// Storage module codes.
const (
	ErrCodeObjectNotFound ErrorCode = "STORAGE_001"
	ErrCodeUploadFailed   ErrorCode = "STORAGE_002"
)

// Assistant module codes.
const (
	ErrCodeAssistantNotConfigured ErrorCode = "ASSISTANT_001"
	ErrCodeAssistantCallFailed    ErrorCode = "ASSISTANT_002"
	ErrCodeAssistantEmptyReply    ErrorCode = "ASSISTANT_003"
)

// ErrorCodeHTTPStatus maps codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusBadRequest,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeFeatureDisabled:    http.StatusForbidden,

	ErrCodeDatasetNotFound: http.StatusNotFound,
	ErrCodeDatasetReadOnly: http.StatusConflict,
	ErrCodeDatasetInvalid:  http.StatusUnprocessableEntity,
	ErrCodeDatasetLocked:   http.StatusLocked,

	ErrCodeSessionNotFound:     http.StatusNotFound,
	ErrCodeEmptyInstruction:    http.StatusBadRequest,
	ErrCodeApplyBlocked:        http.StatusConflict,
	ErrCodeNothingToApply:      http.StatusUnprocessableEntity,
	ErrCodeActionListMalformed: http.StatusBadRequest,
	ErrCodeCorrectionNotFound:  http.StatusNotFound,

	ErrCodeObjectNotFound: http.StatusNotFound,
	ErrCodeUploadFailed:   http.StatusInternalServerError,

	ErrCodeAssistantNotConfigured: http.StatusServiceUnavailable,
	ErrCodeAssistantCallFailed:    http.StatusBadGateway,
	ErrCodeAssistantEmptyReply:    http.StatusBadGateway,
}

// ErrorCodeMessage holds the default message for each code.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeFeatureDisabled:    "feature disabled",

	ErrCodeDatasetNotFound: "dataset not found",
	ErrCodeDatasetReadOnly: "dataset is a read-only snapshot",
	ErrCodeDatasetInvalid:  "dataset document is invalid",
	ErrCodeDatasetLocked:   "dataset is being modified",

	ErrCodeSessionNotFound:     "edit session not found",
	ErrCodeEmptyInstruction:    "instruction is empty",
	ErrCodeApplyBlocked:        "pending corrections must be resolved before apply",
	ErrCodeNothingToApply:      "nothing to apply",
	ErrCodeActionListMalformed: "action list could not be parsed",
	ErrCodeCorrectionNotFound:  "pending correction not found",

	ErrCodeObjectNotFound: "object not found",
	ErrCodeUploadFailed:   "upload failed",

	ErrCodeAssistantNotConfigured: "assistant endpoint not configured",
	ErrCodeAssistantCallFailed:    "assistant call failed",
	ErrCodeAssistantEmptyReply:    "assistant returned no content",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	return HTTPStatusForCode(code) >= 500
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
