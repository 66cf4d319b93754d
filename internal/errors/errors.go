package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so wrapped sentinels
// still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrStoreUnavailable = &AppError{Code: "STORE_001", Message: "persistent store unavailable"}
	ErrStoreCorrupted   = &AppError{Code: "STORE_002", Message: "persisted data could not be decoded"}

	ErrPermissionDenied = &AppError{Code: "NOTIFY_001", Message: "notification permissions not granted"}
	ErrInvalidTrigger   = &AppError{Code: "NOTIFY_002", Message: "invalid notification trigger"}
	ErrDeliveryFailed   = &AppError{Code: "NOTIFY_003", Message: "notification delivery failed"}
	ErrSchedulerStopped = &AppError{Code: "NOTIFY_004", Message: "notification scheduler stopped"}

	ErrMedicineNotFound = &AppError{Code: "MED_001", Message: "medicine not found"}
	ErrInvalidMedicine  = &AppError{Code: "MED_002", Message: "invalid medicine"}
	ErrTimeIndexRange   = &AppError{Code: "MED_003", Message: "time index out of range"}

	ErrInvalidDoseTime = &AppError{Code: "SCHED_001", Message: "invalid dose time"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapWith wraps err under a predefined sentinel, keeping its code and message.
func WrapWith(sentinel *AppError, err error) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Cause:   err,
	}
}
