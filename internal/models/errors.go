package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Call sites wrap these with fmt.Errorf("%w: ...")
// so callers classify with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrTransport         = errors.New("transport failure")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrNotFound          = errors.New("not found")

	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrValidation)
	ErrDeviceBusy      = fmt.Errorf("%w: capture already in progress", ErrDeviceUnavailable)
)

// ErrorCode maps an error onto the stable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "transport"
	}
}
