package httpapi

import (
	"context"
	"errors"

	"github.com/tripleplay/mikrotik-collector/internal/devapi"
	"github.com/tripleplay/mikrotik-collector/internal/governor"
)

// MapError classifies err per the §7 error taxonomy and returns the HTTP
// status to write alongside the response body, mirroring
// transport.MapError's dispatch-by-type shape against devapi's and
// governor's error sets instead of net/tls errors.
func MapError(err error) (int, *ErrorResponse) {
	if err == nil {
		return 200, nil
	}

	var authErr *devapi.AuthError
	if errors.As(err, &authErr) {
		return 502, NewErrorResponse(ErrorTypeAuthError, "AUTH_ERROR", err.Error(), false, nil)
	}

	var devErr *devapi.DeviceError
	if errors.As(err, &devErr) {
		return 502, NewErrorResponse(ErrorTypeDeviceError, "DEVICE_ERROR", devErr.Message, false, map[string]interface{}{
			"router":  devErr.Router,
			"command": devErr.Command,
		})
	}

	var poolErr *devapi.PoolExhaustedError
	if errors.As(err, &poolErr) {
		return 503, NewErrorResponse(ErrorTypePoolExhausted, "POOL_EXHAUSTED", err.Error(), true, map[string]interface{}{
			"retry_after_seconds": 1,
		})
	}

	var timeoutErr *devapi.TimeoutError
	if errors.As(err, &timeoutErr) {
		return 504, NewErrorResponse(ErrorTypeTimeout, "TIMEOUT", err.Error(), true, nil)
	}

	if errors.Is(err, governor.ErrGlobalCapExceeded) {
		return 429, NewErrorResponse(ErrorTypeBusy, "GLOBAL_CAP_EXCEEDED", err.Error(), true, map[string]interface{}{
			"retry_after_seconds": 1,
		})
	}
	if errors.Is(err, governor.ErrRouterCapExceeded) {
		return 429, NewErrorResponse(ErrorTypeBusy, "ROUTER_CAP_EXCEEDED", err.Error(), true, map[string]interface{}{
			"retry_after_seconds": 1,
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return 504, NewErrorResponse(ErrorTypeTimeout, "TIMEOUT", "operation deadline exceeded", true, nil)
	}
	if errors.Is(err, context.Canceled) {
		return 504, NewErrorResponse(ErrorTypeTimeout, "CANCELLED", "operation cancelled", false, nil)
	}

	var collErr *devapi.CollectorError
	if errors.As(err, &collErr) {
		return 502, NewErrorResponse(ErrorTypeWireError, "WIRE_ERROR", err.Error(), false, nil)
	}

	return 500, NewErrorResponse(ErrorTypeInternal, "INTERNAL_ERROR", err.Error(), true, nil)
}
