package shared

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")

	ErrConnection       = errors.New("connection error")
	ErrPermission       = errors.New("microphone permission denied")
	ErrDevice           = errors.New("audio device failure")
	ErrProtocol         = errors.New("protocol error")
	ErrEncoding         = errors.New("encoding error")
	ErrExhaustedRetries = errors.New("reconnect attempts exhausted")
	ErrNotConnected     = errors.New("not connected")
	ErrCaptureActive    = errors.New("recording already in progress")
)

type APIError struct {
	Code    string `json:"code" example:"invalid_request"`
	Message string `json:"message" example:"Invalid request body"`
	Details any    `json:"details,omitempty"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func Conflict(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusConflict)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}

func BadGateway(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadGateway)
}

// ToHTTP maps a domain error onto the API error envelope.
func ToHTTP(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound("not_found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrCaptureActive):
		return Conflict("invalid_state", err.Error())
	case errors.Is(err, ErrNotConnected):
		return Conflict("not_connected", err.Error())
	case errors.Is(err, ErrPermission):
		return NewAPIError("permission_denied", err.Error()).ToHTTP(http.StatusForbidden)
	case errors.Is(err, ErrConnection):
		return BadGateway("connection_failed", err.Error())
	case errors.Is(err, ErrEncoding):
		return BadRequest("encoding_failed", err.Error())
	case errors.Is(err, ErrDevice):
		return InternalError("device_failed", err.Error())
	default:
		return InternalError("internal_error", err.Error())
	}
}
