package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL"
)

// AppError is the error contract shared by services, handlers and middleware.
type AppError struct {
	Code    Code
	Op      string // ex: "ProfileService.Complete"
	Message string // safe to show to clients
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var msg string
	switch {
	case e.Message != "" && e.Err != nil:
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		msg = e.Message
	case e.Err != nil:
		msg = e.Err.Error()
	default:
		msg = "error"
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost AppError, or CodeInternal.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

var statusByCode = map[Code]int{
	CodeInvalidArgument: http.StatusBadRequest,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeNotFound:        http.StatusNotFound,
	CodeConflict:        http.StatusConflict,
	CodeRateLimited:     http.StatusTooManyRequests,
	CodeUnavailable:     http.StatusServiceUnavailable,
	CodeTimeout:         http.StatusGatewayTimeout,
}

func HTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		if s, ok := statusByCode[ae.Code]; ok {
			return s
		}
		return http.StatusInternalServerError
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// ErrNotFound is returned by repositories when the row/document does not exist.
var ErrNotFound = errors.New("not found")
