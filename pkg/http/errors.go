package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
)

var (
	ErrMethodNotAllowed     = errors.New("method not allowed by server (405)")
	ErrRangeNotSatisfiable  = errors.New("requested range not satisfiable (416)")
	ErrTimeout              = errors.New("operation timed out")
	ErrNetworkProblem       = errors.New("network-related error")
	ErrRequestCreation      = errors.New("failed to create request")
	ErrServerProblem        = errors.New("server error (5xx)")
	ErrTooManyRequests      = errors.New("too many requests (429)")
	ErrResourceNotFound     = errors.New("resource not found (404)")
	ErrAccessDenied         = errors.New("access denied (403)")
	ErrAuthentication       = errors.New("authentication required (401)")
	ErrGone                 = errors.New("resource gone (410)")
	ErrClientRequest        = errors.New("client error (4xx)")
	ErrUnexpectedStatusCode = errors.New("unexpected status code")

	ErrUnknown       = errors.New("unknown error")
	ErrUnexpectedEOF = errors.New("unexpected EOF")
)

// ClassifyHTTPError converts a non-2xx status code into a sentinel error.
// It returns nil for 2xx codes.
func ClassifyHTTPError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrResourceNotFound
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusGone:
		return ErrGone
	case http.StatusMethodNotAllowed:
		return ErrMethodNotAllowed
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	default:
		switch {
		case statusCode >= http.StatusInternalServerError:
			return ErrServerProblem
		case statusCode >= http.StatusBadRequest:
			return ErrClientRequest
		case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
			return nil
		default:
			return ErrUnexpectedStatusCode
		}
	}
}

// ClassifyError categorizes a transport error into a sentinel error.
// Context cancellation is passed through untouched.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return ErrTimeout
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}

		return ErrNetworkProblem
	}

	return ErrUnknown
}
