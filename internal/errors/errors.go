package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

// Kind separates failures the server reported from failures moving bytes.
type Kind string

const (
	KindServer     Kind = "SERVER"     // non-2xx response
	KindConnection Kind = "CONNECTION" // I/O failure during connect or transfer
)

// DownloadError is the error carried by a failed download response.
type DownloadError struct {
	Err        error
	Kind       Kind
	Retryable  bool
	Timestamp  time.Time
	Resource   string
	StatusCode int
}

func (e *DownloadError) Error() string {
	if e.Kind == KindServer {
		return fmt.Sprintf("[%s] %s (status: %d): %v", e.Kind, e.Resource, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Resource, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidURL    = New("invalid URL")
	ErrRedirectLimit = New("too many redirects")
	ErrNoLocation    = New("redirect without Location header")
)

// NewServerError creates an error for a non-2xx response.
func NewServerError(err error, resource string, statusCode int) *DownloadError {
	if err == nil {
		err = fmt.Errorf("unexpected status %d", statusCode)
	}

	retryable := statusCode == 429 || (statusCode >= 500 && statusCode != 501)

	return &DownloadError{
		Err:        err,
		Kind:       KindServer,
		Retryable:  retryable,
		Timestamp:  time.Now(),
		Resource:   resource,
		StatusCode: statusCode,
	}
}

// NewConnectionError creates an error for a failed connect, read or write.
// Progress of a resumable download survives these, so they are retryable.
func NewConnectionError(err error, resource string) *DownloadError {
	return &DownloadError{
		Err:       err,
		Kind:      KindConnection,
		Retryable: true,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

func IsServerError(err error) bool {
	var de *DownloadError
	return As(err, &de) && de.Kind == KindServer
}

func IsConnectionError(err error) bool {
	var de *DownloadError
	return As(err, &de) && de.Kind == KindConnection
}

// IsRetryable determines if resubmitting the download may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var de *DownloadError
	if As(err, &de) {
		return de.Retryable
	}

	return false
}

// GetStatusCode extracts the status code from an error if available.
func GetStatusCode(err error) (int, bool) {
	var de *DownloadError
	if As(err, &de) && de.StatusCode != 0 {
		return de.StatusCode, true
	}

	return 0, false
}
