package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrPermissionDenied means the signed-in user may not touch the document.
	ErrPermissionDenied = errors.New("remote: permission denied")

	// ErrNotFound means the addressed document does not exist.
	ErrNotFound = errors.New("remote: not found")

	// ErrUnavailable means the store could not be reached. Writes failing
	// with it are queued and retried.
	ErrUnavailable = errors.New("remote: unavailable")
)

// Operation names carried by OpError.
const (
	OpSubscribe = "subscribe"
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpQuery     = "query"
)

// OpError records a failed remote operation and the path it addressed.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// WrapOp wraps err in an OpError unless it is nil.
func WrapOp(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Path: path, Err: err}
}

// IsTransient reports whether err is worth retrying later: the store was
// unreachable, the network failed or the call timed out.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsPermanent reports whether replaying the same write can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNotFound)
}
