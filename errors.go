package blecentral

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a peripheral, service or characteristic does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected is returned for operations on a peripheral outside the connected state.
	ErrNotConnected = errors.New("not connected")

	// ErrDisconnected resolves every queued, in-flight or streaming request
	// that was cut short because the link went away.
	ErrDisconnected = errors.New("peripheral disconnected")

	// ErrUnsupported marks an operation the platform or session cannot perform.
	ErrUnsupported = errors.New("unsupported")
)

// NativeError carries a failure reported by the radio stack.
type NativeError struct {
	Op     string
	Status int
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("%s failed, status=%d", e.Op, e.Status)
}

// NewNativeError returns a NativeError for op with the given GATT status.
func NewNativeError(op string, status int) error {
	return &NativeError{Op: op, Status: status}
}

// WarningError wraps a failure that did not prevent the caller's intent
// from being carried out.
type WarningError struct {
	Err error
}

func (e *WarningError) Error() string { return "warning: " + e.Err.Error() }
func (e *WarningError) Cause() error  { return e.Err }
func (e *WarningError) Unwrap() error { return e.Err }

// IsWarning reports whether err is warning level.
func IsWarning(err error) bool {
	var w *WarningError
	return errors.As(err, &w)
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsNotConnected(err error) bool { return errors.Is(err, ErrNotConnected) }
func IsDisconnected(err error) bool { return errors.Is(err, ErrDisconnected) }
func IsUnsupported(err error) bool  { return errors.Is(err, ErrUnsupported) }

// Status returns the native status code carried by err, if any.
func Status(err error) (int, bool) {
	var ne *NativeError
	if errors.As(err, &ne) {
		return ne.Status, true
	}
	return 0, false
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// NotConnectedf wraps ErrNotConnected with a formatted message.
func NotConnectedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotConnected, format, args...)
}

// Unsupportedf wraps ErrUnsupported with a formatted message.
func Unsupportedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrUnsupported, format, args...)
}

// Disconnectedf wraps ErrDisconnected with a formatted message.
func Disconnectedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDisconnected, format, args...)
}
