// Package errs classifies the error taxonomy used throughout the control
// plane so callers can decide, in one place, whether a failure is fatal,
// degrades a feature, or is simply logged and skipped.
package errs

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Class is one of the six error categories the control plane distinguishes.
type Class int

const (
	// ClassKernelFeatureMissing: the in-kernel program or a map/ring
	// buffer it should expose is unavailable. Fatal; the process exits.
	ClassKernelFeatureMissing Class = iota
	// ClassHardwareFeatureMissing: an optional hardware capability
	// (X3D, hybrid topology) is absent. The owning component degrades
	// to inert rather than failing the process.
	ClassHardwareFeatureMissing
	// ClassTransientIO: a /proc or /sys read raced a process exit or
	// similar. Logged at debug, the caller proceeds to the next item.
	ClassTransientIO
	// ClassMapWrite: a shared-map write failed (e.g. map full). Logged
	// at debug, the caller proceeds; the next tick retries.
	ClassMapWrite
	// ClassConfigParse: a config or profile file failed to parse.
	// Logged at warn, defaults are used in its place.
	ClassConfigParse
	// ClassPrivilege: an operation needs a capability or root the
	// process doesn't have. Logged at warn, only that feature disables.
	ClassPrivilege
)

type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap tags err with class, preserving it for errors.As/errors.Is.
func Wrap(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, err: err}
}

// ClassOf extracts the Class tagged onto err by Wrap, defaulting to
// ClassTransientIO for untagged errors since that is the safest "log and
// proceed" behavior.
func ClassOf(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	return ClassTransientIO
}

// ErrKernelFeatureMissing is returned by components that require a map or
// ring buffer the in-kernel program does not expose.
var ErrKernelFeatureMissing = errors.New("required in-kernel feature unavailable")

// WithStack attaches a stack trace at the point an unexpected condition was
// first observed, for the handful of call sites worth the extra context.
func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}
