package sharedcamera

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w", ErrX) so CategoryOf can classify.
var (
	// ErrPermissionDenied means camera access is not granted; a request was started.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrInstallRequested means an install of the backend was requested; retry after it completes.
	ErrInstallRequested = errors.New("backend install requested")
	// ErrBackendUnavailable means the backend is missing, outdated or unsupported.
	ErrBackendUnavailable = errors.New("capture backend unavailable")
	// ErrResourceAccess means the device or session could not be opened or configured.
	ErrResourceAccess = errors.New("camera resource access failed")
	// ErrCameraNotAvailable means the tracking engine could not acquire the camera.
	ErrCameraNotAvailable = errors.New("camera not available")
	// ErrCaptureFailed marks a transient per-capture failure.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrFatalDevice means the device reported an unrecoverable error.
	ErrFatalDevice = errors.New("fatal device error")
	// ErrGateTimeout means a bounded wait for the reconfiguration gate expired.
	ErrGateTimeout = errors.New("reconfiguration gate wait timed out")
	// ErrCloseTimeout means a bounded wait for the device-released signal expired.
	ErrCloseTimeout = errors.New("device close wait timed out")
	// ErrNotStarted means the background looper is not running.
	ErrNotStarted = errors.New("controller not resumed")
)

// ErrorCategory classifies coordinator errors by their recovery policy.
type ErrorCategory int

const (
	// ErrCategoryPermission is recovered by requesting permission and retrying on the next lifecycle pass
	ErrCategoryPermission ErrorCategory = iota
	// ErrCategoryCapability is surfaced to the user and not retried
	ErrCategoryCapability
	// ErrCategoryResourceAccess is logged and rolls the state back to Idle
	ErrCategoryResourceAccess
	// ErrCategoryTransientCapture is logged only; the repeating stream continues
	ErrCategoryTransientCapture
	// ErrCategoryFatalDevice force-closes the device and terminates the host
	ErrCategoryFatalDevice
	// ErrCategoryUnknown is anything else
	ErrCategoryUnknown
)

// String returns a human-readable representation of the error category
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryPermission:
		return "permission"
	case ErrCategoryCapability:
		return "capability"
	case ErrCategoryResourceAccess:
		return "resource_access"
	case ErrCategoryTransientCapture:
		return "transient_capture"
	case ErrCategoryFatalDevice:
		return "fatal_device"
	default:
		return "unknown"
	}
}

// CategoryOf classifies err by the sentinel it wraps.
func CategoryOf(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrCategoryUnknown
	case errors.Is(err, ErrPermissionDenied):
		return ErrCategoryPermission
	case errors.Is(err, ErrInstallRequested), errors.Is(err, ErrBackendUnavailable):
		return ErrCategoryCapability
	case errors.Is(err, ErrFatalDevice):
		return ErrCategoryFatalDevice
	case errors.Is(err, ErrCaptureFailed):
		return ErrCategoryTransientCapture
	case errors.Is(err, ErrResourceAccess), errors.Is(err, ErrCameraNotAvailable):
		return ErrCategoryResourceAccess
	default:
		return ErrCategoryUnknown
	}
}

// Retryable reports whether a later lifecycle pass may succeed where err failed.
func Retryable(err error) bool {
	switch CategoryOf(err) {
	case ErrCategoryPermission, ErrCategoryResourceAccess, ErrCategoryTransientCapture:
		return true
	default:
		return errors.Is(err, ErrInstallRequested)
	}
}

func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("shared-camera: "+format+": %w", append(args, sentinel)...)
}
