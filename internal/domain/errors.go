package domain

import "errors"

var (
	// ErrInvalidConfig marks configuration errors: a definition that cannot be
	// started as described.
	ErrInvalidConfig = errors.New("invalid service configuration")
	// ErrUnsupportedType is returned for kinds this build cannot run.
	ErrUnsupportedType = errors.New("service type not supported on this platform")

	ErrDuplicateName    = errors.New("service name already exists")
	ErrUnknownService   = errors.New("unknown service")
	ErrBlankServiceName = errors.New("service name must not be blank")

	ErrNotConnected = errors.New("not connected")
	ErrStopTimeout  = errors.New("service did not stop within grace period")
	ErrShuttingDown = errors.New("supervisor is shutting down")
)

// IsConfigError reports whether err was caused by the caller's input rather than
// by a transient failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrBlankServiceName)
}
