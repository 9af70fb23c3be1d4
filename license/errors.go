package license

import "errors"

var (
	// ErrInvalidCredentials is deliberately generic: callers must not learn
	// which lookup step failed or which field was wrong.
	ErrInvalidCredentials = errors.New("license: invalid credentials")

	// ErrBanned is returned when the matched account or license is banned.
	ErrBanned = errors.New("license: account banned")

	// ErrLicenseNotFound is returned when no license matches the given key.
	ErrLicenseNotFound = errors.New("license: not found")

	// ErrResetQuotaExhausted is returned when no HWID resets remain.
	ErrResetQuotaExhausted = errors.New("license: hwid reset quota exhausted")

	// ErrDeviceLimitReached is returned when a bind would exceed max_devices.
	ErrDeviceLimitReached = errors.New("license: device limit reached")
)
