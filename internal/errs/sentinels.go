// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/session/service layers.
var (
	// ErrNotFound indicates the requested slot or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidInput indicates a malformed request field such as a non-E.164 phone number.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials indicates a credentials record that must not be persisted
	// (missing access token or expiry).
	ErrInvalidCredentials = errors.New("invalid credentials record")

	// ErrUnsupportedMethod indicates a login method outside of phone/apple/google.
	ErrUnsupportedMethod = errors.New("unsupported authentication method")

	// ErrBiometricUnavailable indicates missing hardware or no enrolled credential.
	ErrBiometricUnavailable = errors.New("biometric authentication is not available on this device")

	// ErrBiometricRejected indicates the user did not pass the biometric challenge.
	ErrBiometricRejected = errors.New("biometric authentication failed")

	// ErrTokenExpired indicates the stored access token is past its expiry.
	ErrTokenExpired = errors.New("access token expired")

	// ErrMalformedToken indicates an access token that is not a three-segment JWT.
	ErrMalformedToken = errors.New("invalid or missing access token")

	// ErrCorrupted indicates a sealed slot that failed integrity verification.
	ErrCorrupted = errors.New("stored data corrupted")
)
