package errors

import "errors"

// Authentication errors. These are the only remote failures that surface
// as blocking prompts; everything else falls back to cached data.
var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrNotLoggedIn    = errors.New("no stored session")
	ErrMissingBaseURL = errors.New("no API base URL configured")
)

// Server/transport errors.
var (
	ErrTransport    = errors.New("network unavailable")
	ErrAPIRequest   = errors.New("API request failed")
	ErrAPIResponse  = errors.New("unexpected API response")
	ErrRemoteStatus = errors.New("API reported failure status")
)

// Storage errors.
var (
	ErrStoreNotInitialized = errors.New("store used before initialization")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrKeystore            = errors.New("keystore unavailable")
	ErrSecretNotFound      = errors.New("secret not found in keystore")
	ErrCacheWrite          = errors.New("cache write failed")
	ErrUnknownColumn       = errors.New("column is not queryable")
)

// List reconciliation errors.
var (
	ErrSuperseded = errors.New("page response superseded by a newer load")
)

// IsAuth reports whether err requires the user to sign in again.
func IsAuth(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrNotLoggedIn)
}
