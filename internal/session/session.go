// Package session reads and writes the signed-in user's credentials in
// the secure store. Values are fetched per call and never cached here.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/kv"
	"github.com/alexjbarnes/fieldsync/internal/result"
	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway treats tokens this close to expiry as already expired, so
// a request does not race the server's own clock.
const expiryLeeway = 30 * time.Second

// Store is the subset of kv.SecureStore the session needs.
type Store interface {
	Get(key kv.SecureKey) result.Result[string]
	Set(key kv.SecureKey, value string) result.Result[struct{}]
	Clear() result.Result[struct{}]
}

// Login is everything persisted after a successful sign-in.
type Login struct {
	AccessToken     string `yaml:"-"`
	BaseURL         string `yaml:"base_url"`
	UserRole        string `yaml:"user_role"`
	LicenseUserRole string `yaml:"license_user_role"`
	UserID          string `yaml:"user_id"`
	Password        string `yaml:"-"`
}

// Session exposes the stored credentials.
type Session struct {
	store Store
	now   func() time.Time
}

// New creates a Session over store.
func New(store Store) *Session {
	return &Session{store: store, now: time.Now}
}

// SaveLogin stores every field of l. Empty fields overwrite what was
// stored before. All fields are attempted; the errors are joined.
func (s *Session) SaveLogin(l Login) error {
	fields := []struct {
		key   kv.SecureKey
		value string
	}{
		{kv.AccessToken, l.AccessToken},
		{kv.BaseURL, l.BaseURL},
		{kv.UserRole, l.UserRole},
		{kv.LicenseUserRole, l.LicenseUserRole},
		{kv.LoggedInUserID, l.UserID},
		{kv.UserPassword, l.Password},
	}

	var errs []error

	for _, f := range fields {
		if err := s.store.Set(f.key, f.value).Err(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Credentials returns the stored login. It fails with ErrNotLoggedIn
// when no access token is stored.
func (s *Session) Credentials() (Login, error) {
	token, err := s.store.Get(kv.AccessToken).Unwrap()
	if err != nil {
		return Login{}, err
	}

	if token == "" {
		return Login{}, apperrors.ErrNotLoggedIn
	}

	return Login{
		AccessToken:     token,
		BaseURL:         s.store.Get(kv.BaseURL).OrElse(""),
		UserRole:        s.store.Get(kv.UserRole).OrElse(""),
		LicenseUserRole: s.store.Get(kv.LicenseUserRole).OrElse(""),
		UserID:          s.store.Get(kv.LoggedInUserID).OrElse(""),
		Password:        s.store.Get(kv.UserPassword).OrElse(""),
	}, nil
}

// AccessToken returns the stored token for an outgoing request. An
// expired JWT fails with ErrInvalidToken before any request is made.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token, err := s.store.Get(kv.AccessToken).Unwrap()
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}

	if token == "" {
		return "", apperrors.ErrNotLoggedIn
	}

	if TokenExpired(token, s.now()) {
		return "", apperrors.ErrInvalidToken
	}

	return token, nil
}

// BaseURL returns the API base URL stored at login.
func (s *Session) BaseURL() (string, error) {
	u := s.store.Get(kv.BaseURL).OrElse("")
	if u == "" {
		return "", apperrors.ErrMissingBaseURL
	}

	return u, nil
}

// UserID returns the signed-in user id, or empty.
func (s *Session) UserID() string {
	return s.store.Get(kv.LoggedInUserID).OrElse("")
}

// Logout removes every stored credential.
func (s *Session) Logout() error {
	return s.store.Clear().Err()
}

// TokenExpired reports whether token is a JWT whose exp claim has passed.
// The signature is not checked; the server does that. Opaque tokens and
// JWTs without exp never count as expired.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return !now.Add(expiryLeeway).Before(exp.Time)
}
