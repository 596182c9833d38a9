package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/kv"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	store := kv.NewSecureStore(
		filepath.Join(t.TempDir(), "secure.db"),
		kv.NewMemoryKeystore(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		kv.SecureOptions{},
	)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return s
}

func TestCredentials_NotLoggedIn(t *testing.T) {
	s := testSession(t)
	_, err := s.Credentials()
	assert.ErrorIs(t, err, apperrors.ErrNotLoggedIn)
}

func TestSaveLogin_RoundTrip(t *testing.T) {
	s := testSession(t)
	require.NoError(t, s.SaveLogin(Login{
		AccessToken:     "opaque-token",
		BaseURL:         "https://api.example.com",
		UserRole:        "inspector",
		LicenseUserRole: "field",
		UserID:          "u-1",
		Password:        "pw",
	}))

	got, err := s.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", got.AccessToken)
	assert.Equal(t, "https://api.example.com", got.BaseURL)
	assert.Equal(t, "inspector", got.UserRole)
	assert.Equal(t, "field", got.LicenseUserRole)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "pw", got.Password)
	assert.Equal(t, "u-1", s.UserID())
}

func TestAccessToken_Opaque(t *testing.T) {
	s := testSession(t)
	require.NoError(t, s.SaveLogin(Login{AccessToken: "opaque"}))

	tok, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok)
}

func TestAccessToken_ExpiredJWT(t *testing.T) {
	s := testSession(t)
	require.NoError(t, s.SaveLogin(Login{AccessToken: signedToken(t, time.Now().Add(-time.Minute))}))

	_, err := s.AccessToken(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestAccessToken_ValidJWT(t *testing.T) {
	s := testSession(t)
	token := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, s.SaveLogin(Login{AccessToken: token}))

	got, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestAccessToken_Missing(t *testing.T) {
	s := testSession(t)
	_, err := s.AccessToken(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotLoggedIn)
}

func TestBaseURL(t *testing.T) {
	s := testSession(t)
	_, err := s.BaseURL()
	assert.ErrorIs(t, err, apperrors.ErrMissingBaseURL)

	require.NoError(t, s.SaveLogin(Login{AccessToken: "t", BaseURL: "https://x"}))
	u, err := s.BaseURL()
	require.NoError(t, err)
	assert.Equal(t, "https://x", u)
}

func TestLogout(t *testing.T) {
	s := testSession(t)
	require.NoError(t, s.SaveLogin(Login{AccessToken: "t"}))
	require.NoError(t, s.Logout())

	_, err := s.Credentials()
	assert.ErrorIs(t, err, apperrors.ErrNotLoggedIn)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"opaque", "not-a-jwt", false},
		{"future", signedToken(t, now.Add(time.Hour)), false},
		{"past", signedToken(t, now.Add(-time.Hour)), true},
		{"inside leeway", signedToken(t, now.Add(10*time.Second)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenExpired(tt.token, now))
		})
	}
}
