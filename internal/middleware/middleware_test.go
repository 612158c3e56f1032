package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pascaldekloe/jwt"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/centpay/internal/config"
	"github.com/campuskit/centpay/internal/context"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/helper"
	"github.com/campuskit/centpay/internal/mocks"
)

func newTestMiddleware(t *testing.T) (*Middleware, *config.Config) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var cfg config.Config
	cfg.BaseURL = "http://localhost:4444"
	cfg.Jwt.SecretKey = "test-secret-key"
	cfg.Jwt.Issuer = "http://identity.example.org"

	var wg sync.WaitGroup
	help := helper.New(&cfg.BaseURL, &wg, nil)
	errH := errHandler.New("", &mocks.MockMailer{}, logger, help)

	return New(errH, logger, &cfg), &cfg
}

func signToken(t *testing.T, cfg *config.Config, issuer string) string {
	t.Helper()

	var claims jwt.Claims
	claims.Subject = "user-1"
	claims.Issuer = issuer
	claims.Audiences = []string{cfg.BaseURL}
	claims.Expires = jwt.NewNumericTime(time.Now().Add(time.Hour))
	claims.Set = map[string]any{"email": "user-1@example.org"}

	token, err := claims.HMACSign(jwt.HS256, []byte(cfg.Jwt.SecretKey))
	require.NoError(t, err)

	return string(token)
}

func TestAuthenticateAcceptsIdentityServiceToken(t *testing.T) {
	mid, cfg := newTestMiddleware(t)

	var got *context.AuthUser
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = context.ContextGetAuthenticatedUser(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/wallets/wal-1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, cfg, cfg.Jwt.Issuer))

	rec := httptest.NewRecorder()
	mid.Authenticate(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, "user-1", got.ID)
	require.Equal(t, "user-1@example.org", got.Email)
}

func TestAuthenticateRejectsWrongIssuer(t *testing.T) {
	mid, cfg := newTestMiddleware(t)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	// A token claiming the engine itself as issuer must not pass: only the
	// identity service mints credentials.
	req := httptest.NewRequest(http.MethodGet, "/v1/wallets/wal-1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, cfg, cfg.BaseURL))

	rec := httptest.NewRecorder()
	mid.Authenticate(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)
}
