package tokenauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kis-trader/engine/internal/domain"
)

func testAccount(baseURL string) domain.Account {
	return domain.Account{
		Type:          domain.Paper,
		AccountNumber: "98765432-01",
		ProductCode:   "01",
		AppKey:        "key",
		AppSecret:     "secret",
		RestBaseURL:   baseURL,
	}
}

func newIssuerServer(t *testing.T, expiresIn int64) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + time.Now().Format(time.RFC3339Nano),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
	return srv, &calls
}

func disabledLog() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func TestGetValid_ColdStart_MintsAndPersists(t *testing.T) {
	srv, calls := newIssuerServer(t, 86400)
	defer srv.Close()

	dir := t.TempDir()
	svc := New(testAccount(srv.URL), dir, time.UTC, disabledLog())

	tok, err := svc.GetValid(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Access)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	path := filepath.Join(dir, tokenFileName(domain.Paper, tok.IssuedAt))
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "token must be persisted to disk")

	// Second call within validity window must not hit the network again.
	tok2, err := svc.GetValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok.Access, tok2.Access)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestGetValid_MidnightRollover_DiscardsYesterdaysToken(t *testing.T) {
	srv, calls := newIssuerServer(t, 86400)
	defer srv.Close()

	dir := t.TempDir()
	acc := testAccount(srv.URL)

	yesterday := time.Now().AddDate(0, 0, -1)
	stale := domain.Token{
		Account:   domain.Paper,
		Access:    "stale-token",
		TokenType: "Bearer",
		IssuedAt:  yesterday,
		ExpiresAt: yesterday.Add(24 * time.Hour),
	}
	require.NoError(t, writeToken(dir, domain.Paper, stale))

	svc := New(acc, dir, time.UTC, disabledLog())
	tok, err := svc.GetValid(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, "stale-token", tok.Access)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	stalePath := filepath.Join(dir, tokenFileName(domain.Paper, yesterday))
	_, statErr := os.Stat(stalePath)
	assert.True(t, os.IsNotExist(statErr), "yesterday's cache file must be purged")
}

func TestGetValid_NearExpiry_TriggersReissue(t *testing.T) {
	srv, calls := newIssuerServer(t, 86400)
	defer srv.Close()

	dir := t.TempDir()
	acc := testAccount(srv.URL)
	svc := New(acc, dir, time.UTC, disabledLog())

	now := time.Now()
	svc.current = &domain.Token{
		Account:   domain.Paper,
		Access:    "about-to-expire",
		TokenType: "Bearer",
		IssuedAt:  now.Add(-23*time.Hour - 40*time.Minute),
		ExpiresAt: now.Add(20 * time.Minute), // within the 30-minute window
	}

	tok, err := svc.GetValid(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "about-to-expire", tok.Access)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestForceRefresh_ReturnsStrictlyLaterIssuedAt(t *testing.T) {
	srv, _ := newIssuerServer(t, 86400)
	defer srv.Close()

	dir := t.TempDir()
	svc := New(testAccount(srv.URL), dir, time.UTC, disabledLog())

	first, err := svc.GetValid(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := svc.ForceRefresh(context.Background())
	require.NoError(t, err)

	assert.True(t, second.IssuedAt.After(first.IssuedAt))
	assert.NotEqual(t, first.Access, second.Access)
}

func TestGetValid_ConfigChange_InvalidatesCache(t *testing.T) {
	srv, calls := newIssuerServer(t, 86400)
	defer srv.Close()

	dir := t.TempDir()
	acc := testAccount(srv.URL)

	svc := New(acc, dir, time.UTC, disabledLog())
	_, err := svc.GetValid(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	// Simulate a secret rotation: a new Service instance (e.g. after a
	// process restart) with a changed AppSecret must not reuse the
	// on-disk cache even though the file is "for today".
	rotated := acc
	rotated.AppSecret = "rotated-secret"
	svc2 := New(rotated, dir, time.UTC, disabledLog())
	_, err = svc2.GetValid(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls), "config change must force re-issuance")
}

func TestIssue_FatalOnMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	svc := New(testAccount(srv.URL), dir, time.UTC, disabledLog())

	_, err := svc.GetValid(context.Background())
	require.Error(t, err)
	var tokErr *domain.TokenError
	require.ErrorAs(t, err, &tokErr)
	assert.True(t, tokErr.Fatal)
}

func TestIssue_FatalOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"msg1":"invalid appkey"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	svc := New(testAccount(srv.URL), dir, time.UTC, disabledLog())

	_, err := svc.GetValid(context.Background())
	require.Error(t, err)
	var tokErr *domain.TokenError
	require.ErrorAs(t, err, &tokErr)
	assert.True(t, tokErr.Fatal)
}
