// Package tokenauth implements the Token Service: it mints, caches,
// refreshes and invalidates per-account access credentials with
// calendar- and expiry-aware rules, guarded by a per-account mutex.
package tokenauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kis-trader/engine/internal/domain"
	"github.com/kis-trader/engine/internal/ratelimit"
)

// Service guarantees a valid access token for exactly one account. One
// Service instance exists per (session, account); it is never shared
// across accounts.
type Service struct {
	account  domain.Account
	cacheDir string
	loc      *time.Location
	limiter  *ratelimit.Limiter // optional; shared with the broker client for the same account
	http     *http.Client
	log      zerolog.Logger

	mu      sync.Mutex
	current *domain.Token
}

// Option customizes a Service at construction.
type Option func(*Service)

// WithLimiter shares a rate limiter with the broker client for the same
// account, so token issuance participates in the same admission window.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithHTTPClient overrides the transport (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.http = c }
}

// New creates a Service for account, caching tokens under cacheDir and
// treating "today" according to loc (Asia/Seoul for this engine).
func New(account domain.Account, cacheDir string, loc *time.Location, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		account:  account,
		cacheDir: cacheDir,
		loc:      loc,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log.With().Str("component", "token_service").Str("account", string(account.Type)).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenInfo is the read-only view returned by Info.
type TokenInfo struct {
	Account     domain.AccountType
	HasToken    bool
	IssuedAt    time.Time
	ExpiresAt   time.Time
	NearExpiry  bool
	ValidForUse bool
}

// GetValid returns a valid access token, minting or refreshing one if
// necessary, via a five-step check: purge stale disk cache, detect a
// configuration change, validate the in-memory token, fall back to the
// disk cache, then issue a fresh one.
func (s *Service) GetValid(ctx context.Context) (domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getValidLocked(ctx)
}

func (s *Service) getValidLocked(ctx context.Context) (domain.Token, error) {
	now := time.Now()
	today := now.In(s.loc)

	// Step 1: purge any cached-to-disk token dated other than today.
	purgeStaleFiles(s.cacheDir, s.account.Type, today)

	// Configuration-change check: discard the cache for this account if
	// key/secret/URL changed since the last issuance.
	changed, err := checkAndStoreConfigHash(s.cacheDir, s.account)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to check configuration hash, proceeding without invalidation")
	} else if changed {
		s.log.Info().Msg("configuration change detected, discarding cached token")
		s.current = nil
		removeToday(s.cacheDir, s.account.Type, today)
	}

	// Step 2: validate the in-memory token, if any.
	if s.current != nil && !s.stillUsable(*s.current, now) {
		s.current = nil
	}

	// Step 3: fall back to the per-day disk cache.
	if s.current == nil {
		cached, err := readToken(s.cacheDir, s.account.Type, today)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to read cached token")
		} else if cached != nil && s.stillUsable(*cached, now) {
			s.current = cached
		}
	}

	// Step 4: issue a new credential if still absent.
	if s.current == nil {
		tok, err := s.issue(ctx)
		if err != nil {
			return domain.Token{}, err
		}
		if err := writeToken(s.cacheDir, s.account.Type, tok); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist new token to disk")
		}
		s.current = &tok
	}

	return *s.current, nil
}

// stillUsable discards a token if its issuance date precedes today, or
// if now is at/after expiry or the near-expiry threshold.
func (s *Service) stillUsable(tok domain.Token, now time.Time) bool {
	if !sameDay(tok.IssuedAt.In(s.loc), now.In(s.loc)) {
		return false
	}
	if !now.Before(tok.ExpiresAt) {
		return false
	}
	if tok.NearExpiry(now) {
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ForceRefresh discards any cached token (memory and disk) and mints a
// fresh one, bypassing all validity checks.
func (s *Service) ForceRefresh(ctx context.Context) (domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := time.Now().In(s.loc)
	s.current = nil
	removeToday(s.cacheDir, s.account.Type, today)

	tok, err := s.issue(ctx)
	if err != nil {
		return domain.Token{}, err
	}
	if err := writeToken(s.cacheDir, s.account.Type, tok); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist refreshed token to disk")
	}
	s.current = &tok
	return tok, nil
}

// Info reports the current in-memory token's status without triggering
// any I/O.
func (s *Service) Info() TokenInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return TokenInfo{Account: s.account.Type}
	}
	now := time.Now()
	return TokenInfo{
		Account:     s.account.Type,
		HasToken:    true,
		IssuedAt:    s.current.IssuedAt,
		ExpiresAt:   s.current.ExpiresAt,
		NearExpiry:  s.current.NearExpiry(now),
		ValidForUse: s.current.ValidForUse(now, s.loc),
	}
}

type tokenRequestBody struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponseBody struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// issue mints a brand-new credential via POST {base}/oauth2/tokenP.
// Transport failures map to a transient TokenError; HTTP >= 400 or a
// missing access_token field map to a fatal one.
func (s *Service) issue(ctx context.Context) (domain.Token, error) {
	if s.limiter != nil {
		s.limiter.Acquire()
	}

	body, err := json.Marshal(tokenRequestBody{
		GrantType: "client_credentials",
		AppKey:    s.account.AppKey,
		AppSecret: s.account.AppSecret,
	})
	if err != nil {
		return domain.Token{}, &domain.TokenError{Account: s.account.Type, Reason: "marshal_request", Fatal: true, Cause: err}
	}

	url := s.account.RestBaseURL + "/oauth2/tokenP"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.Token{}, &domain.TokenError{Account: s.account.Type, Reason: "build_request", Fatal: true, Cause: err}
	}
	req.Header.Set("content-type", "application/json")

	s.log.Info().Msg("issuing new access token")
	resp, err := s.http.Do(req)
	if err != nil {
		return domain.Token{}, &domain.TokenError{Account: s.account.Type, Reason: "transport", Fatal: false, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Token{}, &domain.TokenError{Account: s.account.Type, Reason: "read_body", Fatal: false, Cause: err}
	}

	if resp.StatusCode >= 400 {
		return domain.Token{}, &domain.TokenError{
			Account: s.account.Type,
			Reason:  "fatal",
			Fatal:   true,
			Cause:   fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var out tokenResponseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Token{}, &domain.TokenError{Account: s.account.Type, Reason: "fatal", Fatal: true, Cause: fmt.Errorf("malformed response: %w", err)}
	}
	if out.AccessToken == "" {
		return domain.Token{}, &domain.TokenError{Account: s.account.Type, Reason: "fatal", Fatal: true, Cause: fmt.Errorf("response missing access_token")}
	}

	tokenType := out.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	expiresIn := out.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 86400
	}

	issuedAt := time.Now()
	return domain.Token{
		Account:   s.account.Type,
		Access:    out.AccessToken,
		TokenType: tokenType,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
