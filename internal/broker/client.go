// Package broker implements the API Client: rate-limited, retry-safe
// HTTPS access to the broker, header construction, hashkey signing,
// broker error-code classification, and the typed operation surface the
// Trading Cycle Engine and Candidate Provider call through.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kis-trader/engine/internal/domain"
	"github.com/kis-trader/engine/internal/ratelimit"
	"github.com/kis-trader/engine/internal/tokenauth"
)

const transportTimeout = 10 * time.Second

// Client performs every outbound call for one account. One Client exists
// per (session, account) and shares its Limiter with that account's
// tokenauth.Service.
type Client struct {
	account domain.Account
	tokens  *tokenauth.Service
	limiter *ratelimit.Limiter
	http    *http.Client
	log     zerolog.Logger

	// simulate, when set, downgrades order placement to a synthetic
	// acknowledgment: no request is sent and OrderResult.Simulated is
	// true. This is a diagnostic feature switch for dry-run operation.
	simulate bool
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithHTTPClient overrides the transport (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithSimulatedOrders enables the diagnostic non-executing mode: order
// placement never reaches the broker and always returns an accepted,
// synthetic result.
func WithSimulatedOrders(enabled bool) Option {
	return func(cl *Client) { cl.simulate = enabled }
}

// New creates a Client for account, authenticating via tokens and
// admission-gated by limiter.
func New(account domain.Account, tokens *tokenauth.Service, limiter *ratelimit.Limiter, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		account: account,
		tokens:  tokens,
		limiter: limiter,
		http:    &http.Client{Timeout: transportTimeout},
		log:     log.With().Str("component", "broker_client").Str("account", string(account.Type)).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the small set of fields every broker JSON response carries,
// used purely for classification; the full body is preserved separately
// for typed decoding and for OrderResult.Raw.
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// known rate-limit phrases the broker embeds in msg1 on a 200 response
// that is in fact a throttling signal.
var rateLimitPhrases = []string{
	"초당 거래건수",
	"거래건수 초과",
	"rate limit",
	"too many requests",
}

func containsRateLimitPhrase(msg1 string) bool {
	lower := strings.ToLower(msg1)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// buildHeaders assembles the mandatory header set for op, acquiring a
// fresh bearer token from the Token Service.
func (c *Client) buildHeaders(ctx context.Context, acct domain.Account, tokens *tokenauth.Service, op operation, hashkey string) (http.Header, error) {
	tok, err := tokens.GetValid(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token for %s: %w", op, err)
	}

	h := http.Header{}
	h.Set("content-type", "application/json; charset=utf-8")
	h.Set("authorization", tok.TokenType+" "+tok.Access)
	h.Set("appkey", acct.AppKey)
	h.Set("appsecret", acct.AppSecret)
	h.Set("tr_id", trID(op, acct.Type))
	h.Set("custtype", "P")
	if hashkey != "" {
		h.Set("hashkey", hashkey)
	}
	return h, nil
}

// hashkey generates the order-signing hash for body via POST
// /uapi/hashkey. Failure is non-fatal: the caller degrades to submitting
// without it.
func (c *Client) hashkey(ctx context.Context, acct domain.Account, tokens *tokenauth.Service, body []byte) (string, error) {
	tok, err := tokens.GetValid(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, acct.RestBaseURL+"/uapi/hashkey", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	req.Header.Set("authorization", tok.TokenType+" "+tok.Access)
	req.Header.Set("appkey", acct.AppKey)
	req.Header.Set("appsecret", acct.AppSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hashkey HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var out struct {
		HASH string `json:"HASH"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.HASH == "" {
		return "", fmt.Errorf("hashkey response missing HASH field")
	}
	return out.HASH, nil
}

// request describes one logical broker call, independent of retry state.
type request struct {
	op          operation
	method      string
	path        string
	query       url.Values
	body        any  // nil for GET
	useHashkey  bool // order placement only
	isOrder     bool // selects the order-placement retry/backoff profile
	account     domain.Account
	tokens      *tokenauth.Service
	limiter     *ratelimit.Limiter
}

const (
	readMaxAttempts  = 5
	orderMaxAttempts = 3
)

// do executes req with the broker's classification and retry policy,
// returning the decoded JSON body as a generic map (callers type it
// further, and order placement stores it as OrderResult.Raw).
func (c *Client) do(ctx context.Context, req request) (map[string]any, error) {
	maxAttempts := readMaxAttempts
	if req.isOrder {
		maxAttempts = orderMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if req.limiter != nil {
			req.limiter.Acquire()
		}

		body, statusCode, transportErr := c.send(ctx, req)
		if transportErr != nil {
			lastErr = transportErr
			if attempt == maxAttempts-1 {
				return nil, &domain.NetworkError{Cause: transportErr}
			}
			var wait time.Duration
			if req.isOrder {
				wait = time.Duration(10*(attempt+1)) * time.Second
			} else {
				wait = time.Duration(3*(attempt+1)) * time.Second
			}
			c.log.Warn().Err(transportErr).Int("attempt", attempt+1).Msg("transport failure, retrying")
			backoffSleep(ctx, wait)
			continue
		}

		var env envelope
		decoded := map[string]any{}
		_ = json.Unmarshal(body, &env)
		_ = json.Unmarshal(body, &decoded)

		if req.limiter != nil {
			req.limiter.RecordStatus(statusCode)
		}

		switch {
		case statusCode == http.StatusOK && (env.RtCd == "0" || env.RtCd == "1") && !containsRateLimitPhrase(env.Msg1):
			return decoded, nil

		case statusCode == http.StatusOK && containsRateLimitPhrase(env.Msg1):
			lastErr = fmt.Errorf("rate-limited: %s", env.Msg1)
			wait := backoffCapped(attempt, 10*time.Second)
			c.log.Warn().Int("attempt", attempt+1).Msg("broker rate limit signaled in 200 response, retrying")
			backoffSleep(ctx, wait)
			continue

		case statusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("HTTP 429")
			wait := backoffCapped(attempt, 10*time.Second)
			backoffSleep(ctx, wait)
			continue

		case statusCode == http.StatusInternalServerError && env.MsgCd == "EGW00201":
			lastErr = fmt.Errorf("rate-limited (EGW00201)")
			wait := backoffCapped(attempt, 15*time.Second)
			backoffSleep(ctx, wait)
			continue

		case statusCode == http.StatusInternalServerError:
			lastErr = fmt.Errorf("HTTP 500: %s", env.Msg1)
			if attempt == maxAttempts-1 {
				return nil, &domain.ServerError{StatusCode: statusCode, Message: env.Msg1}
			}
			backoffSleep(ctx, time.Duration(5*(attempt+1))*time.Second)
			continue

		case statusCode >= 500:
			lastErr = fmt.Errorf("HTTP %d: %s", statusCode, env.Msg1)
			if attempt == maxAttempts-1 {
				return nil, &domain.ServerError{StatusCode: statusCode, Message: env.Msg1}
			}
			backoffSleep(ctx, time.Duration(5*(attempt+1))*time.Second)
			continue

		case statusCode >= 400:
			return nil, &domain.ClientError{StatusCode: statusCode, Message: env.Msg1}

		default:
			// Any other non-success shape (broker-code outside {0,1} on
			// HTTP 200 without a recognized rate-limit phrase) is a
			// client-visible failure: no retry budget is spent on it.
			return nil, &domain.ClientError{StatusCode: statusCode, Message: env.Msg1}
		}
	}

	return nil, &domain.NetworkError{Cause: lastErr}
}

func backoffCapped(attempt int, ceiling time.Duration) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// backoffSleep is indirected through a variable so tests can collapse the
// longer backoff tiers (e.g. the 5·(attempt+1)s generic-500 ladder)
// without changing production timing.
var backoffSleep = sleep

// sleep honors ctx cancellation while waiting out a backoff.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// send performs exactly one HTTP round trip for req and returns the raw
// response body and status code, or a transport-level error.
func (c *Client) send(ctx context.Context, req request) ([]byte, int, error) {
	var bodyBytes []byte
	var hashkeyHeader string

	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		bodyBytes = b

		if req.useHashkey {
			hk, err := c.hashkey(ctx, req.account, req.tokens, bodyBytes)
			if err != nil {
				c.log.Warn().Err(err).Msg("hashkey generation failed, submitting without it")
			} else {
				hashkeyHeader = hk
			}
		}
	}

	targetURL := req.account.RestBaseURL + req.path
	if len(req.query) > 0 {
		targetURL += "?" + req.query.Encode()
	}

	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, targetURL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	headers, err := c.buildHeaders(ctx, req.account, req.tokens, req.op, hashkeyHeader)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header = headers

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}
	return raw, resp.StatusCode, nil
}
