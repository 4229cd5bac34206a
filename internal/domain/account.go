// Package domain holds the core value types shared by every engine
// component: accounts, tokens, orders, positions, snapshots, candidates,
// strategy decisions and cycle reports. It has no dependency on any other
// internal package so that broker, token, account and engine code can all
// depend on it without import cycles.
package domain

import "time"

// AccountType is the opaque account-type tag. Exactly two values exist.
type AccountType string

const (
	Live  AccountType = "LIVE"
	Paper AccountType = "PAPER"
)

// String implements fmt.Stringer for log-friendly output.
func (a AccountType) String() string { return string(a) }

// Valid reports whether a is one of the two recognized account types.
func (a AccountType) Valid() bool { return a == Live || a == Paper }

// Account is the immutable set of credentials and endpoints for one
// account type, for the lifetime of a session.
type Account struct {
	Type           AccountType
	AccountNumber  string
	ProductCode    string
	AppKey         string
	AppSecret      string
	RestBaseURL    string
	WebsocketURL   string
}

// Token is a minted access credential for one account.
type Token struct {
	Account   AccountType
	Access    string
	TokenType string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NearExpiryWindow is the lead time before expiry at which a token must
// be treated as due for refresh.
const NearExpiryWindow = 30 * time.Minute

// ValidForUse reports whether the token may still be used at instant now,
// in the given location (the market's civil calendar, e.g. Asia/Seoul).
// A token is valid iff now < ExpiresAt AND it was issued today in loc.
func (t Token) ValidForUse(now time.Time, loc *time.Location) bool {
	if !now.Before(t.ExpiresAt) {
		return false
	}
	return sameCivilDay(t.IssuedAt.In(loc), now.In(loc))
}

// NearExpiry reports whether now is within NearExpiryWindow of ExpiresAt.
func (t Token) NearExpiry(now time.Time) bool {
	return !now.Before(t.ExpiresAt.Add(-NearExpiryWindow))
}

func sameCivilDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
