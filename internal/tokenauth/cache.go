package tokenauth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kis-trader/engine/internal/domain"
)

// diskRecord is the on-disk shape of a cached token: access-token,
// token-type, expires-in, issued-at and expires-at, both timestamps
// ISO-8601.
type diskRecord struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
	ExpiresAt   string `json:"expires_at"`
}

const dateLayout = "20060102"

func tokenFileName(account domain.AccountType, day time.Time) string {
	return fmt.Sprintf("token_%s_%s.json", strings.ToLower(string(account)), day.Format(dateLayout))
}

func tokenFilePrefix(account domain.AccountType) string {
	return fmt.Sprintf("token_%s_", strings.ToLower(string(account)))
}

func hashFileName(account domain.AccountType) string {
	return fmt.Sprintf("connection_%s.json", strings.ToLower(string(account)))
}

// writeToken atomically persists tok to dir/token_<account>_<YYYYMMDD>.json
// via write-to-temp-then-rename: one file per account, never a partial
// write visible to a concurrent reader.
func writeToken(dir string, account domain.AccountType, tok domain.Token) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create token cache dir: %w", err)
	}

	rec := diskRecord{
		AccessToken: tok.Access,
		TokenType:   tok.TokenType,
		ExpiresIn:   int64(tok.ExpiresAt.Sub(tok.IssuedAt).Seconds()),
		IssuedAt:    tok.IssuedAt.Format(time.RFC3339),
		ExpiresAt:   tok.ExpiresAt.Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}

	final := filepath.Join(dir, tokenFileName(account, tok.IssuedAt))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename token cache: %w", err)
	}
	return nil
}

// readToken loads today's cached token for account, or (nil, nil) if
// there is none on disk.
func readToken(dir string, account domain.AccountType, today time.Time) (*domain.Token, error) {
	path := filepath.Join(dir, tokenFileName(account, today))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}

	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse token cache: %w", err)
	}

	issuedAt, err := time.Parse(time.RFC3339, rec.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &domain.Token{
		Account:   account,
		Access:    rec.AccessToken,
		TokenType: rec.TokenType,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// purgeStaleFiles removes every token_<account>_*.json file whose
// encoded date is not today; a previous day's token is never reusable,
// so there is no reason to keep it around.
func purgeStaleFiles(dir string, account domain.AccountType, today time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	todayName := tokenFileName(account, today)
	prefix := tokenFilePrefix(account)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if name != todayName {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}

// configHash returns a stable hash of the fields that must invalidate a
// cached token when they change: the key, secret and base URL together
// identify one credential set.
func configHash(acc domain.Account) string {
	sum := sha256.Sum256([]byte(acc.AppKey + "\x00" + acc.AppSecret + "\x00" + acc.RestBaseURL))
	return hex.EncodeToString(sum[:])
}

// checkAndStoreConfigHash compares the stored hash for account against
// the current configHash(acc). It returns true when the cache must be
// invalidated (hash differs or no hash was stored yet is treated as a
// first run, not a change). The new hash is always persisted.
func checkAndStoreConfigHash(dir string, acc domain.Account) (changed bool, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create token cache dir: %w", err)
	}

	path := filepath.Join(dir, hashFileName(acc.Type))
	current := configHash(acc)

	existing, readErr := os.ReadFile(path)
	firstRun := os.IsNotExist(readErr)
	if readErr != nil && !firstRun {
		return false, fmt.Errorf("read connection hash: %w", readErr)
	}

	changed = !firstRun && strings.TrimSpace(string(existing)) != current

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(current), 0o600); err != nil {
		return changed, fmt.Errorf("write connection hash: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return changed, fmt.Errorf("rename connection hash: %w", err)
	}
	return changed, nil
}

// removeToday deletes today's cached token file for account, if present.
func removeToday(dir string, account domain.AccountType, today time.Time) {
	_ = os.Remove(filepath.Join(dir, tokenFileName(account, today)))
}
