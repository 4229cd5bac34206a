package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kis-trader/engine/internal/domain"
)

const validDoc = `
accounts:
  live:
    account_number: "12345678-01"
    product_code: "01"
    app_key: "live-key"
    app_secret: "live-secret"
  paper:
    account_number: "98765432-01"
    product_code: "01"
    app_key: "paper-key"
    app_secret: "paper-secret"
urls:
  live_rest: "https://openapi.koreainvestment.com:9443"
  live_ws: "wss://ops.koreainvestment.com:21000"
  paper_rest: "https://openapivts.koreainvestment.com:29443"
  paper_ws: "wss://ops.koreainvestment.com:31000"
notification:
  webhook_url: "https://hooks.example.com/x"
  token: "abc"
`

func writeDoc(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestGetFresh_ValidDocument(t *testing.T) {
	path := writeDoc(t, validDoc)
	loader := &Loader{Path: path}

	live, err := loader.GetFresh(domain.Live)
	require.NoError(t, err)
	assert.Equal(t, "12345678-01", live.AccountNumber)
	assert.Equal(t, "https://openapi.koreainvestment.com:9443", live.RestBaseURL)

	paper, err := loader.GetFresh(domain.Paper)
	require.NoError(t, err)
	assert.Equal(t, "paper-key", paper.AppKey)
}

func TestGetFresh_MissingFile(t *testing.T) {
	loader := &Loader{Path: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := loader.GetFresh(domain.Live)
	require.Error(t, err)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestGetFresh_MissingRequiredField(t *testing.T) {
	incomplete := `
accounts:
  live:
    account_number: "12345678-01"
    product_code: "01"
    app_key: "live-key"
urls:
  live_rest: "https://openapi.koreainvestment.com:9443"
  live_ws: "wss://ops.koreainvestment.com:21000"
  paper_rest: "https://openapivts.koreainvestment.com:29443"
  paper_ws: "wss://ops.koreainvestment.com:31000"
`
	path := writeDoc(t, incomplete)
	loader := &Loader{Path: path}

	_, err := loader.GetFresh(domain.Live)
	require.Error(t, err)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestGetFresh_RereadsAfterEdit(t *testing.T) {
	path := writeDoc(t, validDoc)
	loader := &Loader{Path: path}

	first, err := loader.GetFresh(domain.Live)
	require.NoError(t, err)
	assert.Equal(t, "live-key", first.AppKey)

	edited := strings.Replace(validDoc, `app_key: "live-key"`, `app_key: "live-key-rotated"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o600))

	second, err := loader.GetFresh(domain.Live)
	require.NoError(t, err)
	assert.Equal(t, "live-key-rotated", second.AppKey)
}

func TestGetFresh_UnknownAccountType(t *testing.T) {
	path := writeDoc(t, validDoc)
	loader := &Loader{Path: path}
	_, err := loader.GetFresh(domain.AccountType("BOGUS"))
	require.Error(t, err)
}
