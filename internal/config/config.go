// Package config loads the single declarative credentials/URL document
// each account needs. There is no process-wide cache: GetFresh re-reads
// the document from disk on every call, so an operator editing the file
// takes effect on the next call without a restart.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kis-trader/engine/internal/domain"
)

// EnvConfigPath is the environment variable that overrides the document
// path; DefaultPath is used when it is unset.
const (
	EnvConfigPath = "KIS_ENGINE_CONFIG"
	DefaultPath   = "config.yaml"
)

// document is the on-disk shape of the declarative credentials document.
type document struct {
	Accounts struct {
		Live  accountFields `yaml:"live"`
		Paper accountFields `yaml:"paper"`
	} `yaml:"accounts"`
	URLs struct {
		LiveREST  string `yaml:"live_rest"`
		LiveWS    string `yaml:"live_ws"`
		PaperREST string `yaml:"paper_rest"`
		PaperWS   string `yaml:"paper_ws"`
	} `yaml:"urls"`
	Notification *NotificationConfig `yaml:"notification,omitempty"`
}

type accountFields struct {
	AccountNumber   string `yaml:"account_number"`
	ProductCode     string `yaml:"product_code"`
	AppKey          string `yaml:"app_key"`
	AppSecret       string `yaml:"app_secret"`
	AccountPassword string `yaml:"account_password"`
}

// NotificationConfig holds optional credentials for the (out-of-scope)
// notification collaborator. The engine never reads these fields itself;
// it only carries them through so the collaborator can be constructed
// from the same document.
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Token      string `yaml:"token"`
}

// Loader reads the declarative document at Path on every GetFresh call.
type Loader struct {
	Path string
}

// New returns a Loader for path, or DefaultPath/EnvConfigPath if path is
// empty. godotenv is consulted (ignored if absent) so operators can set
// KIS_ENGINE_CONFIG in a local .env file instead of the process
// environment.
func New(path string) *Loader {
	_ = godotenv.Load()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}
	return &Loader{Path: path}
}

// GetFresh returns the current Account view for kind, re-read from disk.
// It fails with a *domain.ConfigError when the document is absent,
// unparseable, or missing any field required by kind.
func (l *Loader) GetFresh(kind domain.AccountType) (*domain.Account, error) {
	if !kind.Valid() {
		return nil, &domain.ConfigError{Path: l.Path, Reason: fmt.Sprintf("unknown account type %q", kind)}
	}

	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, &domain.ConfigError{Path: l.Path, Reason: fmt.Sprintf("cannot read document: %v", err)}
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.ConfigError{Path: l.Path, Reason: fmt.Sprintf("cannot parse document: %v", err)}
	}

	var fields accountFields
	var restURL, wsURL string
	switch kind {
	case domain.Live:
		fields = doc.Accounts.Live
		restURL, wsURL = doc.URLs.LiveREST, doc.URLs.LiveWS
	case domain.Paper:
		fields = doc.Accounts.Paper
		restURL, wsURL = doc.URLs.PaperREST, doc.URLs.PaperWS
	}

	if err := requireNonEmpty(map[string]string{
		"account_number": fields.AccountNumber,
		"product_code":   fields.ProductCode,
		"app_key":        fields.AppKey,
		"app_secret":     fields.AppSecret,
		"rest_url":       restURL,
		"ws_url":         wsURL,
	}); err != nil {
		return nil, &domain.ConfigError{Path: l.Path, Reason: fmt.Sprintf("missing required field(s) for %s: %v", kind, err)}
	}

	return &domain.Account{
		Type:          kind,
		AccountNumber: fields.AccountNumber,
		ProductCode:   fields.ProductCode,
		AppKey:        fields.AppKey,
		AppSecret:     fields.AppSecret,
		RestBaseURL:   restURL,
		WebsocketURL:  wsURL,
	}, nil
}

// Notification returns the optional notification credentials, re-read
// from disk. A missing section is not an error — the field is optional.
func (l *Loader) Notification() (*NotificationConfig, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, &domain.ConfigError{Path: l.Path, Reason: fmt.Sprintf("cannot read document: %v", err)}
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.ConfigError{Path: l.Path, Reason: fmt.Sprintf("cannot parse document: %v", err)}
	}
	return doc.Notification, nil
}

func requireNonEmpty(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("%s", name)
		}
	}
	return nil
}
