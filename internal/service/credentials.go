package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
	"dodns/internal/model"
	"dodns/internal/store"
)

// Credentials owns the DigitalOcean configuration and the API access token.
type Credentials struct {
	store   store.Store
	connect Connector
	log     *logrus.Entry

	// tokenMu serializes generation so concurrent first reads agree.
	tokenMu sync.Mutex
}

func NewCredentials(st store.Store, connect Connector, log *logrus.Entry) *Credentials {
	return &Credentials{store: st, connect: connect, log: log.WithField("component", "credentials")}
}

// TestResult is the outcome of a successful connection test.
type TestResult struct {
	Zone        string
	RecordCount int
	Message     string
}

// Get returns the stored configuration. Read failures are logged and
// reported as unconfigured.
func (c *Credentials) Get(ctx context.Context) (model.Configuration, bool) {
	cfg, err := c.store.LoadConfiguration(ctx)
	if err != nil {
		c.log.WithError(err).Error("loading configuration")
		return model.Configuration{}, false
	}
	return cfg, cfg.Configured()
}

// Save validates and persists a new configuration, returning the zone.
func (c *Credentials) Save(ctx context.Context, apiToken, dnsZone string) (string, error) {
	cfg, err := normalizeConfiguration(apiToken, dnsZone)
	if err != nil {
		return "", err
	}
	if err := c.store.SaveConfiguration(ctx, cfg); err != nil {
		return "", apperr.Internal("Failed to save configuration", err)
	}
	c.log.WithField("zone", cfg.DNSZone).Info("configuration saved")
	return cfg.DNSZone, nil
}

// Test resolves the zone and counts its records with the given credentials
// without persisting them.
func (c *Credentials) Test(ctx context.Context, apiToken, dnsZone string) (TestResult, error) {
	cfg, err := normalizeConfiguration(apiToken, dnsZone)
	if err != nil {
		return TestResult{}, err
	}
	up, err := c.connect(cfg.APIToken)
	if err != nil {
		return TestResult{}, err
	}
	zone, err := up.GetZone(ctx, cfg.DNSZone)
	if err != nil {
		return TestResult{}, err
	}
	records, err := up.ListRecords(ctx, cfg.DNSZone)
	if err != nil {
		return TestResult{}, err
	}
	return TestResult{
		Zone:        zone,
		RecordCount: len(records),
		Message:     fmt.Sprintf("Connection successful! Found %d DNS records.", len(records)),
	}, nil
}

// Seed saves cfg when the store is still unconfigured and cfg is complete.
// It reports whether anything was written.
func (c *Credentials) Seed(ctx context.Context, cfg model.Configuration) (bool, error) {
	if !cfg.Configured() {
		return false, nil
	}
	current, err := c.store.LoadConfiguration(ctx)
	if err != nil {
		return false, fmt.Errorf("loading configuration: %w", err)
	}
	if current.Configured() {
		return false, nil
	}
	if _, err := c.Save(ctx, cfg.APIToken, cfg.DNSZone); err != nil {
		return false, err
	}
	return true, nil
}

// Upstream returns a client for the stored credentials together with the
// zone, or NotConfigured without contacting DigitalOcean.
func (c *Credentials) Upstream(ctx context.Context) (Upstream, string, error) {
	cfg, ok := c.Get(ctx)
	if !ok {
		return nil, "", apperr.NotConfigured()
	}
	up, err := c.connect(cfg.APIToken)
	if err != nil {
		return nil, "", err
	}
	return up, cfg.DNSZone, nil
}

// APIToken returns the current API access token, generating one on first use.
func (c *Credentials) APIToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	token, err := c.store.APIToken(ctx)
	if err != nil {
		return "", apperr.Internal("Failed to load API token", err)
	}
	if token != "" {
		return token, nil
	}
	token, err = c.rotate(ctx)
	if err != nil {
		return "", err
	}
	c.log.Info("API access token generated")
	return token, nil
}

// RegenerateAPIToken replaces the API access token. The previous value stops
// working as soon as this returns.
func (c *Credentials) RegenerateAPIToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	token, err := c.rotate(ctx)
	if err != nil {
		return "", err
	}
	c.log.Info("API access token regenerated")
	return token, nil
}

// rotate must be called with tokenMu held.
func (c *Credentials) rotate(ctx context.Context) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", apperr.Internal("Failed to generate API token", err)
	}
	if err := c.store.SetAPIToken(ctx, token); err != nil {
		return "", apperr.Internal("Failed to save API token", err)
	}
	return token, nil
}

// MaskToken hides all but the last four characters of a secret.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func normalizeConfiguration(apiToken, dnsZone string) (model.Configuration, error) {
	cfg := model.Configuration{
		APIToken: strings.TrimSpace(apiToken),
		DNSZone:  strings.TrimSuffix(strings.ToLower(strings.TrimSpace(dnsZone)), "."),
	}
	var missing []string
	if cfg.APIToken == "" {
		missing = append(missing, "api_token")
	}
	if cfg.DNSZone == "" {
		missing = append(missing, "dns_zone")
	}
	if len(missing) > 0 {
		return model.Configuration{}, apperr.Validation("Missing required fields: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
