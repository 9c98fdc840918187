package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"profile-gate/internal/auth"
	"profile-gate/internal/clock"
	"profile-gate/internal/config"
	"profile-gate/internal/content"
	"profile-gate/internal/observability"
	"profile-gate/internal/pin"
	"profile-gate/internal/ratelimit"
	"profile-gate/internal/ticket"
)

func testConfig() config.Config {
	return config.Config{
		AppEnv:           "test",
		StoreDriver:      config.DriverMemory,
		TrustTokenSecret: strings.Repeat("t", 32),
		OwnerJWTSecret:   strings.Repeat("o", 32),
		CronSecret:       "cron-secret",
		PINMaxFailures:   5,
		LockoutWindow:    15 * time.Minute,
		RememberMaxAge:   30 * 24 * time.Hour,
		DownloadTokenTTL: 5 * time.Minute,
		BcryptCost:       bcrypt.MinCost,
		RateLimitMax:     100,
		RateLimitWindow:  time.Minute,
		TrustedProxyHops: 1,
		AttemptRetention: 30 * 24 * time.Hour,
		CleanupBatchSize: 500,
	}
}

// harness runs the full route table over memory stores.
type harness struct {
	server   *httptest.Server
	client   *http.Client
	clock    *clock.Manual
	pages    *pin.MemoryStore
	contacts *content.MemorySource
	owners   *auth.TokenIssuer
}

func newHarness(cfg config.Config) (*harness, error) {
	clk := clock.NewManual(time.Now().UTC())
	pages := pin.NewMemoryStore(clk)
	contacts := content.NewMemorySource()

	handler, err := NewHandler(Deps{
		Config:   cfg,
		Logger:   observability.Discard(),
		Clock:    clk,
		Pages:    pages,
		Tickets:  ticket.NewMemoryStore(),
		Contacts: contacts,
		Limiter:  ratelimit.NewMemoryStore(clk),
	})
	if err != nil {
		return nil, err
	}

	owners, err := auth.NewTokenIssuer(cfg.OwnerJWTSecret, time.Hour, clk)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	server := httptest.NewServer(handler)
	return &harness{
		server:   server,
		client:   &http.Client{Jar: jar},
		clock:    clk,
		pages:    pages,
		contacts: contacts,
		owners:   owners,
	}, nil
}

func (h *harness) Close() {
	h.server.Close()
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) json() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(r.body, &out); err != nil {
		return nil, fmt.Errorf("decode %q: %w", r.body, err)
	}
	return out, nil
}

func (h *harness) do(method, path string, body any, headers map[string]string) (response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return response{}, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		return response{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	return response{status: resp.StatusCode, header: resp.Header, body: raw}, nil
}

func (h *harness) asOwner(profileID string) (map[string]string, error) {
	tok, err := h.owners.Issue(profileID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

// createPage goes through the owner API and returns the new page id.
func (h *harness) createPage(profileID, pinValue string, mode pin.VisibilityMode, allowRemember bool) (string, error) {
	headers, err := h.asOwner(profileID)
	if err != nil {
		return "", err
	}

	resp, err := h.do(http.MethodPost, "/owner/pages", map[string]any{
		"title":          "Gated",
		"pin":            pinValue,
		"visibilityMode": mode,
		"allowRemember":  allowRemember,
	}, headers)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusCreated {
		return "", fmt.Errorf("create page: status %d: %s", resp.status, resp.body)
	}

	body, err := resp.json()
	if err != nil {
		return "", err
	}
	id, _ := body["id"].(string)
	return id, nil
}
