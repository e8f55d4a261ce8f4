package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/digitalocean/godo"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"dodns/internal/config"
	"dodns/internal/service"
	"dodns/internal/store"
	"dodns/internal/upstream"
	"dodns/internal/upstream/upstreamtest"
)

const (
	testZone    = "example.com"
	testDOToken = "abc"
	testPass    = "correct horse"
)

type harness struct {
	t      *testing.T
	app    *httptest.Server
	do     *upstreamtest.Server
	client *http.Client
	csrf   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	do := upstreamtest.NewServer(t, testZone, testDOToken)

	st, err := store.OpenFile(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Auth: config.AuthConfig{Username: "admin", Password: testPass, SessionTTL: time.Hour},
	}
	logger, _ := test.NewNullLogger()
	connect := service.DigitalOcean(upstream.Options{BaseURL: do.BaseURL(), Timeout: 5 * time.Second})

	app, err := New(cfg, st, connect, "test", logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(app.Handler)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{t: t, app: ts, do: do, client: &http.Client{Jar: jar}}
}

// call sends a JSON request with the session cookie and CSRF token, if any.
func (h *harness) call(method, path string, body any, headers ...string) (int, map[string]any) {
	h.t.Helper()
	return h.send(h.client, method, path, body, append([]string{"X-CSRF-Token", h.csrf}, headers...)...)
}

// anon sends a request without cookies.
func (h *harness) anon(method, path string, body any, headers ...string) (int, map[string]any) {
	h.t.Helper()
	return h.send(http.DefaultClient, method, path, body, headers...)
}

func (h *harness) send(c *http.Client, method, path string, body any, headers ...string) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, h.app.URL+path, &buf)
	if err != nil {
		h.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i+1] != "" {
			req.Header.Set(headers[i], headers[i+1])
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		h.t.Fatalf("%s %s: response is not JSON: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (h *harness) login() {
	h.t.Helper()
	status, body := h.call(http.MethodPost, "/api/auth/login", map[string]string{"password": testPass})
	if status != http.StatusOK {
		h.t.Fatalf("login: %d %v", status, body)
	}
	h.csrf, _ = body["csrf_token"].(string)
	if h.csrf == "" {
		h.t.Fatal("login must return a csrf token")
	}
}

func (h *harness) configure() {
	h.t.Helper()
	status, body := h.call(http.MethodPost, "/api/config", map[string]string{"api_token": testDOToken, "dns_zone": testZone})
	if status != http.StatusOK {
		h.t.Fatalf("configure: %d %v", status, body)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	status, body := h.anon(http.MethodGet, "/api/health", nil)
	if status != http.StatusOK || body["status"] != "healthy" || body["configured"] != false || body["zone"] != nil {
		t.Errorf("unexpected health response %d %v", status, body)
	}
}

func TestSaveConfiguration(t *testing.T) {
	h := newHarness(t)

	if status, _ := h.anon(http.MethodGet, "/api/config", nil); status != http.StatusUnauthorized {
		t.Errorf("GET /api/config without auth: status %d, want 401", status)
	}
	h.login()

	status, body := h.call(http.MethodPost, "/api/config", map[string]string{"api_token": testDOToken, "dns_zone": testZone})
	if status != http.StatusOK || body["zone"] != testZone || body["success"] != true {
		t.Fatalf("POST /api/config: %d %v", status, body)
	}

	status, body = h.anon(http.MethodGet, "/api/config/status", nil)
	if status != http.StatusOK || body["configured"] != true || body["zone"] != testZone {
		t.Errorf("GET /api/config/status: %d %v", status, body)
	}

	_, body = h.call(http.MethodGet, "/api/config", nil)
	if body["api_token"] != "****" || body["dns_zone"] != testZone || body["has_token"] != true {
		t.Errorf("GET /api/config: %v", body)
	}

	// Resubmitting the masked token keeps the stored one.
	status, _ = h.call(http.MethodPost, "/api/config", map[string]string{"api_token": "****", "dns_zone": testZone})
	if status != http.StatusOK {
		t.Errorf("masked resubmit: status %d", status)
	}
	if status, _ := h.call(http.MethodGet, "/api/records", nil); status != http.StatusOK {
		t.Errorf("stored token must still work after masked resubmit, got %d", status)
	}

	status, body = h.call(http.MethodPost, "/api/config", map[string]string{"api_token": "", "dns_zone": testZone})
	if status != http.StatusBadRequest || body["error"] != "Missing required fields: api_token" {
		t.Errorf("missing token: %d %v", status, body)
	}
}

func TestConnectionTest(t *testing.T) {
	h := newHarness(t)
	h.do.Seed(godo.DomainRecord{Type: "A", Name: "@", Data: "192.0.2.1", TTL: 3600})
	h.login()

	status, body := h.call(http.MethodPost, "/api/config/test", map[string]string{"api_token": testDOToken, "dns_zone": testZone})
	if status != http.StatusOK || body["record_count"] != float64(1) || body["message"] != "Connection successful! Found 1 DNS records." {
		t.Errorf("good credentials: %d %v", status, body)
	}

	status, body = h.call(http.MethodPost, "/api/config/test", map[string]string{"api_token": "wrong", "dns_zone": testZone})
	if status != http.StatusBadGateway || body["error"] != "Authentication failed. Please check your API token." {
		t.Errorf("bad token: %d %v", status, body)
	}

	status, body = h.call(http.MethodPost, "/api/config/test", map[string]string{"api_token": testDOToken, "dns_zone": "missing.org"})
	if status != http.StatusNotFound || !strings.Contains(body["error"].(string), `"missing.org" not found`) {
		t.Errorf("unknown zone: %d %v", status, body)
	}

	if status, body := h.anon(http.MethodGet, "/api/config/status", nil); body["configured"] != false {
		t.Errorf("testing must not save: %d %v", status, body)
	}
}

func TestUnconfiguredRecordEndpoints(t *testing.T) {
	h := newHarness(t)
	h.login()

	requests := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/records", nil},
		{http.MethodPost, "/api/records", map[string]any{"name": "www", "type": "A", "values": []string{"1.2.3.4"}}},
		{http.MethodPut, "/api/records/A/www", map[string]any{"values": []string{"1.2.3.4"}}},
		{http.MethodDelete, "/api/records/A/www", nil},
	}
	for _, req := range requests {
		status, body := h.call(req.method, req.path, req.body)
		if status != http.StatusBadRequest || !strings.Contains(body["error"].(string), "configuration is incomplete") {
			t.Errorf("%s %s: %d %v", req.method, req.path, status, body)
		}
	}
	if h.do.Calls() != 0 {
		t.Errorf("expected no upstream calls, got %d", h.do.Calls())
	}
}

func TestCreateAndList(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.configure()

	status, body := h.call(http.MethodPost, "/api/records", map[string]any{
		"name": "www", "type": "A", "ttl": 3600, "values": []string{"1.2.3.4"},
	})
	if status != http.StatusCreated || body["name"] != "www" {
		t.Fatalf("POST /api/records: %d %v", status, body)
	}

	status, body = h.call(http.MethodGet, "/api/records", nil)
	if status != http.StatusOK || body["zone"] != testZone {
		t.Fatalf("GET /api/records: %d %v", status, body)
	}
	records := body["records"].([]any)
	var found bool
	for _, raw := range records {
		r := raw.(map[string]any)
		if r["fqdn"] != "www.example.com" {
			continue
		}
		found = true
		values := r["values"].([]any)
		if r["ttl"] != float64(3600) || len(values) != 1 || values[0] != "1.2.3.4" {
			t.Errorf("unexpected record %v", r)
		}
	}
	if !found {
		t.Errorf("www.example.com not listed in %v", records)
	}
}

func TestUpdateTXTToTwoValues(t *testing.T) {
	h := newHarness(t)
	for _, v := range []string{"v=spf1 -all", "google-site-verification=x", "keep-me"} {
		h.do.Seed(godo.DomainRecord{Type: "TXT", Name: "@", Data: v, TTL: 3600})
	}
	h.do.Seed(godo.DomainRecord{Type: "A", Name: "@", Data: "192.0.2.1", TTL: 3600})
	h.login()
	h.configure()

	status, body := h.call(http.MethodPut, "/api/records/TXT/@", map[string]any{
		"ttl": 3600, "values": []string{"keep-me", "new-value"},
	})
	if status != http.StatusOK {
		t.Fatalf("PUT /api/records/TXT/@: %d %v", status, body)
	}
	changes := body["changes"].(map[string]any)
	if changes["deleted"] != float64(2) || changes["created"] != float64(1) || changes["updated"] != float64(0) {
		t.Errorf("unexpected changes %v", changes)
	}

	_, body = h.call(http.MethodGet, "/api/records", nil)
	var txt []string
	for _, raw := range body["records"].([]any) {
		r := raw.(map[string]any)
		if r["name"] == "@" && r["type"] == "TXT" {
			txt = append(txt, r["values"].([]any)[0].(string))
		}
	}
	if len(txt) != 2 {
		t.Errorf("expected exactly two TXT entries at @, got %v", txt)
	}
	if len(h.do.Matching("@", "A")) != 1 {
		t.Error("other records at @ must be untouched")
	}
}

func TestUpdatePartialFailureEnvelope(t *testing.T) {
	h := newHarness(t)
	h.do.Seed(godo.DomainRecord{Type: "TXT", Name: "@", Data: "old", TTL: 3600})
	h.login()
	h.configure()

	h.do.Fail = func(method, _ string) (int, string) {
		if method == http.MethodPost {
			return http.StatusUnprocessableEntity, "Data is invalid."
		}
		return 0, ""
	}
	status, body := h.call(http.MethodPut, "/api/records/TXT/@", map[string]any{"values": []string{"new"}})
	if status != http.StatusBadGateway || body["partial"] != true {
		t.Fatalf("expected partial 502, got %d %v", status, body)
	}
	if applied := body["applied"].([]any); len(applied) != 1 {
		t.Errorf("expected one applied step, got %v", applied)
	}
	if !strings.Contains(body["error"].(string), "Data is invalid.") {
		t.Errorf("error should carry the upstream message, got %q", body["error"])
	}
}

func TestProtectedDeleteMakesNoUpstreamCall(t *testing.T) {
	h := newHarness(t)
	h.do.Seed(godo.DomainRecord{Type: "NS", Name: "@", Data: "ns1.digitalocean.com", TTL: 1800})
	h.login()
	h.configure()

	before := h.do.Calls()
	for _, path := range []string{"/api/records/NS/@", "/api/records/SOA/@"} {
		status, body := h.call(http.MethodDelete, path, nil)
		if status != http.StatusForbidden {
			t.Errorf("DELETE %s: %d %v", path, status, body)
		}
	}
	status, _ := h.call(http.MethodPut, "/api/records/NS/@", map[string]any{"values": []string{"ns9.example.net."}})
	if status != http.StatusForbidden {
		t.Errorf("PUT root NS: %d", status)
	}
	if h.do.Calls() != before {
		t.Errorf("expected no upstream calls, got %d", h.do.Calls()-before)
	}
	if len(h.do.Matching("@", "NS")) != 1 {
		t.Error("root NS must survive")
	}
}

func TestDeleteRecord(t *testing.T) {
	h := newHarness(t)
	id := h.do.Seed(godo.DomainRecord{Type: "CNAME", Name: "blog", Data: "@", TTL: 3600})
	h.login()
	h.configure()

	status, body := h.call(http.MethodDelete, "/api/records/CNAME/blog?id=abc", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad id: %d %v", status, body)
	}

	status, body = h.call(http.MethodDelete, "/api/records/CNAME/blog?id="+strconv.Itoa(id), nil)
	if status != http.StatusOK || body["message"] != "Record deleted successfully" {
		t.Fatalf("DELETE: %d %v", status, body)
	}
	status, _ = h.call(http.MethodDelete, "/api/records/CNAME/blog", nil)
	if status != http.StatusNotFound {
		t.Errorf("second delete: status %d, want 404", status)
	}
}

func TestAPITokenRegeneration(t *testing.T) {
	h := newHarness(t)
	h.login()

	if status, _ := h.anon(http.MethodGet, "/api/auth/api-token", nil); status != http.StatusUnauthorized {
		t.Errorf("api-token without session: %d", status)
	}

	_, body := h.call(http.MethodGet, "/api/auth/api-token", nil)
	oldToken := body["api_token"].(string)

	if status, _ := h.anon(http.MethodGet, "/api/config", nil, "X-API-Token", oldToken); status != http.StatusOK {
		t.Fatalf("token auth failed: %d", status)
	}
	if status, _ := h.anon(http.MethodPost, "/api/config", map[string]string{"api_token": testDOToken, "dns_zone": testZone},
		"Authorization", "Bearer "+oldToken); status != http.StatusOK {
		t.Errorf("token-authenticated writes need no CSRF token, got %d", status)
	}

	status, body := h.call(http.MethodPost, "/api/auth/api-token/regenerate", nil)
	if status != http.StatusOK {
		t.Fatalf("regenerate: %d %v", status, body)
	}
	newToken := body["api_token"].(string)
	if newToken == oldToken {
		t.Fatal("regenerate must return a new token")
	}

	if status, _ := h.anon(http.MethodGet, "/api/config", nil, "X-API-Token", oldToken); status != http.StatusUnauthorized {
		t.Errorf("old token must be rejected, got %d", status)
	}
	if status, _ := h.anon(http.MethodGet, "/api/config", nil, "Authorization", "Bearer "+newToken); status != http.StatusOK {
		t.Errorf("new token must be accepted, got %d", status)
	}
}

func TestCSRFRequiredForSessionWrites(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.csrf = "not-the-token"

	status, body := h.call(http.MethodPost, "/api/config", map[string]string{"api_token": testDOToken, "dns_zone": testZone})
	if status != http.StatusForbidden {
		t.Errorf("expected 403 without a valid CSRF token, got %d %v", status, body)
	}
}

func TestLoginLogoutAndThrottle(t *testing.T) {
	h := newHarness(t)

	_, body := h.call(http.MethodGet, "/api/auth/status", nil)
	if body["authenticated"] != false {
		t.Errorf("expected unauthenticated status, got %v", body)
	}

	h.login()
	_, body = h.call(http.MethodGet, "/api/auth/status", nil)
	if body["authenticated"] != true || body["username"] != "admin" || body["csrf_token"] != h.csrf {
		t.Errorf("unexpected status %v", body)
	}

	if status, _ := h.call(http.MethodPost, "/api/auth/logout", nil); status != http.StatusOK {
		t.Errorf("logout: %d", status)
	}
	_, body = h.call(http.MethodGet, "/api/auth/status", nil)
	if body["authenticated"] != false {
		t.Errorf("expected logged out, got %v", body)
	}

	for i := 0; i < 5; i++ {
		status, _ := h.anon(http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"})
		if status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d, want 401", i+1, status)
		}
	}
	status, body := h.anon(http.MethodPost, "/api/auth/login", map[string]string{"password": testPass})
	if status != http.StatusTooManyRequests {
		t.Errorf("expected throttling after repeated failures, got %d %v", status, body)
	}
}

func TestAuditLog(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.configure()
	h.call(http.MethodPost, "/api/records", map[string]any{"name": "api", "type": "A", "values": []string{"192.0.2.10"}})

	status, body := h.call(http.MethodGet, "/api/audit", nil)
	if status != http.StatusOK {
		t.Fatalf("GET /api/audit: %d %v", status, body)
	}
	entries := body["entries"].([]any)
	if len(entries) < 3 || body["total_pages"] != float64(1) {
		t.Fatalf("unexpected audit page %v", body)
	}
	newest := entries[0].(map[string]any)
	if newest["action"] != "create_record" || newest["record_name"] != "api" || newest["username"] != "admin" {
		t.Errorf("unexpected newest entry %v", newest)
	}
}

func TestAuditPageBounds(t *testing.T) {
	h := newHarness(t)
	h.login()

	for _, page := range []string{"0", "-3", "abc", "184467440737095518"} {
		if status, body := h.call(http.MethodGet, "/api/audit?page="+page, nil); status != http.StatusBadRequest {
			t.Errorf("page=%s: %d %v", page, status, body)
		}
	}

	status, body := h.call(http.MethodGet, "/api/audit?page=99", nil)
	if status != http.StatusOK || len(body["entries"].([]any)) != 0 || body["page"] != float64(99) {
		t.Errorf("page past the end: %d %v", status, body)
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	h := newHarness(t)
	status, body := h.anon(http.MethodGet, "/api/nope", nil)
	if status != http.StatusNotFound || body["error"] == nil {
		t.Errorf("unknown route: %d %v", status, body)
	}
}
