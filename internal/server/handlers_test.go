package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/chrko/mb-exporter/internal/exporter"
	"github.com/chrko/mb-exporter/internal/tokensource"
	"github.com/chrko/mb-exporter/internal/tokenstore"
	"github.com/chrko/mb-exporter/internal/vehicledata"
)

const testVIN = "WDB1110001"

// quietFetcher answers every container like a 204.
type quietFetcher struct{}

func (quietFetcher) FetchContainer(ctx context.Context, vin, container string) ([]vehicledata.Measurement, error) {
	return nil, nil
}

type testEnv struct {
	server  *Server
	manager *tokensource.Manager
	grants  *atomic.Int64
}

// newTestEnv assembles a Server over a real manager and authorizer wired to
// a fake vendor token endpoint.
func newTestEnv(t *testing.T, grantHandler http.HandlerFunc) *testEnv {
	t.Helper()

	var grants atomic.Int64
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grants.Add(1)
		grantHandler(w, r)
	}))
	t.Cleanup(vendor.Close)

	cfg := tokensource.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:9867/oauth.redirect",
		Scopes:       []string{"offline_access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   vendor.URL + "/as/authorization.oauth2",
			TokenURL:  vendor.URL + "/as/token.oauth2",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Timeout: 5 * time.Second,
	}

	store, err := tokenstore.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	manager, err := tokensource.New(context.Background(), cfg, store)
	if err != nil {
		t.Fatalf("tokensource.New() error = %v", err)
	}
	authorizer, err := tokensource.NewAuthorizer(cfg, manager)
	if err != nil {
		t.Fatalf("NewAuthorizer() error = %v", err)
	}
	collector, err := exporter.New(manager, quietFetcher{}, testVIN)
	if err != nil {
		t.Fatalf("exporter.New() error = %v", err)
	}
	srv, err := New(manager, authorizer, collector, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{server: srv, manager: manager, grants: &grants}
}

func grantOK(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "at-1",
		"refresh_token": "rt-1",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (env *testEnv) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

// beginFlow hits /oauth.auth and returns the state embedded in the consent
// redirect.
func (env *testEnv) beginFlow(t *testing.T) string {
	t.Helper()
	rec := env.get("/oauth.auth")
	if rec.Code != http.StatusFound {
		t.Fatalf("GET /oauth.auth status = %d, want %d", rec.Code, http.StatusFound)
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing consent redirect: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("consent redirect carries no state")
	}
	return state
}

func TestAuthRedirectsToConsent(t *testing.T) {
	env := newTestEnv(t, grantOK)

	rec := env.get("/oauth.auth")
	if rec.Code != http.StatusFound {
		t.Fatalf("GET /oauth.auth status = %d, want %d", rec.Code, http.StatusFound)
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "/as/authorization.oauth2") {
		t.Errorf("Location = %q, want vendor consent URL", location)
	}
	if !strings.Contains(location, "client_id=client-id") {
		t.Errorf("Location = %q, want client_id embedded", location)
	}
}

func TestAuthorizationRoundTrip(t *testing.T) {
	env := newTestEnv(t, grantOK)

	state := env.beginFlow(t)
	rec := env.get("/oauth.redirect?code=auth-code-1&state=" + url.QueryEscape(state))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /oauth.redirect status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding redirect response: %v", err)
	}
	if resp.Status != "authorized" || resp.Metrics != "/metrics" {
		t.Errorf("redirect response = %+v, want authorized with metrics hint", resp)
	}
	if !env.manager.Authenticated() {
		t.Error("manager not authenticated after completed flow")
	}
	if got := env.grants.Load(); got != 1 {
		t.Errorf("vendor grant calls = %d, want 1", got)
	}

	// A second visit skips the consent screen.
	rec = env.get("/oauth.auth")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /oauth.auth status = %d, want %d once authorized", rec.Code, http.StatusOK)
	}
}

func TestRedirectVendorDenial(t *testing.T) {
	env := newTestEnv(t, grantOK)
	env.beginFlow(t)

	rec := env.get("/oauth.redirect?error=access_denied&error_description=User+denied+access")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("GET /oauth.redirect status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := rec.Body.String(); !strings.Contains(body, "access_denied") {
		t.Errorf("body = %q, want vendor denial surfaced", body)
	}
	if got := env.grants.Load(); got != 0 {
		t.Errorf("vendor grant calls = %d, want 0", got)
	}
}

func TestRedirectMissingParameters(t *testing.T) {
	env := newTestEnv(t, grantOK)

	for _, target := range []string{
		"/oauth.redirect",
		"/oauth.redirect?code=auth-code-1",
		"/oauth.redirect?state=some-state",
	} {
		rec := env.get(target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
	if got := env.grants.Load(); got != 0 {
		t.Errorf("vendor grant calls = %d, want 0", got)
	}
}

func TestRedirectForgedState(t *testing.T) {
	env := newTestEnv(t, grantOK)
	env.beginFlow(t)

	rec := env.get("/oauth.redirect?code=attacker-code&state=forged")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("GET /oauth.redirect status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := env.grants.Load(); got != 0 {
		t.Errorf("vendor grant calls = %d, forged state must never reach the vendor", got)
	}
	if env.manager.Authenticated() {
		t.Error("manager authenticated after forged callback")
	}
}

func TestRedirectVendorRejectsCode(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_request",
			"error_description": "code already redeemed",
		})
	})

	state := env.beginFlow(t)
	rec := env.get("/oauth.redirect?code=stale-code&state=" + url.QueryEscape(state))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("GET /oauth.redirect status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := rec.Body.String(); !strings.Contains(body, "invalid_request") {
		t.Errorf("body = %q, want the vendor error passed through", body)
	}
	// The single-use code is never retried.
	if got := env.grants.Load(); got != 1 {
		t.Errorf("vendor grant calls = %d, want 1", got)
	}
}

func TestMetricsAlwaysServes(t *testing.T) {
	env := newTestEnv(t, grantOK)

	// Unauthenticated: the scrape still answers, flagged by the status
	// gauge.
	rec := env.get("/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); !strings.Contains(body, "mb_oauth_status 0") {
		t.Errorf("metrics body missing mb_oauth_status 0, got:\n%s", firstLines(body, "mb_oauth_status"))
	}

	state := env.beginFlow(t)
	if rec := env.get("/oauth.redirect?code=auth-code-1&state=" + url.QueryEscape(state)); rec.Code != http.StatusOK {
		t.Fatalf("completing flow: status = %d, body %s", rec.Code, rec.Body)
	}

	rec = env.get("/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); !strings.Contains(body, "mb_oauth_status 2") {
		t.Errorf("metrics body missing mb_oauth_status 2, got:\n%s", firstLines(body, "mb_oauth_status"))
	}
}

func TestLivez(t *testing.T) {
	env := newTestEnv(t, grantOK)

	rec := env.get("/livez")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /livez status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding livez response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("livez status = %q, want ok", resp.Status)
	}
	if resp.Uptime == "" {
		t.Error("livez uptime empty")
	}
	if resp.Version != "test" {
		t.Errorf("livez version = %q, want test", resp.Version)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, grantOK)

	if rec := env.get("/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	req := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /metrics status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestNewValidation(t *testing.T) {
	env := newTestEnv(t, grantOK)

	if _, err := New(nil, env.server.authorizer, env.server.collector, "test"); err == nil {
		t.Error("New(nil manager) error = nil, want error")
	}
	if _, err := New(env.server.manager, nil, env.server.collector, "test"); err == nil {
		t.Error("New(nil authorizer) error = nil, want error")
	}
	if _, err := New(env.server.manager, env.server.authorizer, nil, "test"); err == nil {
		t.Error("New(nil collector) error = nil, want error")
	}
}

// firstLines filters body lines to those mentioning needle, for readable
// failures.
func firstLines(body, needle string) string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.Contains(line, needle) {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return fmt.Sprintf("(no lines mentioning %s)", needle)
	}
	return strings.Join(out, "\n")
}
