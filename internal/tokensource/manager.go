package tokensource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/chrko/mb-exporter/internal/tokenstore"
)

const (
	// DefaultTimeout bounds calls to the vendor token endpoint when the
	// Config does not set one. A timed-out call classifies as transient.
	DefaultTimeout = 30 * time.Second

	// expirySafetyMargin is discounted from the vendor's expires_in when a
	// credential is assembled, so the token counts as expired slightly
	// before the vendor's true deadline.
	expirySafetyMargin = 30 * time.Second
)

// Config carries the OAuth client settings shared by Manager and Authorizer.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint

	// Timeout bounds each call to the vendor token endpoint. Zero means
	// DefaultTimeout.
	Timeout time.Duration
}

func (c Config) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint:     c.Endpoint,
	}
}

// Manager owns the exporter's single OAuth credential: eager load at
// startup, expiry tracking, single-flight refresh and the authorization-code
// exchange. All credential state lives behind one mutex; consumers only ever
// see the access token string.
type Manager struct {
	oauth   *oauth2.Config
	store   tokenstore.TokenStore
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	cred *tokenstore.Credential

	refresh singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager and eagerly loads any persisted credential so a
// restart resumes where the previous process stopped. Corrupt persisted
// state is reported and treated as absent.
func New(ctx context.Context, cfg Config, store tokenstore.TokenStore, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("missing client id")
	}

	m := &Manager{
		oauth:   cfg.oauthConfig(),
		store:   store,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(m)
	}

	cred, err := store.Load(ctx)
	switch {
	case errors.Is(err, tokenstore.ErrCorrupt):
		slog.WarnContext(ctx, "persisted credential state is corrupt, starting unauthenticated", "error", err)
	case err != nil:
		return nil, fmt.Errorf("loading persisted credential: %w", err)
	}

	m.mu.Lock()
	m.setCredLocked(cred)
	m.mu.Unlock()

	if cred != nil {
		slog.InfoContext(ctx, "loaded persisted credential",
			"valid", cred.Valid(m.now()), "expires_at", cred.ExpiresAt)
	} else {
		slog.InfoContext(ctx, "no persisted credential, authorization required")
	}

	return m, nil
}

// Token returns a valid access token, refreshing it first when expired. This
// is the only consumer entry point.
//
// With no credential present it fails fast with ErrReauthorizationRequired
// and performs no network I/O. Concurrent callers hitting an expired
// credential share a single refresh call: refresh tokens may be single-use,
// so a duplicate concurrent exchange could invalidate the whole credential.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	switch {
	case m.cred == nil:
		m.mu.Unlock()
		return "", ErrReauthorizationRequired
	case m.cred.Valid(m.now()):
		token := m.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	v, err, _ := m.refresh.Do("refresh", func() (any, error) {
		return m.refreshCredential(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CompleteAuthorization exchanges an authorization code for the initial
// credential, persists it and makes it live. Codes are single-use; a failed
// exchange is surfaced as-is and never retried.
func (m *Manager) CompleteAuthorization(ctx context.Context, code string) error {
	exchangeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tok, err := m.oauth.Exchange(exchangeCtx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	next := m.credentialFromToken(tok, nil)
	m.checkGrantedScope(ctx, next.Scope)
	if next.RefreshToken == "" {
		slog.WarnContext(ctx, "vendor issued no refresh token, authorization will not survive token expiry")
	}

	m.mu.Lock()
	m.setCredLocked(next.Clone())
	m.mu.Unlock()

	if err := m.store.Save(context.WithoutCancel(ctx), next); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}

	slog.InfoContext(ctx, "authorization completed", "expires_at", next.ExpiresAt, "scopes", len(next.Scope))
	return nil
}

// Invalidate marks the credential expired iff the given access token is
// still the live one, so a concurrent rotation is never clobbered. The
// vehicle client calls this when the API answers 401 for a token that still
// looked valid locally (clock skew, early revocation); the next Token call
// then refreshes.
func (m *Manager) Invalidate(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cred == nil || m.cred.AccessToken != accessToken {
		return
	}
	m.cred.ExpiresAt = m.now().Add(-time.Second)
	tokenValid.Set(0)
	slog.Warn("access token invalidated after vendor rejection")
}

// Authenticated reports whether a credential is present, regardless of
// expiry. The interactive auth endpoint uses it to short-circuit when a
// session already exists.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred != nil
}

// refreshCredential performs one refresh-token grant and installs the
// result. Runs inside the singleflight group; waiters may arrive after a
// concurrent flight already succeeded, so validity is re-checked first.
func (m *Manager) refreshCredential(ctx context.Context) (string, error) {
	// The flight outcome is shared by every waiter, so it must not inherit
	// any single caller's cancelation; the timeouts below bound each step.
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	cred := m.cred.Clone()
	m.mu.Unlock()

	if cred == nil {
		return "", ErrReauthorizationRequired
	}
	if cred.Valid(m.now()) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		// Nothing to refresh with; same recovery path as a revoked grant.
		m.clearCredential(ctx)
		return "", fmt.Errorf("credential has no refresh token: %w", ErrReauthorizationRequired)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	slog.DebugContext(refreshCtx, "refreshing access token")
	tok, err := m.oauth.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		if isTerminalGrant(err) {
			refreshFailure.WithLabelValues("terminal").Inc()
			slog.ErrorContext(ctx, "refresh token rejected, reauthorization required", "error", err)
			m.clearCredential(ctx)
			return "", fmt.Errorf("refresh token rejected by vendor: %w", ErrReauthorizationRequired)
		}
		refreshFailure.WithLabelValues("transient").Inc()
		slog.WarnContext(ctx, "access token refresh failed", "error", err)
		return "", fmt.Errorf("refreshing access token: %w", err)
	}

	next := m.credentialFromToken(tok, cred)
	m.checkGrantedScope(ctx, next.Scope)

	// Install a copy: the local credential is marshaled to storage outside
	// the lock below.
	m.mu.Lock()
	m.setCredLocked(next.Clone())
	m.mu.Unlock()
	refreshSuccess.Inc()

	// Durability shadow: written after the in-memory transition, before
	// success reaches the callers that triggered the refresh. The rotated
	// refresh token stays live in memory even if the write fails, otherwise
	// it would be lost entirely.
	if err := m.store.Save(ctx, next); err != nil {
		slog.ErrorContext(ctx, "failed to persist refreshed credential", "error", err)
		return "", fmt.Errorf("persisting refreshed credential: %w", err)
	}

	slog.InfoContext(ctx, "access token refreshed", "expires_at", next.ExpiresAt)
	return next.AccessToken, nil
}

// clearCredential drops the credential from memory and storage. Only a fresh
// browser authorization recovers from this.
func (m *Manager) clearCredential(ctx context.Context) {
	m.mu.Lock()
	m.setCredLocked(nil)
	m.mu.Unlock()

	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		slog.ErrorContext(ctx, "failed to clear persisted credential", "error", err)
	}
}

// setCredLocked installs the credential and mirrors its validity into the
// token gauge. Callers hold m.mu.
func (m *Manager) setCredLocked(cred *tokenstore.Credential) {
	m.cred = cred
	if cred.Valid(m.now()) {
		tokenValid.Set(1)
	} else {
		tokenValid.Set(0)
	}
}

// credentialFromToken assembles the next credential from a token endpoint
// response. The vendor does not always reissue the refresh token; an absent
// one keeps the previous value, never deletes it.
func (m *Manager) credentialFromToken(tok *oauth2.Token, prev *tokenstore.Credential) *tokenstore.Credential {
	next := &tokenstore.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        grantedScope(tok),
	}
	if next.RefreshToken == "" && prev != nil {
		next.RefreshToken = prev.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		next.ExpiresAt = tok.Expiry.Add(-expirySafetyMargin)
	}
	if len(next.Scope) == 0 && prev != nil {
		next.Scope = slices.Clone(prev.Scope)
	}
	return next
}

// checkGrantedScope compares granted scopes against the requested set.
// Missing scopes degrade the affected vehicle data categories but do not
// invalidate the credential, so this only reports.
func (m *Manager) checkGrantedScope(ctx context.Context, granted []string) {
	if len(granted) == 0 {
		return
	}

	var missing []string
	for _, want := range m.oauth.Scopes {
		if !slices.Contains(granted, want) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		scopeMismatch.Inc()
		slog.WarnContext(ctx, "vendor granted fewer scopes than requested", "missing", missing)
	}
}

// grantedScope extracts the scope field of a token response. x/oauth2 keeps
// non-standard response fields in the raw payload.
func grantedScope(tok *oauth2.Token) []string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
