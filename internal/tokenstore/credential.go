package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Credential is the single OAuth credential this process manages: the
// short-lived access token, the long-lived refresh token, the absolute
// expiry (safety margin already discounted at acquisition time) and the
// granted scopes.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        []string
}

// Valid reports whether the access token may still be used at the given
// instant. A zero expiry means the vendor reported no token lifetime; such a
// token stays in use until the API rejects it.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(c.ExpiresAt)
}

// Clone returns an independent copy, safe to use outside the lock that
// guarded the original.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Scope = slices.Clone(c.Scope)
	return &cp
}

// credentialJSON is the persisted wire form.
type credentialJSON struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	Scope        []string `json:"scope,omitempty"`
}

// MarshalJSON writes the canonical form: RFC 3339 expiry, scope as a list.
func (c Credential) MarshalJSON() ([]byte, error) {
	out := credentialJSON{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Scope:        c.Scope,
	}
	if !c.ExpiresAt.IsZero() {
		out.ExpiresAt = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the canonical form plus the predecessor's state file
// layout: expires_at as epoch seconds (integer or fractional) and scope as a
// single space-separated string. Unknown fields (expires_in, token_type, ...)
// are ignored.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var raw struct {
		AccessToken  string          `json:"access_token"`
		RefreshToken string          `json:"refresh_token"`
		ExpiresAt    json.RawMessage `json:"expires_at"`
		Scope        json.RawMessage `json:"scope"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	expiresAt, err := parseExpiresAt(raw.ExpiresAt)
	if err != nil {
		return fmt.Errorf("expires_at: %w", err)
	}
	scope, err := parseScope(raw.Scope)
	if err != nil {
		return fmt.Errorf("scope: %w", err)
	}

	c.AccessToken = raw.AccessToken
	c.RefreshToken = raw.RefreshToken
	c.ExpiresAt = expiresAt
	c.Scope = scope
	return nil
}

func parseExpiresAt(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, err
		}
		return t, nil
	}

	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
}

func parseScope(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, err
	}
	return strings.Fields(joined), nil
}

// decodeCredential parses persisted JSON, mapping undecodable or token-free
// content to a CorruptError attributed to source.
func decodeCredential(data []byte, source string) (*Credential, error) {
	cred := &Credential{}
	if err := json.Unmarshal(data, cred); err != nil {
		return nil, &CorruptError{Source: source, Err: err}
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return nil, &CorruptError{Source: source, Err: errors.New("no token material")}
	}
	return cred, nil
}
