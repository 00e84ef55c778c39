package tokensource

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// pendingTTL bounds how long a started authorization attempt stays
// redeemable. The operator has to click through the vendor consent screen
// within this window.
const pendingTTL = 10 * time.Minute

// Authorizer runs the interactive half of the authorization-code flow:
// handing out the consent URL and validating the callback before the code is
// exchanged. At most one attempt is pending at a time; starting a new one
// supersedes the old.
type Authorizer struct {
	oauth   *oauth2.Config
	manager *Manager
	now     func() time.Time

	mu      sync.Mutex
	pending *pendingAttempt
}

type pendingAttempt struct {
	state   string
	expires time.Time
}

// NewAuthorizer creates an Authorizer bound to the Manager that will own the
// exchanged credential.
func NewAuthorizer(cfg Config, manager *Manager) (*Authorizer, error) {
	if manager == nil {
		return nil, fmt.Errorf("missing token manager")
	}
	return &Authorizer{
		oauth:   cfg.oauthConfig(),
		manager: manager,
		now:     time.Now,
	}, nil
}

// Begin starts a fresh authorization attempt and returns the vendor consent
// URL to redirect the operator to. The embedded state parameter is unique
// per attempt and is the anti-forgery token checked by Complete.
func (a *Authorizer) Begin() string {
	state := uuid.NewString()

	a.mu.Lock()
	a.pending = &pendingAttempt{
		state:   state,
		expires: a.now().Add(pendingTTL),
	}
	a.mu.Unlock()

	return a.oauth.AuthCodeURL(state)
}

// Complete validates the callback state and, only on a match, exchanges the
// code through the Manager. A state mismatch is a hard failure: the code in
// a forged or stale callback is never sent to the vendor.
func (a *Authorizer) Complete(ctx context.Context, code, state string) error {
	a.mu.Lock()
	pending := a.pending
	switch {
	case pending == nil:
		a.mu.Unlock()
		return fmt.Errorf("no authorization attempt pending: %w", ErrStateMismatch)
	case a.now().After(pending.expires):
		a.pending = nil
		a.mu.Unlock()
		return fmt.Errorf("authorization attempt expired: %w", ErrStateMismatch)
	case subtle.ConstantTimeCompare([]byte(pending.state), []byte(state)) != 1:
		// The pending attempt survives a mismatch so a forged callback
		// cannot displace the genuine one still in flight.
		a.mu.Unlock()
		slog.WarnContext(ctx, "authorization callback with mismatched state")
		return ErrStateMismatch
	}
	// Attempt consumed: codes and states are single-use.
	a.pending = nil
	a.mu.Unlock()

	return a.manager.CompleteAuthorization(ctx, code)
}
