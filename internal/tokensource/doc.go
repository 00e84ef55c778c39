// Package tokensource manages the exporter's OAuth2 credential lifecycle
// against the Mercedes-Benz identity provider.
//
// The exporter is a single-tenant confidential client: one operator, one
// vehicle, one credential. Access tokens are short-lived; the refresh token
// is the long-lived anchor and losing it forces the operator back through
// the browser consent flow.
//
// # Manager
//
// Manager owns the credential. Consumers call Token for a valid access
// token; an expired one is refreshed transparently, with concurrent callers
// sharing a single refresh-token grant:
//
//	token, err := manager.Token(ctx)
//	if errors.Is(err, tokensource.ErrReauthorizationRequired) {
//		// no credential, or the refresh token was revoked:
//		// the operator must re-run the browser flow
//	}
//
// # Authorizer
//
// Authorizer drives the interactive authorization-code flow. Begin returns
// the vendor consent URL with a fresh anti-forgery state; Complete validates
// the callback state and exchanges the code:
//
//	http.Redirect(w, r, authorizer.Begin(), http.StatusFound)
//	...
//	err := authorizer.Complete(ctx, code, state)
//
// # Failure classes
//
// Refresh failures split three ways. Network errors, timeouts and 5xx
// responses are transient: the credential stays in place and the next call
// retries. An invalid_grant rejection is terminal: the credential is cleared
// and Token returns ErrReauthorizationRequired until the operator
// reauthorizes. A forged or stale callback fails with ErrStateMismatch
// before any code reaches the vendor.
package tokensource
