package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/chrko/mb-exporter/internal/tokensource"
)

// statusResponse answers the authorization endpoints.
type statusResponse struct {
	Status  string `json:"status"`
	Metrics string `json:"metrics,omitempty"`
}

// healthResponse answers the liveness probe.
type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version,omitempty"`
}

// handleMetrics serves one scrape: refresh whatever the quotas allow, then
// expose the registry. Degraded states surface through the status gauge,
// never through the HTTP status.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.collector.Refresh(r.Context())
	s.metrics.ServeHTTP(w, r)
}

// handleAuth starts the browser flow by redirecting to the vendor consent
// page. With a credential already present it answers directly instead of
// sending the operator through consent again.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if s.manager.Authenticated() {
		writeJSON(r.Context(), w, statusResponse{Status: "authorized", Metrics: "/metrics"}, http.StatusOK)
		return
	}
	http.Redirect(w, r, s.authorizer.Begin(), http.StatusFound)
}

// handleRedirect is the vendor's callback target. It validates the
// anti-forgery state and exchanges the code; any vendor verdict on the code
// is passed through to the operator's browser.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	// A denied consent screen calls back with error parameters instead of
	// a code.
	if vendorErr := query.Get("error"); vendorErr != "" {
		message := vendorErr
		if desc := query.Get("error_description"); desc != "" {
			message += ": " + desc
		}
		slog.WarnContext(ctx, "authorization denied by vendor", "error", message)
		writeJSONError(ctx, w, message, http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writeJSONError(ctx, w, "missing code or state parameter", http.StatusBadRequest)
		return
	}

	err := s.authorizer.Complete(ctx, code, state)
	var retrieveErr *oauth2.RetrieveError
	switch {
	case err == nil:
		writeJSON(ctx, w, statusResponse{Status: "authorized", Metrics: "/metrics"}, http.StatusOK)
	case errors.Is(err, tokensource.ErrStateMismatch):
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &retrieveErr):
		// The vendor's verdict on the code, verbatim.
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(ctx, "completing authorization failed", "error", err)
		writeJSONError(ctx, w, "completing authorization failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, healthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).String(),
		Version: s.version,
	}, http.StatusOK)
}
