package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Safariblocks-LTD/codelock-agent/internal/authflow"
	"github.com/Safariblocks-LTD/codelock-agent/internal/tokens"
)

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Authenticated bool `json:"authenticated"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type loginResponse struct {
	Status  string `json:"status"`
	AuthURL string `json:"auth_url"`
}

// handleStatus reports the cheap cache-only authentication hint.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, statusResponse{Authenticated: s.lifecycle.IsAuthenticated()}, http.StatusOK)
}

// handleToken returns a currently valid access token, refreshing if needed.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	accessToken, err := s.lifecycle.GetValidToken(r.Context())
	if err != nil {
		if errors.Is(err, tokens.ErrNoToken) {
			writeJSONError(r.Context(), w, "no_token", http.StatusUnauthorized)
			return
		}
		writeJSONError(r.Context(), w, "internal_error", http.StatusInternalServerError)
		return
	}
	writeJSON(r.Context(), w, tokenResponse{AccessToken: accessToken}, http.StatusOK)
}

// handleLogin starts a login attempt. The attempt is bound to the server's
// base context, not the request's: the redirect arrives in a later request.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, wait, err := s.coordinator.Begin(s.baseCtx)
	if err != nil {
		if errors.Is(err, authflow.ErrLoginInProgress) {
			writeJSONError(r.Context(), w, "login_in_progress", http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "failed to start login attempt", "error", err)
		writeJSONError(r.Context(), w, "login_start_failed", http.StatusInternalServerError)
		return
	}

	go s.monitorLogin(wait)

	writeJSON(r.Context(), w, loginResponse{Status: "pending", AuthURL: authURL}, http.StatusAccepted)
}

// monitorLogin drains a detached login attempt and logs its resolution.
// The editor observes the outcome by polling the status endpoint.
func (s *Server) monitorLogin(wait func() (*authflow.Result, error)) {
	result, err := wait()
	if err != nil {
		var flowErr *authflow.FlowError
		if errors.As(err, &flowErr) {
			slog.Error("login attempt failed", "kind", flowErr.Kind, "error", err)
			return
		}
		slog.Error("login attempt failed", "error", err)
		return
	}
	slog.Info("login attempt resolved", "status", result.Status.String())
}

// handleLoginCancel delivers the user-cancellation signal.
func (s *Server) handleLoginCancel(w http.ResponseWriter, r *http.Request) {
	if !s.coordinator.Cancel() {
		writeJSONError(r.Context(), w, "no_login_pending", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCallback receives the forwarded redirect delivery. The response never
// reveals the resolution outcome; stray deliveries get the same answer as the
// winning one.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	delivered := s.dispatcher.Deliver(authflow.Callback{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		ErrorCode:        query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	})
	if !delivered {
		slog.DebugContext(r.Context(), "redirect delivery with no pending login")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Authentication response received. You can close this tab and return to your editor.\n"))
}

// handleLogout revokes best-effort and clears credentials unconditionally.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	_ = s.coordinator.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONError writes a JSON error response with the given status code.
// Similar to http.Error but returns JSON instead of plain text.
func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, ErrorResponse{Error: message}, status)
}
