package authz

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/latch-sh/latch/internal/domain/session"
)

// authorizeRequest accepts both naming conventions harnesses use:
// tool_name/tool_input (Claude hooks) and toolName/args (OpenClaw plugin).
type authorizeRequest struct {
	ToolName      string         `json:"tool_name"`
	ToolNameCamel string         `json:"toolName"`
	ToolInput     map[string]any `json:"tool_input"`
	Args          map[string]any `json:"args"`
}

func (r authorizeRequest) name() string {
	if r.ToolName != "" {
		return r.ToolName
	}
	return r.ToolNameCamel
}

func (r authorizeRequest) input() map[string]any {
	if r.ToolInput != nil {
		return r.ToolInput
	}
	return r.Args
}

type notifyRequest struct {
	Type                 string `json:"type"`
	LastAssistantMessage string `json:"last-assistant-message,omitempty"`
}

type resolveRequest struct {
	Keys []string `json:"keys"`
}

// handleAuthorize decides one tool call. The response may stay open for up
// to the approval timeout while the user is asked.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req authorizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.name() == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	res := s.supervisor.Authorize(r.Context(), sessionID, req.name(), req.input())
	if res.Allowed {
		s.metrics.DecisionsTotal.WithLabelValues("allow").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"decision": "allow"})
		return
	}
	s.metrics.DecisionsTotal.WithLabelValues("deny").Inc()
	writeJSON(w, http.StatusForbidden, map[string]any{
		"decision": "deny",
		"reason":   res.Reason,
	})
}

// handleNotify records a turn-complete observation.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req notifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if err := s.supervisor.Notify(r.Context(), sessionID, req.Type); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, "notify failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// feedRequest carries a progress update; status and message are synonyms.
type feedRequest struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (r feedRequest) text() string {
	if r.Status != "" {
		return r.Status
	}
	return r.Message
}

// handleFeed forwards a progress update from the harness to the UI.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req feedRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.text() == "" {
		writeError(w, http.StatusBadRequest, "status or message is required")
		return
	}
	if err := s.supervisor.Feed(r.Context(), sessionID, req.text()); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, "feed failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSecretsResolve returns vault values for the requested keys. Keys
// the vault cannot resolve are omitted rather than failing the batch, so a
// wrapper can start a server that needs only some of its credentials.
func (s *Server) handleSecretsResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	resolved := make(map[string]string, len(req.Keys))
	if s.vault != nil {
		for _, key := range req.Keys {
			val, err := s.vault.Resolve(r.Context(), key)
			if err != nil {
				s.logger.Warn("secret unresolved", slog.String("key", key))
				continue
			}
			resolved[key] = val
		}
	}
	s.logger.Info("secrets resolved",
		slog.Int("requested", len(req.Keys)),
		slog.Int("resolved", len(resolved)))
	writeJSON(w, http.StatusOK, map[string]any{"resolved": resolved})
}

// decode parses the JSON body, mapping oversize bodies to 413 and anything
// malformed to 400. Returns false when a response has been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty body decodes to the zero value.
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			// MaxBytesReader already arranged for the connection to close.
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
