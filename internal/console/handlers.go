package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

const maxInputBodyBytes = 64 << 10

type inputRequest struct {
	Query  *string `json:"query"`
	Emails *string `json:"emails"`
}

// StateHandler serves the current Snapshot as JSON.
func (s *Session) StateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// ViewHandler serves the rendered result area.
func (s *Session) ViewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := RenderView(s.Snapshot())
		if err != nil {
			s.logger.Sugar().Warnf("render view: %v", err)
			WriteAPIError(w, http.StatusInternalServerError, APIError{
				Code:    "RENDER_FAILED",
				Message: "Failed to render the console view.",
			})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

// InputHandler updates the query and recipients fields. Absent fields are left as is.
func (s *Session) InputHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req inputRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxInputBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			WriteAPIError(w, http.StatusBadRequest, APIError{
				Code:    "BAD_JSON",
				Message: "Invalid JSON request body.",
				Hint:    `Send {"query":"...","emails":"a@x.com, b@y.com"}.`,
			})
			return
		}
		if req.Query != nil {
			s.SetQuery(*req.Query)
		}
		if req.Emails != nil {
			s.SetEmails(*req.Emails)
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// ActionHandler dispatches action in the background and answers 202 with its request id.
func (s *Session) ActionHandler(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := s.Start(action)
		if errors.Is(err, ErrBusy) {
			WriteAPIError(w, http.StatusConflict, APIError{
				Code:    "RESOURCE_CONFLICT",
				Message: "Another request is already in flight.",
				Hint:    "Wait for the current request to finish or cancel it, then retry.",
			})
			return
		}
		if errors.Is(err, ErrClosed) {
			WriteAPIError(w, http.StatusServiceUnavailable, APIError{
				Code:    "SHUTTING_DOWN",
				Message: "The console is shutting down.",
			})
			return
		}
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, APIError{
				Code:    "INVALID_ACTION",
				Message: err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "requestId": requestID})
	}
}

func (s *Session) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cancelled": s.Cancel()})
	}
}

// HealthChecker reports whether the agent backend is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// BackendHealthHandler probes the agent backend. The response is always 200; the
// body carries the outcome so the page can show a badge.
func BackendHealthHandler(checker HealthChecker, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := checker.Health(ctx); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
