package console

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogRequests_RecordsStatusAndPath(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	h := LogRequests(zap.New(core), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteAPIError(w, http.StatusConflict, APIError{Code: "RESOURCE_CONFLICT", Message: "busy"})
	}))

	req := httptest.NewRequest(http.MethodPost, "http://127.0.0.1/api/narrate?x=1", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 request log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/api/narrate" || fields["method"] != http.MethodPost {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["status"] != int64(http.StatusConflict) {
		t.Fatalf("expected status 409, got %v", fields["status"])
	}
	if fields["ip"] != "127.0.0.1" {
		t.Fatalf("unexpected ip %v", fields["ip"])
	}
}

func TestLogRequests_DefaultsToOKAndKeepsFlusher(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	flushed := false
	h := LogRequests(zap.New(core), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("expected recorder to implement http.Flusher")
			return
		}
		f.Flush()
		flushed = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stream", nil))

	if !flushed {
		t.Fatalf("handler did not flush")
	}
	if got := logs.All()[0].ContextMap()["status"]; got != int64(http.StatusOK) {
		t.Fatalf("expected status 200, got %v", got)
	}
}
