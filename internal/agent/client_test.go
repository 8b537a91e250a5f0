package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c, srv
}

func TestNewClient_ValidatesBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"ftp://example.com", "localhost:8000", "http://"} {
		if _, err := NewClient(ClientConfig{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for base URL %q", raw)
		}
	}

	c, err := NewClient(ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient default error: %v", err)
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Fatalf("expected default base URL %q, got %q", DefaultBaseURL, c.BaseURL())
	}
}

func TestClient_DownloadURL_EncodesPath(t *testing.T) {
	t.Parallel()

	c, err := NewClient(ClientConfig{BaseURL: "http://localhost:8000/"})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	cases := map[string]string{
		"/tmp/a.mp3":              "http://localhost:8000/download?path=%2Ftmp%2Fa.mp3",
		"/tmp/out.pptx":           "http://localhost:8000/download?path=%2Ftmp%2Fout.pptx",
		"./outputs/my deck&v=2.x": "http://localhost:8000/download?path=.%2Foutputs%2Fmy%20deck%26v%3D2.x",
		"/tmp/report (1)!.pptx":   "http://localhost:8000/download?path=%2Ftmp%2Freport%20(1)!.pptx",
		"it's*~_-.mp3":            "http://localhost:8000/download?path=it's*~_-.mp3",
		"a+b/ü":                   "http://localhost:8000/download?path=a%2Bb%2F%C3%BC",
	}
	for in, want := range cases {
		if got := c.DownloadURL(in); got != want {
			t.Fatalf("DownloadURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClient_RunAgent_SendsBodyAndDecodesResponse(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run-agent" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"analysis":{"summary":"S","bullets":["b1"]},"audio_path":"/tmp/a.mp3","kpis":{"rework_rate":0.18}}`)
	}))

	resp, err := c.RunAgent(context.Background(), RunRequest{Query: "q", Narrate: true})
	if err != nil {
		t.Fatalf("RunAgent error: %v", err)
	}

	got := <-bodies
	if got["query"] != "q" || got["narrate"] != true || got["make_ppt"] != false {
		t.Fatalf("unexpected request body: %v", got)
	}
	if _, ok := got["emails"]; ok {
		t.Fatalf("expected emails to be omitted for nil slice, got %v", got["emails"])
	}
	if resp.Analysis == nil || resp.Analysis.Summary != "S" || len(resp.Analysis.Bullets) != 1 {
		t.Fatalf("unexpected analysis: %+v", resp.Analysis)
	}
	if resp.Analysis.Actions != nil {
		t.Fatalf("expected missing actions to stay nil, got %v", resp.Analysis.Actions)
	}
	if resp.AudioPath != "/tmp/a.mp3" {
		t.Fatalf("unexpected audio path %q", resp.AudioPath)
	}
	if resp.KPIs["rework_rate"] != 0.18 {
		t.Fatalf("unexpected kpis %v", resp.KPIs)
	}
}

func TestClient_RunAgent_KeepsUsableFieldsOfMalformedReply(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"analysis":{"summary":"S","bullets":[{"text":"x"},"b2"],"actions":"none"},`+
			`"audio_path":"/tmp/a.mp3","ppt_path":42,"email":{"sent":"yes","reason":null},"kpis":[1]}`)
	}))

	resp, err := c.RunAgent(context.Background(), RunRequest{Query: "q", Narrate: true})
	if err != nil {
		t.Fatalf("RunAgent error: %v", err)
	}
	if resp.AudioPath != "/tmp/a.mp3" {
		t.Fatalf("expected audio path to survive, got %q", resp.AudioPath)
	}
	if resp.Analysis == nil || resp.Analysis.Summary != "S" {
		t.Fatalf("expected summary to survive, got %+v", resp.Analysis)
	}
	if len(resp.Analysis.Bullets) != 1 || resp.Analysis.Bullets[0] != "b2" || resp.Analysis.Actions != nil {
		t.Fatalf("unexpected analysis lists %+v", resp.Analysis)
	}
	if resp.PPTPath != "" || resp.KPIs != nil {
		t.Fatalf("expected wrong-typed fields to be dropped, got %+v", resp)
	}
	if resp.Email == nil || !resp.Email.Sent || resp.Email.Reason != "" {
		t.Fatalf("unexpected email status %+v", resp.Email)
	}
}

func TestClient_RunAgent_NonJSONSuccessIsEmptyReply(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>ok</html>")
	}))

	resp, err := c.RunAgent(context.Background(), RunRequest{Query: "q", MakePPT: true})
	if err != nil {
		t.Fatalf("RunAgent error: %v", err)
	}
	if resp.Analysis != nil || resp.PPTPath != "" || resp.Email != nil {
		t.Fatalf("expected empty reply, got %+v", resp)
	}
}

func TestClient_RunAgent_SendsEmptyEmailList(t *testing.T) {
	t.Parallel()

	bodies := make(chan string, 1)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
	}))

	resp, err := c.RunAgent(context.Background(), RunRequest{Query: "q", MakePPT: true, Emails: []string{}})
	if err != nil {
		t.Fatalf("RunAgent error: %v", err)
	}
	raw := <-bodies
	if !strings.Contains(raw, `"emails":[]`) {
		t.Fatalf("expected empty emails list in body, got %s", raw)
	}
	if resp.Analysis != nil || resp.PPTPath != "" {
		t.Fatalf("expected empty response for empty body, got %+v", resp)
	}
}

func TestClient_RunAgent_ServerErrorMessage(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"agent timeout"}`)
	}))

	_, err := c.RunAgent(context.Background(), RunRequest{Query: "q"})
	var failure *RequestFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *RequestFailure, got %T (%v)", err, err)
	}
	if failure.Message != "agent timeout" || failure.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if failure.Transport() {
		t.Fatalf("expected application failure, got transport")
	}
}

func TestClient_RunAgent_StatusWithoutErrorBody(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.RunAgent(context.Background(), RunRequest{Query: "q"})
	var failure *RequestFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *RequestFailure, got %T", err)
	}
	if failure.Message != "request failed with status code 500" {
		t.Fatalf("unexpected message %q", failure.Message)
	}
}

func TestClient_RunAgent_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: base})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	_, err = c.RunAgent(context.Background(), RunRequest{Query: "q"})
	var failure *RequestFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *RequestFailure, got %T", err)
	}
	if !failure.Transport() || failure.Message == "" {
		t.Fatalf("expected transport failure with message, got %+v", failure)
	}
}

func TestClient_RunAgent_ContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.RunAgent(ctx, RunRequest{Query: "q"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClient_Download(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("path") != "/tmp/a b.mp3" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"file not found"}`)
			return
		}
		_, _ = io.WriteString(w, "ID3")
	}))

	body, err := c.Download(context.Background(), "/tmp/a b.mp3")
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	b, _ := io.ReadAll(body)
	_ = body.Close()
	if string(b) != "ID3" {
		t.Fatalf("unexpected body %q", b)
	}

	_, err = c.Download(context.Background(), "/missing")
	var failure *RequestFailure
	if !errors.As(err, &failure) || failure.Message != "file not found" {
		t.Fatalf("expected file not found failure, got %v", err)
	}
}

func TestClient_Health(t *testing.T) {
	t.Parallel()

	var ok atomic.Bool
	ok.Store(true)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": ok.Load()})
	}))

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health error: %v", err)
	}
	ok.Store(false)
	if err := c.Health(context.Background()); err == nil {
		t.Fatalf("expected error when agent reports not ok")
	}
}
