package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8000"

	runAgentPath = "/run-agent"
	downloadPath = "/download"
	healthPath   = "/health"

	maxErrorBodyBytes = 64 << 10
)

type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the agent backend. It has no notion of view state; the console
// session owns that.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid agent base URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid agent base URL %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid agent base URL %q: missing host", base)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// RunAgent issues one POST /run-agent. Any failure is returned as *RequestFailure.
func (c *Client) RunAgent(ctx context.Context, req RunRequest) (*RunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &RequestFailure{Op: "run-agent", Message: err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+runAgentPath, bytes.NewReader(body))
	if err != nil {
		return nil, &RequestFailure{Op: "run-agent", Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("agent request failed",
			zap.String("op", "run-agent"),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return nil, transportFailure("run-agent", err)
	}
	defer res.Body.Close()

	c.logger.Info("agent request",
		zap.String("op", "run-agent"),
		zap.Bool("make_ppt", req.MakePPT),
		zap.Bool("narrate", req.Narrate),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, statusFailure("run-agent", res)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, transportFailure("run-agent", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &RunResponse{}, nil
	}
	out, dropped := decodeRunResponse(raw)
	if len(dropped) > 0 {
		c.logger.Warn("agent response fields ignored",
			zap.String("op", "run-agent"),
			zap.Strings("fields", dropped),
		)
	}
	return &out, nil
}

// DownloadURL builds the /download link for a server-side path. The path is encoded
// the way a browser's encodeURIComponent would encode it.
func (c *Client) DownloadURL(path string) string {
	return c.baseURL + downloadPath + "?path=" + encodeURIComponent(path)
}

// Download fetches the file behind DownloadURL(path). The caller closes the body.
func (c *Client) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &RequestFailure{Op: "download", Message: "path is required"}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(path), nil)
	if err != nil {
		return nil, &RequestFailure{Op: "download", Message: err.Error(), Err: err}
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFailure("download", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, statusFailure("download", res)
	}
	c.logger.Debug("agent download", zap.String("path", path), zap.Int64("size", res.ContentLength))
	return res.Body, nil
}

// Health probes GET /health and expects {"ok": true}.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return &RequestFailure{Op: "health", Message: err.Error(), Err: err}
	}
	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure("health", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusFailure("health", res)
	}

	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxErrorBodyBytes)).Decode(&body); err != nil {
		return &RequestFailure{Op: "health", StatusCode: res.StatusCode, Message: "invalid health response", Err: err}
	}
	if !body.OK {
		return &RequestFailure{Op: "health", StatusCode: res.StatusCode, Message: "agent reported not ok"}
	}
	return nil
}

func transportFailure(op string, err error) *RequestFailure {
	msg := err.Error()
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		msg = uerr.Err.Error()
	}
	return &RequestFailure{Op: op, Message: msg, Err: err}
}

func statusFailure(op string, res *http.Response) *RequestFailure {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
	failure := &RequestFailure{
		Op:         op,
		StatusCode: res.StatusCode,
		Message:    fmt.Sprintf("request failed with status code %d", res.StatusCode),
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && strings.TrimSpace(body.Error) != "" {
		failure.Message = body.Error
		failure.ServerMessage = body.Error
	}
	return failure
}

// encodeURIComponent leaves A-Z a-z 0-9 and - _ . ! ~ * ' ( ) as they are and
// percent-encodes the UTF-8 bytes of everything else.
var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func encodeURIComponent(s string) string {
	return uriComponentReplacer.Replace(url.QueryEscape(s))
}
