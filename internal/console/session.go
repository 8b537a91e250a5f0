package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sine-io/processlens/internal/agent"
)

type Action string

const (
	ActionNarrate Action = "narrate"
	ActionPPT     Action = "ppt"
)

func (a Action) valid() bool {
	return a == ActionNarrate || a == ActionPPT
}

func (a Action) label() string {
	if a == ActionPPT {
		return "PPT"
	}
	return "Narrate"
}

var (
	// ErrBusy is returned when an action is dispatched while another one is in flight.
	ErrBusy = errors.New("a request is already in flight")
	// ErrCanceled is returned by a synchronous action whose request was cancelled.
	ErrCanceled = errors.New("request was cancelled")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("session is closed")
)

const (
	logNarrateDone = "Agent finished narration step."
	logPPTDone     = "Agent finished PPT step."
)

// AgentRunner is the part of *agent.Client the session needs.
type AgentRunner interface {
	RunAgent(ctx context.Context, req agent.RunRequest) (*agent.RunResponse, error)
	DownloadURL(path string) string
}

type SessionConfig struct {
	Agent AgentRunner
	// Query and Emails seed the two editable fields.
	Query  string
	Emails string
	// Timeout bounds each request; zero means no timeout.
	Timeout time.Duration
	Hub     *StreamHub
	Logger  *zap.Logger
	Now     func() time.Time
}

// Session is the console's view model: the editable inputs, the result of the last
// request and the activity log. At most one request is in flight at a time.
type Session struct {
	agent   AgentRunner
	timeout time.Duration
	hub     *StreamHub
	logger  *zap.Logger
	now     func() time.Time

	wg sync.WaitGroup

	mu     sync.Mutex
	view   viewState
	active *inflight
	closed bool
}

type inflight struct {
	id        string
	action    Action
	cancel    context.CancelFunc
	startedAt time.Time
}

type viewState struct {
	query     string
	emails    string
	analysis  *agent.Analysis
	kpis      map[string]any
	audioURL  string
	audioPath string
	pptLink   string
	pptPath   string
	log       []string
	updatedAt time.Time
}

// Snapshot is a point-in-time copy of the view state. Log is newest first.
type Snapshot struct {
	Query     string          `json:"query"`
	Emails    string          `json:"emails"`
	Loading   bool            `json:"loading"`
	Action    Action          `json:"action,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Analysis  *agent.Analysis `json:"analysis,omitempty"`
	KPIs      map[string]any  `json:"kpis,omitempty"`
	AudioURL  string          `json:"audioUrl,omitempty"`
	AudioPath string          `json:"audioPath,omitempty"`
	PPTLink   string          `json:"pptLink,omitempty"`
	PPTPath   string          `json:"pptPath,omitempty"`
	Log       []string        `json:"log"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("invalid timeout %s", cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		agent:   cfg.Agent,
		timeout: cfg.Timeout,
		hub:     cfg.Hub,
		logger:  logger,
		now:     now,
		view: viewState{
			query:     cfg.Query,
			emails:    cfg.Emails,
			updatedAt: now(),
		},
	}, nil
}

func (s *Session) SetQuery(query string) {
	s.mu.Lock()
	s.view.query = query
	s.view.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishState(snap)
}

func (s *Session) SetEmails(emails string) {
	s.mu.Lock()
	s.view.emails = emails
	s.view.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishState(snap)
}

// Narrate runs the analyze-and-narrate request and blocks until it settles. Request
// failures are recorded in the activity log and also returned.
func (s *Session) Narrate(ctx context.Context) error {
	return s.run(ctx, ActionNarrate)
}

// GeneratePPT runs the presentation-and-email request and blocks until it settles.
func (s *Session) GeneratePPT(ctx context.Context) error {
	return s.run(ctx, ActionPPT)
}

// Start dispatches action in the background and returns its request id. ErrBusy is
// reported synchronously.
func (s *Session) Start(action Action) (string, error) {
	if !action.valid() {
		return "", fmt.Errorf("unknown action %q", action)
	}
	run, ctx, req, err := s.begin(context.Background(), action)
	if err != nil {
		return "", err
	}
	go func() {
		_ = s.execute(ctx, run, req)
	}()
	return run.id, nil
}

// Cancel aborts the in-flight request, if any. Its response, should one still arrive,
// is discarded.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	run := s.active
	if run == nil {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.appendLogLocked(run.action.label() + " cancelled.")
	snap := s.snapshotLocked()
	s.mu.Unlock()

	run.cancel()
	s.publishFinished(run, "cancelled", nil)
	s.publishState(snap)
	return true
}

// Close refuses further actions, cancels any in-flight request and waits for running
// requests to return.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
	s.wg.Wait()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) run(ctx context.Context, action Action) error {
	run, runCtx, req, err := s.begin(ctx, action)
	if err != nil {
		return err
	}
	return s.execute(runCtx, run, req)
}

// begin claims the in-flight slot, resets the fields the action owns and builds the
// request from the current inputs.
func (s *Session) begin(parent context.Context, action Action) (*inflight, context.Context, agent.RunRequest, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, agent.RunRequest{}, ErrClosed
	}
	if s.active != nil {
		busy := s.active.action
		s.mu.Unlock()
		s.logger.Info("action rejected, request in flight",
			zap.String("action", string(action)),
			zap.String("busy_with", string(busy)),
		)
		return nil, nil, agent.RunRequest{}, ErrBusy
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	run := &inflight{
		id:        uuid.NewString(),
		action:    action,
		cancel:    cancel,
		startedAt: s.now(),
	}
	s.active = run
	s.wg.Add(1)

	req := agent.RunRequest{Query: s.view.query}
	switch action {
	case ActionNarrate:
		req.Narrate = true
		s.view.pptLink, s.view.pptPath = "", ""
		s.view.audioURL, s.view.audioPath = "", ""
		s.view.analysis, s.view.kpis = nil, nil
	case ActionPPT:
		req.MakePPT = true
		req.Emails = ParseRecipients(s.view.emails)
		s.view.pptLink, s.view.pptPath = "", ""
	}
	s.view.updatedAt = run.startedAt
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Publish(StreamEvent{
			RequestID: run.id,
			Type:      EventRequestStarted,
			Step:      string(action),
			Level:     "info",
			Data: map[string]any{
				"query":  req.Query,
				"emails": len(req.Emails),
			},
		})
	}
	s.publishState(snap)
	return run, ctx, req, nil
}

func (s *Session) execute(ctx context.Context, run *inflight, req agent.RunRequest) error {
	defer s.wg.Done()
	defer run.cancel()
	resp, err := s.agent.RunAgent(ctx, req)
	return s.finish(run, resp, err)
}

// finish applies the outcome of run unless run is no longer the current request.
func (s *Session) finish(run *inflight, resp *agent.RunResponse, err error) error {
	s.mu.Lock()
	if s.active != run {
		s.mu.Unlock()
		s.logger.Debug("discarding response of superseded request",
			zap.String("request_id", run.id),
			zap.String("action", string(run.action)),
			zap.NamedError("request_error", err),
		)
		return ErrCanceled
	}
	s.active = nil

	if err != nil {
		s.appendLogLocked(fmt.Sprintf("%s error: %s", run.action.label(), failureMessage(err)))
	} else {
		if resp == nil {
			resp = &agent.RunResponse{}
		}
		switch run.action {
		case ActionNarrate:
			s.applyNarrationLocked(resp)
		case ActionPPT:
			s.applyPresentationLocked(resp)
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Warn("agent request failed",
			zap.String("request_id", run.id),
			zap.String("action", string(run.action)),
			zap.Duration("elapsed", s.now().Sub(run.startedAt)),
			zap.Error(err),
		)
	}
	s.publishFinished(run, outcome, err)
	s.publishState(snap)
	return err
}

func (s *Session) applyNarrationLocked(resp *agent.RunResponse) {
	s.appendLogLocked(logNarrateDone)
	s.applyAnalysisLocked(resp)
	if resp.AudioPath != "" {
		s.view.audioPath = resp.AudioPath
		s.view.audioURL = s.agent.DownloadURL(resp.AudioPath)
	}
}

func (s *Session) applyPresentationLocked(resp *agent.RunResponse) {
	s.appendLogLocked(logPPTDone)
	if resp.PPTPath != "" {
		s.view.pptPath = resp.PPTPath
		s.view.pptLink = s.agent.DownloadURL(resp.PPTPath)
	}
	if resp.Email != nil {
		s.appendLogLocked(emailStatusLine(resp.Email))
	}
	s.applyAnalysisLocked(resp)
}

// applyAnalysisLocked treats analysis and kpis as one result: a new analysis replaces
// both, kpis alone only replace kpis.
func (s *Session) applyAnalysisLocked(resp *agent.RunResponse) {
	switch {
	case resp.Analysis != nil:
		s.view.analysis = cloneAnalysis(resp.Analysis)
		s.view.kpis = cloneKPIs(resp.KPIs)
	case resp.KPIs != nil:
		s.view.kpis = cloneKPIs(resp.KPIs)
	}
}

func emailStatusLine(status *agent.EmailStatus) string {
	if status.Sent {
		return "Email status: sent"
	}
	if status.Reason == "" {
		return "Email status: not sent"
	}
	return "Email status: not sent (" + status.Reason + ")"
}

func failureMessage(err error) string {
	var failure *agent.RequestFailure
	if errors.As(err, &failure) && failure.Message != "" {
		return failure.Message
	}
	return err.Error()
}

// appendLogLocked prepends line; the log is kept newest first.
func (s *Session) appendLogLocked(line string) {
	s.view.log = append(s.view.log, "")
	copy(s.view.log[1:], s.view.log)
	s.view.log[0] = line
	s.view.updatedAt = s.now()
	s.logger.Info("activity", zap.String("line", line))
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Query:     s.view.query,
		Emails:    s.view.emails,
		Analysis:  cloneAnalysis(s.view.analysis),
		KPIs:      cloneKPIs(s.view.kpis),
		AudioURL:  s.view.audioURL,
		AudioPath: s.view.audioPath,
		PPTLink:   s.view.pptLink,
		PPTPath:   s.view.pptPath,
		Log:       append([]string(nil), s.view.log...),
		UpdatedAt: s.view.updatedAt,
	}
	if snap.Log == nil {
		snap.Log = []string{}
	}
	if s.active != nil {
		snap.Loading = true
		snap.Action = s.active.action
		snap.RequestID = s.active.id
	}
	return snap
}

func (s *Session) publishState(snap Snapshot) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(StreamEvent{Type: EventState, Level: "info", Data: snap})
}

func (s *Session) publishFinished(run *inflight, outcome string, err error) {
	if s.hub == nil {
		return
	}
	level := "info"
	data := map[string]any{
		"outcome":    outcome,
		"durationMs": s.now().Sub(run.startedAt).Milliseconds(),
	}
	if err != nil {
		level = "error"
		data["message"] = failureMessage(err)
	}
	s.hub.Publish(StreamEvent{
		RequestID: run.id,
		Type:      EventRequestFinished,
		Step:      string(run.action),
		Level:     level,
		Data:      data,
	})
}

func cloneAnalysis(a *agent.Analysis) *agent.Analysis {
	if a == nil {
		return nil
	}
	out := &agent.Analysis{Summary: a.Summary}
	if a.Bullets != nil {
		out.Bullets = append([]string{}, a.Bullets...)
	}
	if a.Actions != nil {
		out.Actions = append([]string{}, a.Actions...)
	}
	return out
}

func cloneKPIs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
