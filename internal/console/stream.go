package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultMaxEventsPerRequest = 500
	DefaultMaxTrackedRequests  = 64
)

// Event types published by the console.
const (
	EventState           = "state"
	EventRequestStarted  = "request_started"
	EventRequestFinished = "request_finished"
	EventReplayTruncated = "replay_truncated"
)

type StreamEvent struct {
	TS        string `json:"ts"`
	Seq       uint64 `json:"seq,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Type      string `json:"type"`
	Step      string `json:"step,omitempty"`
	Level     string `json:"level,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type StreamHubConfig struct {
	MaxEventsPerRequest int
	MaxTrackedRequests  int
	SubscriberBufSize   int
}

// StreamHub fans console events out to SSE subscribers. Events tagged with a request
// id are also kept per request so a late subscriber can replay them.
type StreamHub struct {
	mu       sync.Mutex
	requests map[string]*streamRequestState
	order    []string

	globalSubs  map[chan StreamEvent]struct{}
	requestSubs map[string]map[chan StreamEvent]struct{}

	maxEventsPerRequest int
	maxTrackedRequests  int
	subscriberBufSize   int
}

type streamRequestState struct {
	nextSeq uint64
	events  []StreamEvent

	truncateEmitted bool
}

func NewStreamHub(cfg StreamHubConfig) *StreamHub {
	maxEvents := cfg.MaxEventsPerRequest
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEventsPerRequest
	}
	maxRequests := cfg.MaxTrackedRequests
	if maxRequests <= 0 {
		maxRequests = DefaultMaxTrackedRequests
	}
	bufSize := cfg.SubscriberBufSize
	if bufSize <= 0 {
		bufSize = 128
	}

	return &StreamHub{
		requests:            make(map[string]*streamRequestState),
		globalSubs:          make(map[chan StreamEvent]struct{}),
		requestSubs:         make(map[string]map[chan StreamEvent]struct{}),
		maxEventsPerRequest: maxEvents,
		maxTrackedRequests:  maxRequests,
		subscriberBufSize:   bufSize,
	}
}

// Publish stamps and delivers event. Slow subscribers miss events rather than block
// the publisher. Sends happen under h.mu so an unsubscribe cannot close a channel
// mid-send.
func (h *StreamHub) Publish(event StreamEvent) StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	event = h.recordLocked(event)
	for ch := range h.globalSubs {
		trySend(ch, event)
	}
	if event.RequestID != "" {
		for ch := range h.requestSubs[event.RequestID] {
			trySend(ch, event)
		}
	}
	return event
}

func trySend(ch chan StreamEvent, event StreamEvent) {
	select {
	case ch <- event:
	default:
	}
}

func (h *StreamHub) recordLocked(event StreamEvent) StreamEvent {
	if event.TS == "" {
		event.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.RequestID == "" {
		return event
	}

	state := h.requestStateLocked(event.RequestID)
	state.nextSeq++
	event.Seq = state.nextSeq

	state.events = append(state.events, event)
	if len(state.events) > h.maxEventsPerRequest {
		state.events = state.events[len(state.events)-h.maxEventsPerRequest:]
	}
	return event
}

func (h *StreamHub) requestStateLocked(requestID string) *streamRequestState {
	if state, ok := h.requests[requestID]; ok {
		return state
	}
	state := &streamRequestState{}
	h.requests[requestID] = state
	h.order = append(h.order, requestID)
	for len(h.order) > h.maxTrackedRequests {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.requests, oldest)
	}
	return state
}

func (h *StreamHub) SubscribeAll() (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, h.subscriberBufSize)
	h.mu.Lock()
	h.globalSubs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.globalSubs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// ReplayAndSubscribe returns the retained events of requestID newer than sinceSeq and
// a channel for the ones that follow. truncated reports that older events were dropped.
func (h *StreamHub) ReplayAndSubscribe(requestID string, sinceSeq uint64) (replay []StreamEvent, ch <-chan StreamEvent, unsubscribe func(), truncated bool) {
	if requestID == "" {
		events, unsub := h.SubscribeAll()
		return nil, events, unsub, false
	}

	subCh := make(chan StreamEvent, h.subscriberBufSize)

	h.mu.Lock()
	state := h.requestStateLocked(requestID)
	if len(state.events) > 0 && state.events[0].Seq > sinceSeq+1 {
		truncated = true
	}
	for _, ev := range state.events {
		if ev.Seq > sinceSeq {
			replay = append(replay, ev)
		}
	}
	if h.requestSubs[requestID] == nil {
		h.requestSubs[requestID] = make(map[chan StreamEvent]struct{})
	}
	h.requestSubs[requestID][subCh] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return replay, subCh, func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.requestSubs[requestID]; ok {
				delete(subs, subCh)
				if len(subs) == 0 {
					delete(h.requestSubs, requestID)
				}
			}
			h.mu.Unlock()
			close(subCh)
		})
	}, truncated
}

func (h *StreamHub) maybeEmitReplayTruncated(requestID string) {
	if requestID == "" {
		return
	}

	h.mu.Lock()
	state := h.requestStateLocked(requestID)
	if state.truncateEmitted {
		h.mu.Unlock()
		return
	}
	state.truncateEmitted = true
	h.mu.Unlock()

	h.Publish(StreamEvent{
		RequestID: requestID,
		Type:      EventReplayTruncated,
		Step:      "stream",
		Level:     "warn",
		Data:      map[string]any{"note": "replay truncated; some events missing"},
	})
}

func StreamHandler(hub *StreamHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.URL.Query().Get("requestId")
		sinceSeq := uint64(0)
		if requestID != "" {
			if raw := r.URL.Query().Get("sinceSeq"); raw != "" {
				n, err := strconv.ParseUint(raw, 10, 64)
				if err != nil {
					WriteAPIError(w, http.StatusBadRequest, APIError{
						Code:    "INVALID_QUERY",
						Message: "sinceSeq must be an unsigned integer.",
						Hint:    "Use /api/stream?requestId=<id>&sinceSeq=<n>.",
					})
					return
				}
				sinceSeq = n
			}
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteAPIError(w, http.StatusInternalServerError, APIError{
				Code:    "STREAM_UNSUPPORTED",
				Message: "Streaming is not supported by this server.",
			})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		_, _ = w.Write([]byte(": ok\n\n"))
		flusher.Flush()

		replay, ch, unsubscribe, truncated := hub.ReplayAndSubscribe(requestID, sinceSeq)
		defer unsubscribe()

		for _, ev := range replay {
			if err := writeSSEData(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
		if truncated {
			hub.maybeEmitReplayTruncated(requestID)
		}

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := writeSSEData(w, ev); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSEData(w http.ResponseWriter, ev StreamEvent) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}
	payload := bytes.TrimRight(buf.Bytes(), "\n")
	if bytes.Contains(payload, []byte("\n")) {
		return fmt.Errorf("SSE payload must be single-line JSON")
	}

	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
