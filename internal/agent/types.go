package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RunRequest is the body of POST /run-agent.
//
// Emails is only put on the wire when non-nil, so the narration action can omit the
// key while the PPT action still sends an empty list when no recipient was typed.
type RunRequest struct {
	Query   string
	MakePPT bool
	Narrate bool
	Emails  []string
}

func (r RunRequest) MarshalJSON() ([]byte, error) {
	type wire struct {
		Query   string    `json:"query"`
		MakePPT bool      `json:"make_ppt"`
		Narrate bool      `json:"narrate"`
		Emails  *[]string `json:"emails,omitempty"`
	}
	w := wire{Query: r.Query, MakePPT: r.MakePPT, Narrate: r.Narrate}
	if r.Emails != nil {
		emails := r.Emails
		w.Emails = &emails
	}
	return json.Marshal(w)
}

type Analysis struct {
	Summary string   `json:"summary,omitempty"`
	Bullets []string `json:"bullets,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

type EmailStatus struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

// RunResponse mirrors the agent's reply. Every field is optional.
type RunResponse struct {
	Analysis  *Analysis      `json:"analysis,omitempty"`
	AudioPath string         `json:"audio_path,omitempty"`
	PPTPath   string         `json:"ppt_path,omitempty"`
	Email     *EmailStatus   `json:"email,omitempty"`
	KPIs      map[string]any `json:"kpis,omitempty"`
	Narration string         `json:"narration,omitempty"`
}

// decodeRunResponse reads the fields it can understand from raw and reports the
// names of the ones it had to drop. A body that is not a JSON object yields an empty
// response.
func decodeRunResponse(raw []byte) (RunResponse, []string) {
	var out RunResponse
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out, []string{"body"}
	}

	var dropped []string
	for name, value := range fields {
		if isJSONNull(value) {
			continue
		}
		ok := true
		switch name {
		case "analysis":
			out.Analysis, ok = decodeAnalysis(value)
		case "audio_path":
			ok = json.Unmarshal(value, &out.AudioPath) == nil
		case "ppt_path":
			ok = json.Unmarshal(value, &out.PPTPath) == nil
		case "narration":
			ok = json.Unmarshal(value, &out.Narration) == nil
		case "email":
			out.Email, ok = decodeEmailStatus(value)
		case "kpis":
			ok = json.Unmarshal(value, &out.KPIs) == nil
		}
		if !ok {
			dropped = append(dropped, name)
		}
	}
	return out, dropped
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// decodeAnalysis keeps the string parts of an analysis object. List items that are
// not strings are skipped.
func decodeAnalysis(raw json.RawMessage) (*Analysis, bool) {
	var fields struct {
		Summary json.RawMessage `json:"summary"`
		Bullets json.RawMessage `json:"bullets"`
		Actions json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	out := &Analysis{}
	complete := true
	if len(fields.Summary) > 0 && !isJSONNull(fields.Summary) {
		if err := json.Unmarshal(fields.Summary, &out.Summary); err != nil {
			complete = false
		}
	}
	var ok bool
	out.Bullets, ok = stringItems(fields.Bullets)
	complete = complete && ok
	out.Actions, ok = stringItems(fields.Actions)
	complete = complete && ok
	return out, complete
}

func stringItems(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || isJSONNull(raw) {
		return nil, true
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	ok := true
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			ok = false
			continue
		}
		out = append(out, s)
	}
	return out, ok
}

// decodeEmailStatus reads "sent" with JavaScript truthiness, so "yes" or 1 count as
// sent and a missing value as not sent.
func decodeEmailStatus(raw json.RawMessage) (*EmailStatus, bool) {
	var fields struct {
		Sent   any `json:"sent"`
		Reason any `json:"reason"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	out := &EmailStatus{Sent: truthy(fields.Sent)}
	switch reason := fields.Reason.(type) {
	case nil:
	case string:
		out.Reason = reason
	default:
		b, _ := json.Marshal(reason)
		out.Reason = string(b)
	}
	return out, true
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}

// RequestFailure covers both "no response" and non-2xx replies. Message is what gets
// shown to the user: the server's {"error"} text when present, the transport error
// otherwise.
type RequestFailure struct {
	Op            string
	StatusCode    int
	Message       string
	ServerMessage string
	Err           error
}

func (e *RequestFailure) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RequestFailure) Unwrap() error {
	return e.Err
}

// Transport reports whether the request never produced an HTTP response.
func (e *RequestFailure) Transport() bool {
	return e.StatusCode == 0
}
