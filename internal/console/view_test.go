package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sine-io/processlens/internal/agent"
)

func TestRenderView_EmptySnapshotShowsOnlyActivity(t *testing.T) {
	t.Parallel()

	out, err := RenderView(Snapshot{Log: []string{}})
	if err != nil {
		t.Fatalf("RenderView error: %v", err)
	}
	html := string(out)
	for _, block := range []string{`data-view="working"`, `data-view="analysis"`, `data-view="audio"`, `data-view="presentation"`, `data-view="kpis"`} {
		if strings.Contains(html, block) {
			t.Fatalf("unexpected block %s in %s", block, html)
		}
	}
	if !strings.Contains(html, `data-view="activity"`) {
		t.Fatalf("expected activity block, got %s", html)
	}
}

func TestRenderView_RendersPopulatedBlocks(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Loading:  true,
		Analysis: &agent.Analysis{Summary: "Approvals **stall**", Bullets: []string{"Approve PO waits 54h"}},
		KPIs:     map[string]any{"rework_rate": 0.18, "avg_cycle_time_days": 12.4},
		AudioURL: "http://localhost:8000/download?path=%2Ftmp%2Fa.mp3",
		PPTLink:  "http://localhost:8000/download?path=%2Ftmp%2Fout.pptx",
		Log:      []string{"Email status: sent", "Agent finished PPT step."},
	}
	out, err := RenderView(snap)
	if err != nil {
		t.Fatalf("RenderView error: %v", err)
	}
	html := string(out)

	mustContain := []string{
		"Working…",
		"<strong>stall</strong>",
		"<li>Approve PO waits 54h</li>",
		`<audio src="http://localhost:8000/download?path=%2Ftmp%2Fa.mp3" controls>`,
		`<a href="http://localhost:8000/download?path=%2Ftmp%2Fout.pptx">Download PPT</a>`,
		"<th>avg_cycle_time_days</th><td>12.4</td>",
	}
	for _, want := range mustContain {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in:\n%s", want, html)
		}
	}
	if strings.Contains(html, "Actions:") {
		t.Fatalf("empty actions must not render, got:\n%s", html)
	}
	if strings.Index(html, "Email status: sent") > strings.Index(html, "Agent finished PPT step.") {
		t.Fatalf("expected newest log line first")
	}
	if strings.Index(html, "avg_cycle_time_days") > strings.Index(html, "rework_rate") {
		t.Fatalf("expected kpis sorted by name")
	}
}

func TestRenderView_EscapesAgentText(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Analysis: &agent.Analysis{
			Summary: `<script>alert(1)</script> ok`,
			Actions: []string{`<img src=x onerror=alert(1)>`},
		},
		Log: []string{`Narrate error: <b>bad</b>`},
	}
	out, err := RenderView(snap)
	if err != nil {
		t.Fatalf("RenderView error: %v", err)
	}
	html := string(out)
	if strings.Contains(html, "<script>") || strings.Contains(html, "<img") || strings.Contains(html, "<b>bad</b>") {
		t.Fatalf("agent text must not inject markup:\n%s", html)
	}
	if !strings.Contains(html, "&lt;b&gt;bad&lt;/b&gt;") {
		t.Fatalf("expected escaped log line:\n%s", html)
	}
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := RenderText(&buf, Snapshot{
		Analysis: &agent.Analysis{Summary: "S", Actions: []string{"Auto-route approvals"}},
		AudioURL: "http://localhost:8000/download?path=%2Ftmp%2Fa.mp3",
		Log:      []string{"Agent finished narration step."},
	})
	if err != nil {
		t.Fatalf("RenderText error: %v", err)
	}
	text := buf.String()
	for _, want := range []string{"Summary: S", "  - Auto-route approvals", "== Narration ==\nhttp://localhost:8000/download?path=%2Ftmp%2Fa.mp3", "  Agent finished narration step."} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Highlights") || strings.Contains(text, "Presentation") {
		t.Fatalf("unexpected empty blocks in:\n%s", text)
	}
}
