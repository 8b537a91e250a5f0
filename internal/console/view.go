package console

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Raw HTML in agent output is dropped by goldmark's default (unsafe off) renderer.
var analysisMarkdown = goldmark.New(
	goldmark.WithExtensions(
		extension.Strikethrough,
		extension.Linkify,
	),
)

func renderMarkdown(text string) template.HTML {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := analysisMarkdown.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

// renderInlineMarkdown renders a single list item without the wrapping paragraph.
func renderInlineMarkdown(text string) template.HTML {
	out := strings.TrimSpace(string(renderMarkdown(text)))
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") && strings.Count(out, "<p>") == 1 {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	return template.HTML(out)
}

type kpiRow struct {
	Name  string
	Value string
}

func sortedKPIs(kpis map[string]any) []kpiRow {
	rows := make([]kpiRow, 0, len(kpis))
	for k, v := range kpis {
		rows = append(rows, kpiRow{Name: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

var viewTmpl = template.Must(template.New("view").Funcs(template.FuncMap{
	"markdown": renderMarkdown,
	"inline":   renderInlineMarkdown,
	"kpis":     sortedKPIs,
}).Parse(`{{- if .Loading}}<p class="working" data-view="working">Working…</p>
{{end -}}
{{- with .Analysis}}<section class="card" data-view="analysis">
  <h3>Analysis</h3>
  {{- if .Summary}}
  <div class="summary"><strong>Summary:</strong> {{markdown .Summary}}</div>
  {{- end}}
  {{- if .Bullets}}
  <p><strong>Highlights:</strong></p>
  <ul class="bullets">{{range .Bullets}}<li>{{inline .}}</li>{{end}}</ul>
  {{- end}}
  {{- if .Actions}}
  <p><strong>Actions:</strong></p>
  <ul class="actions">{{range .Actions}}<li>{{inline .}}</li>{{end}}</ul>
  {{- end}}
</section>
{{end -}}
{{- if .KPIs}}<section class="card" data-view="kpis">
  <h3>Key metrics</h3>
  <table>{{range kpis .KPIs}}<tr><th>{{.Name}}</th><td>{{.Value}}</td></tr>{{end}}</table>
</section>
{{end -}}
{{- if .AudioURL}}<section class="card" data-view="audio">
  <h3>Narration</h3>
  <audio src="{{.AudioURL}}" controls></audio>
</section>
{{end -}}
{{- if .PPTLink}}<section class="card" data-view="presentation">
  <h3>Presentation</h3>
  <a href="{{.PPTLink}}">Download PPT</a>
</section>
{{end -}}
<section class="card" data-view="activity">
  <h3>Activity</h3>
  <ul class="log">{{range .Log}}<li>{{.}}</li>{{end}}</ul>
</section>
`))

// RenderView renders the result area of the console for snap.
func RenderView(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := viewTmpl.Execute(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderText writes the same blocks as RenderView in plain text.
func RenderText(w io.Writer, snap Snapshot) error {
	var b strings.Builder
	if snap.Loading {
		b.WriteString("Working…\n\n")
	}
	if a := snap.Analysis; a != nil {
		b.WriteString("== Analysis ==\n")
		if a.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", a.Summary)
		}
		if len(a.Bullets) > 0 {
			b.WriteString("Highlights:\n")
			for _, item := range a.Bullets {
				fmt.Fprintf(&b, "  - %s\n", item)
			}
		}
		if len(a.Actions) > 0 {
			b.WriteString("Actions:\n")
			for _, item := range a.Actions {
				fmt.Fprintf(&b, "  - %s\n", item)
			}
		}
		b.WriteString("\n")
	}
	if len(snap.KPIs) > 0 {
		b.WriteString("== Key metrics ==\n")
		for _, row := range sortedKPIs(snap.KPIs) {
			fmt.Fprintf(&b, "  %s: %s\n", row.Name, row.Value)
		}
		b.WriteString("\n")
	}
	if snap.AudioURL != "" {
		fmt.Fprintf(&b, "== Narration ==\n%s\n\n", snap.AudioURL)
	}
	if snap.PPTLink != "" {
		fmt.Fprintf(&b, "== Presentation ==\n%s\n\n", snap.PPTLink)
	}
	b.WriteString("== Activity ==\n")
	for _, line := range snap.Log {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
