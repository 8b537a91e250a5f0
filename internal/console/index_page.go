package console

import (
	"bytes"
	"html/template"
	"net/http"
)

type IndexPageData struct {
	SessionToken string
	APIBase      string
	Query        string
	Emails       string
}

var indexPageTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <meta name="processlens-session-token" content="{{.SessionToken}}" />
    <title>ProcessLens – Bottleneck Agent</title>
    <style>
      :root {
        --bg: #0b1020;
        --panel: #111832;
        --text: #e9edf7;
        --muted: #a5b0cc;
        --border: rgba(255, 255, 255, 0.10);
        --accent: #7aa2ff;
        --good: #2dd4bf;
        --warn: #fbbf24;
        --bad: #fb7185;
        --mono: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, "Liberation Mono", monospace;
        --sans: Inter, ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial, sans-serif;
      }

      * { box-sizing: border-box; }
      body {
        margin: 0;
        font-family: var(--sans);
        color: var(--text);
        background: radial-gradient(1200px 900px at 15% 10%, rgba(122,162,255,0.18), transparent 55%), var(--bg);
      }
      a { color: var(--accent); }

      main { max-width: 900px; margin: 0 auto; padding: 24px; }
      header { display: flex; align-items: center; justify-content: space-between; gap: 12px; }
      header h1 { font-size: 22px; margin: 0; }
      .meta { color: var(--muted); font-size: 12px; font-family: var(--mono); }

      label { display: block; font-weight: 600; margin-top: 18px; margin-bottom: 6px; }
      input[type=text] {
        width: 100%;
        padding: 10px;
        border-radius: 8px;
        border: 1px solid var(--border);
        background: var(--panel);
        color: var(--text);
      }

      .actions { display: flex; gap: 12px; margin-top: 16px; flex-wrap: wrap; }
      button {
        padding: 10px 14px;
        border-radius: 8px;
        border: 1px solid var(--border);
        background: #111;
        color: white;
        cursor: pointer;
      }
      button:disabled { opacity: 0.5; cursor: default; }
      button.secondary { background: transparent; }

      .badge {
        display: inline-flex;
        align-items: center;
        gap: 6px;
        padding: 4px 10px;
        border-radius: 999px;
        border: 1px solid var(--border);
        font-size: 12px;
        color: var(--muted);
      }
      .badge::before { content: ""; width: 8px; height: 8px; border-radius: 50%; background: var(--muted); }
      .badge[data-level=good]::before { background: var(--good); }
      .badge[data-level=warn]::before { background: var(--warn); }
      .badge[data-level=bad]::before { background: var(--bad); }

      .card {
        margin-top: 20px;
        padding: 16px;
        border: 1px solid var(--border);
        border-radius: 10px;
        background: var(--panel);
      }
      .card h3 { margin-top: 0; }
      .card table { border-collapse: collapse; }
      .card th, .card td { text-align: left; padding: 4px 12px 4px 0; font-family: var(--mono); font-size: 13px; }
      .working { color: var(--warn); }
      .error { color: var(--bad); white-space: pre-wrap; }
    </style>
  </head>
  <body>
    <main>
      <header>
        <h1>ProcessLens – Bottleneck Agent</h1>
        <div>
          <span class="badge" id="backend-badge" data-level="warn">Agent: checking…</span>
          <span class="badge" id="stream-badge" data-level="warn">Stream: connecting…</span>
        </div>
      </header>
      <div class="meta">Agent API: {{.APIBase}}</div>

      <label for="query">Query</label>
      <input type="text" id="query" value="{{.Query}}" placeholder="e.g., Last week bottlenecks in P2P" />

      <div class="actions">
        <button id="narrate" type="button">🔊 Analyze &amp; Narrate</button>
        <button id="ppt" type="button">📊 Generate PPT &amp; Email</button>
        <button id="cancel" type="button" class="secondary" disabled>Cancel</button>
      </div>

      <label for="emails">Email recipients (comma or space separated)</label>
      <input type="text" id="emails" value="{{.Emails}}" placeholder="owner@company.com manager@company.com" />

      <p class="error" id="action-error" hidden></p>
      <div id="view"></div>
    </main>

    <script>
      (function () {
        const tokenMeta = document.querySelector('meta[name="processlens-session-token"]');
        const sessionToken = tokenMeta ? tokenMeta.getAttribute('content') : '';

        async function fetchJSON(url, init) {
          const opts = init || {};
          if (opts.method === 'POST') {
            opts.headers = Object.assign({ 'Content-Type': 'application/json', 'X-Session-Token': sessionToken }, opts.headers || {});
          }
          const resp = await fetch(url, opts);
          const text = await resp.text();
          let data = null;
          try { data = text ? JSON.parse(text) : null; } catch (_) {}
          if (!resp.ok) {
            const msg = data && data.message ? data.message : ('HTTP ' + resp.status);
            const hint = data && data.hint ? (' Hint: ' + data.hint) : '';
            throw new Error(msg + hint);
          }
          return data;
        }

        function setBadge(id, level, text) {
          const el = document.getElementById(id);
          if (!el) return;
          el.setAttribute('data-level', level);
          el.textContent = text;
        }

        function showError(err) {
          const el = document.getElementById('action-error');
          if (!err) {
            el.hidden = true;
            el.textContent = '';
            return;
          }
          el.hidden = false;
          el.textContent = String(err && err.message ? err.message : err);
        }

        function applyLoading(loading) {
          document.getElementById('narrate').disabled = loading;
          document.getElementById('ppt').disabled = loading;
          document.getElementById('cancel').disabled = !loading;
        }

        let viewSeq = 0;
        async function refreshView() {
          const seq = ++viewSeq;
          try {
            const resp = await fetch('/api/view', { cache: 'no-store' });
            const html = await resp.text();
            if (seq === viewSeq) document.getElementById('view').innerHTML = html;
          } catch (_) {}
        }

        function applyState(state) {
          if (!state) return;
          applyLoading(!!state.loading);
          refreshView();
        }

        let inputTimer = null;
        function postInput() {
          return fetchJSON('/api/input', {
            method: 'POST',
            body: JSON.stringify({
              query: document.getElementById('query').value,
              emails: document.getElementById('emails').value,
            }),
          });
        }
        function pushInput() {
          clearTimeout(inputTimer);
          inputTimer = setTimeout(() => {
            inputTimer = null;
            postInput().catch(showError);
          }, 200);
        }
        document.getElementById('query').addEventListener('input', pushInput);
        document.getElementById('emails').addEventListener('input', pushInput);

        // Posts edits still waiting on the debounce before an action reads them.
        async function flushInput() {
          if (inputTimer === null) return;
          clearTimeout(inputTimer);
          inputTimer = null;
          await postInput();
        }

        async function dispatch(path) {
          showError(null);
          try {
            await flushInput();
            applyLoading(true);
            await fetchJSON(path, { method: 'POST', body: '{}' });
          } catch (e) {
            showError(e);
            const state = await fetchJSON('/api/state').catch(() => null);
            applyState(state);
          }
        }
        document.getElementById('narrate').addEventListener('click', () => dispatch('/api/narrate'));
        document.getElementById('ppt').addEventListener('click', () => dispatch('/api/ppt'));
        document.getElementById('cancel').addEventListener('click', async () => {
          try {
            await fetchJSON('/api/cancel', { method: 'POST', body: '{}' });
          } catch (e) {
            showError(e);
          }
        });

        async function checkBackend() {
          try {
            const data = await fetchJSON('/api/backend/health');
            if (data && data.ok) {
              setBadge('backend-badge', 'good', 'Agent: reachable');
            } else {
              setBadge('backend-badge', 'bad', 'Agent: unreachable');
            }
          } catch (_) {
            setBadge('backend-badge', 'bad', 'Agent: unknown');
          }
        }
        checkBackend();
        setInterval(checkBackend, 30000);

        fetchJSON('/api/state').then(applyState).catch(showError);

        try {
          const es = new EventSource('/api/stream');
          es.onopen = () => {
            setBadge('stream-badge', 'good', 'Stream: connected');
            fetchJSON('/api/state').then(applyState).catch(() => {});
          };
          es.onerror = () => setBadge('stream-badge', 'bad', 'Stream: disconnected');
          es.onmessage = (e) => {
            let ev = null;
            try { ev = JSON.parse(e.data); } catch (_) { return; }
            if (ev && ev.type === 'state') applyState(ev.data);
          };
        } catch (_) {
          setBadge('stream-badge', 'bad', 'Stream: unavailable');
        }
      })();
    </script>
  </body>
</html>
`))

func RenderIndexHTML(data IndexPageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := indexPageTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IndexHandler serves the console page. Inputs are seeded from the session so a
// reload shows what was last typed.
func (s *Session) IndexHandler(sessionToken, apiBase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := s.Snapshot()
		htmlBytes, err := RenderIndexHTML(IndexPageData{
			SessionToken: sessionToken,
			APIBase:      apiBase,
			Query:        snap.Query,
			Emails:       snap.Emails,
		})
		if err != nil {
			s.logger.Sugar().Warnf("render index page: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(htmlBytes)
	}
}
