package dashboard

import (
	"html/template"
	"net/http"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>NodeWatch</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 2rem; background: #11151c; color: #e6e8eb; }
  h1 { font-size: 1.4rem; }
  table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
  th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #2a2f38; }
  .sev { padding: 0.1rem 0.5rem; border-radius: 3px; font-size: 0.85rem; }
  .sev-ok { background: #1d5c3a; }
  .sev-warning { background: #8a6d1a; }
  .sev-critical { background: #8a1a1a; }
  .sev-unknown { background: #4a4a4a; }
  #summary { margin-top: 0.5rem; color: #9aa3ad; }
  #error { color: #e07070; }
</style>
</head>
<body>
<h1>NodeWatch <span id="overall"></span></h1>
<div id="summary"></div>
<div id="error"></div>
<table>
  <thead>
    <tr><th>Node</th><th>Status</th><th>Memory</th><th>Disk</th><th>Load</th><th>Detail</th></tr>
  </thead>
  <tbody id="nodes"></tbody>
</table>
<script>
const refreshMS = {{.RefreshMS}};
const authEnabled = {{.AuthEnabled}};

function sev(name) {
  return '<span class="sev sev-' + name + '">' + name.toUpperCase() + '</span>';
}

function pct(v) { return v === undefined ? '-' : v.toFixed(1) + '%'; }

function render(report) {
  document.getElementById('overall').innerHTML = sev(report.overall);
  const s = report.summary;
  document.getElementById('summary').textContent =
    'cycle ' + report.cycle + ' | ' + s.total + ' nodes: ' +
    s.ok + ' ok, ' + s.warning + ' warning, ' + s.critical + ' critical, ' + s.unknown + ' unknown';
  const rows = report.nodes.map(function(n) {
    const snap = n.snapshot || {};
    let load = '-';
    if (snap.load) { load = snap.load.load1.toFixed(2); }
    return '<tr><td>' + n.node + '</td><td>' + sev(n.overall) + '</td><td>' +
      pct(snap.memory_percent) + '</td><td>' + pct(snap.disk_percent) + '</td><td>' +
      load + '</td><td>' + (n.error || n.remediation_note || '') + '</td></tr>';
  });
  document.getElementById('nodes').innerHTML = rows.join('');
}

function token() { return localStorage.getItem('nodewatch_token') || ''; }

async function poll() {
  const headers = {};
  if (authEnabled && token()) { headers['Authorization'] = 'Bearer ' + token(); }
  try {
    const resp = await fetch('/api/v1/report', { headers: headers });
    if (resp.status === 401) {
      document.getElementById('error').textContent = 'unauthorized: set nodewatch_token in local storage';
      return;
    }
    if (!resp.ok) { return; }
    render(await resp.json());
    document.getElementById('error').textContent = '';
  } catch (e) {
    document.getElementById('error').textContent = 'dashboard unreachable';
  }
}

function connect() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  let url = proto + '//' + location.host + '/ws';
  if (authEnabled && token()) { url += '?token=' + encodeURIComponent(token()); }
  const ws = new WebSocket(url);
  ws.onmessage = function(ev) { render(JSON.parse(ev.data)); };
  ws.onclose = function() { setTimeout(connect, refreshMS); };
}

poll();
setInterval(poll, refreshMS);
connect();
</script>
</body>
</html>
`))

type pageData struct {
	RefreshMS   int64
	AuthEnabled bool
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := pageData{
		RefreshMS:   s.cfg.GetRefreshInterval().Milliseconds(),
		AuthEnabled: s.authSvc != nil,
	}
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to render index page", "error", err)
	}
}
