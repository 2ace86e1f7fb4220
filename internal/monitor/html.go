package monitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Drone QR Scanner Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        :root { --bg:#101418; --panel:#1b2128; --fg:#e6edf3; --muted:#8b949e; --accent:#3fb950; }
        body { margin:0; background:var(--bg); color:var(--fg); font-family:system-ui,sans-serif; }
        .app { max-width:1400px; margin:0 auto; padding:16px; }
        .header { display:flex; justify-content:space-between; align-items:center; margin-bottom:12px; }
        .title { font-size:20px; font-weight:600; }
        .badge { padding:4px 10px; border-radius:12px; background:#30363d; font-size:12px; }
        .badge.live { background:var(--accent); color:#000; }
        .grid { display:grid; grid-template-columns:2fr 1fr; gap:12px; }
        .panel { background:var(--panel); border-radius:8px; padding:12px; }
        .panel h2 { margin:0 0 4px; font-size:16px; }
        .panel-subtitle { margin:0 0 10px; color:var(--muted); font-size:12px; }
        .stat-grid { display:grid; grid-template-columns:1fr 1fr; gap:8px; }
        .stat { background:#0d1117; border-radius:6px; padding:8px; }
        .stat-label { display:block; color:var(--muted); font-size:11px; }
        .stat-value { display:block; font-size:18px; font-weight:600; }
        .results { list-style:none; margin:0; padding:0; max-height:360px; overflow:auto; font-family:monospace; }
        .results li { padding:4px 0; border-bottom:1px solid #30363d; word-break:break-all; }
        .results li.new { color:var(--accent); }
        .keys { display:grid; grid-template-columns:repeat(4,1fr); gap:4px; font-size:12px; color:var(--muted); }
        .btn { background:#30363d; color:var(--fg); border:0; border-radius:6px; padding:6px 10px; cursor:pointer; }
        .muted { color:var(--muted); }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Drone QR Scanner</div>
            <span class="badge" id="status-badge">Waiting for video...</span>
        </div>

        <div class="grid">
            <div class="panel" style="grid-row: span 3;">
                <h2>Live Feed</h2>
                <p class="panel-subtitle">MJPEG preview. The green box is the scan area.</p>
                <img id="stream" src="/stream" alt="Live stream" style="width:100%;height:auto;background:#000;">
            </div>

            <div class="panel">
                <h2>Scanner</h2>
                <p class="panel-subtitle" id="session">session --</p>
                <div class="stat-grid">
                    <div class="stat"><span class="stat-label">Frame</span><span class="stat-value" id="frame">--</span></div>
                    <div class="stat"><span class="stat-label">Scan cycles</span><span class="stat-value" id="cycles">--</span></div>
                    <div class="stat"><span class="stat-label">Decode</span><span class="stat-value" id="decode">-- ms</span></div>
                    <div class="stat"><span class="stat-label">Preview FPS</span><span class="stat-value" id="fps">--</span></div>
                </div>
            </div>

            <div class="panel">
                <h2>Results <span class="muted" id="result-count">(0)</span></h2>
                <p class="panel-subtitle">Each payload is listed once, in the order first seen.</p>
                <ul class="results" id="results"><li class="muted">No codes yet.</li></ul>
                <p><a class="muted" href="/api/results" target="_blank">plain text log</a></p>
            </div>

            <div class="panel">
                <h2>Flight Control</h2>
                <p class="panel-subtitle" id="axes">throttle 0 / yaw 0 / pitch 0 / roll 0</p>
                <div class="keys">
                    <span>W/S throttle</span><span>A/D yaw</span><span>I/K pitch</span><span>J/L roll</span>
                    <span>G takeoff</span><span>H land</span><span>P gimbal</span><span></span>
                </div>
                <div style="margin-top:8px;display:flex;gap:8px;">
                    <button class="btn" id="btn-stop">Stop</button>
                    <button class="btn" id="btn-sweep">Yaw sweep</button>
                </div>
            </div>
        </div>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);
        const resultList = $('results');
        let resultCount = 0;

        function showAxes(a) {
            if (!a) return;
            $('axes').textContent = 'throttle ' + a.throttle.toFixed(2) + ' / yaw ' + a.yaw.toFixed(2) +
                ' / pitch ' + a.pitch.toFixed(2) + ' / roll ' + a.roll.toFixed(2);
        }

        function showStatus(s) {
            $('session').textContent = 'session ' + s.session_id;
            $('frame').textContent = s.frame.ready ? s.frame.width + 'x' + s.frame.height : '--';
            $('cycles').textContent = s.scan.cycles;
            $('decode').textContent = s.scan.decode_latency_ms + ' ms';
            $('fps').textContent = s.display.current_fps.toFixed(1);
            const badge = $('status-badge');
            badge.textContent = s.frame.ready ? 'Live #' + s.frame.seq : 'Waiting for video...';
            badge.className = s.frame.ready ? 'badge live' : 'badge';
            showAxes(s.control);
        }

        const status = new EventSource('/api/status/stream');
        status.onmessage = (e) => showStatus(JSON.parse(e.data));

        const results = new EventSource('/api/results/stream');
        results.onmessage = (e) => {
            const ev = JSON.parse(e.data);
            if (resultCount === 0) resultList.innerHTML = '';
            for (const li of resultList.querySelectorAll('li.new')) li.className = '';
            const li = document.createElement('li');
            li.className = 'new';
            li.textContent = ev.index + 1 + '. ' + ev.text;
            resultList.prepend(li);
            resultCount = ev.index + 1;
            $('result-count').textContent = '(' + resultCount + ')';
        };

        async function post(path, body) {
            const res = await fetch(path, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: body ? JSON.stringify(body) : null,
            });
            const data = await res.json().catch(() => ({}));
            showAxes(data.axes);
        }

        const bound = new Set(['W','S','A','D','I','K','J','L','G','H','P']);
        document.addEventListener('keydown', (e) => {
            const key = e.key.toUpperCase();
            if (!bound.has(key)) return;
            post('/api/control/key', {key, action: 'down'});
        });
        document.addEventListener('keyup', (e) => {
            const key = e.key.toUpperCase();
            if (!bound.has(key)) return;
            post('/api/control/key', {key, action: 'up'});
        });
        $('btn-stop').addEventListener('click', () => post('/api/control/stop'));
        $('btn-sweep').addEventListener('click', () => post('/api/control/sweep'));
    </script>
</body>
</html>
`
