package monitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Crashwatch Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: sans-serif; background: #18181c; color: #eee; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 12px 20px; background: #222; }
        .title { font-size: 20px; font-weight: bold; }
        .badge { padding: 4px 10px; border-radius: 10px; background: #444; font-size: 13px; }
        .badge.crash { background: #c62828; }
        .badge.ok { background: #2e7d32; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #222; border-radius: 8px; padding: 12px; }
        .panel h2 { margin: 0 0 8px; font-size: 16px; }
        img { width: 100%; height: auto; display: block; background: #000; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { padding: 4px; border-bottom: 1px solid #333; text-align: left; }
        .crash-row { color: #ef5350; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">Crashwatch Monitor</div>
        <span class="badge" id="status-badge">Waiting for data...</span>
    </div>
    <div class="grid">
        <div class="panel">
            <h2>Live View</h2>
            <img id="stream" src="/stream" alt="Schematic detection view">
        </div>
        <div>
            <div class="panel">
                <h2>Analyzer</h2>
                <table>
                    <tr><td>Frames</td><td id="frame-number">-</td></tr>
                    <tr><td>Detections</td><td id="detection-count">-</td></tr>
                    <tr><td>Last crash</td><td id="last-crash">never</td></tr>
                    <tr><td>IoU threshold</td><td id="iou-threshold">-</td></tr>
                    <tr><td>Objects</td><td id="objects">-</td></tr>
                </table>
            </div>
            <div class="panel" style="margin-top:16px;">
                <h2>Crash History</h2>
                <table id="history"><tr><th>Time</th><th>Frame</th><th>Events</th></tr></table>
            </div>
        </div>
    </div>
    <script>
        const fmtTime = (ts) => new Date(ts * 1000).toLocaleTimeString();

        function render(status) {
            const a = status.analyzer;
            document.getElementById('frame-number').textContent = a.frame_number;
            document.getElementById('detection-count').textContent = a.detection_count;
            document.getElementById('iou-threshold').textContent = a.iou_threshold;
            document.getElementById('last-crash').textContent =
                a.last_crash_time ? fmtTime(a.last_crash_time) : 'never';

            const latest = status.latest_summary;
            const badge = document.getElementById('status-badge');
            if (latest) {
                document.getElementById('objects').textContent = latest.objects_detected;
                badge.textContent = latest.potential_crash ? 'POTENTIAL CRASH' : 'Monitoring';
                badge.className = 'badge ' + (latest.potential_crash ? 'crash' : 'ok');
            }

            const table = document.getElementById('history');
            table.innerHTML = '<tr><th>Time</th><th>Frame</th><th>Events</th></tr>';
            for (const ev of status.crash_history) {
                const row = table.insertRow();
                row.className = 'crash-row';
                row.insertCell().textContent = fmtTime(ev.timestamp);
                row.insertCell().textContent = ev.frame_number;
                row.insertCell().textContent = ev.crash_events.map(e => e.type).join(', ');
            }
        }

        fetch('/api/status').then(r => r.json()).then(render).catch(() => {});
        const source = new EventSource('/api/status/stream');
        source.onmessage = (msg) => render(JSON.parse(msg.data));
    </script>
</body>
</html>
`
