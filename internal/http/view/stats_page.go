package view

import (
	"bytes"
	"html/template"
	"time"
)

// StatsPageData provides the dynamic fields required by the stats template.
type StatsPageData struct {
	ID            string
	OriginURL     string
	Price         float64
	Wallet        string
	TotalRequests int64
	TotalRevenue  float64
	Count24h      int64
	Revenue24h    float64
	Recent        []StatsRow
}

// StatsRow is one recent ledger entry rendered in the table.
type StatsRow struct {
	Timestamp time.Time
	Payer     string
	Amount    float64
	Success   bool
}

var statsPageTmpl = template.Must(template.New("stats_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<title>Link {{.ID}} stats</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #7dd3fc;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
			padding: 32px 0;
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(720px, 94vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
			backdrop-filter: blur(18px);
		}
		h1 { font-size: 1.4rem; margin-bottom: 4px; }
		p { color: var(--muted); margin-top: 0; word-break: break-all; }
		.totals {
			display: grid;
			grid-template-columns: repeat(auto-fit, minmax(140px, 1fr));
			gap: 12px;
			margin: 24px 0;
		}
		.totals div {
			padding: 16px;
			border-radius: 14px;
			background: rgba(125, 211, 252, 0.07);
			border: 1px solid rgba(125, 211, 252, 0.25);
		}
		.totals .label {
			font-size: 0.78rem;
			text-transform: uppercase;
			letter-spacing: 0.08em;
			color: var(--muted);
			margin-bottom: 6px;
		}
		.totals .value { font-size: 1.2rem; font-weight: 600; color: var(--accent); }
		table { width: 100%; border-collapse: collapse; font-size: 0.88rem; }
		th, td { text-align: left; padding: 8px 10px; border-bottom: 1px solid var(--border); }
		th { color: var(--muted); font-weight: 500; }
		.ok { color: #4ade80; }
		.fail { color: #f87171; }
	</style>
</head>
<body>
	<div class="card">
		<h1>Link /{{.ID}}</h1>
		<p>{{.OriginURL}} &middot; {{printf "%g" .Price}} USDC per call &middot; payee {{.Wallet}}</p>

		<div class="totals">
			<div><div class="label">Total requests</div><div class="value">{{.TotalRequests}}</div></div>
			<div><div class="label">Total revenue</div><div class="value">{{printf "%.6f" .TotalRevenue}}</div></div>
			<div><div class="label">Last 24h calls</div><div class="value">{{.Count24h}}</div></div>
			<div><div class="label">Last 24h revenue</div><div class="value">{{printf "%.6f" .Revenue24h}}</div></div>
		</div>

		<table>
			<tr><th>Time</th><th>Payer</th><th>Amount</th><th>Status</th></tr>
			{{range .Recent}}
			<tr>
				<td>{{.Timestamp.Format "2006-01-02 15:04:05"}}</td>
				<td>{{if .Payer}}{{.Payer}}{{else}}&mdash;{{end}}</td>
				<td>{{printf "%.6f" .Amount}}</td>
				<td>{{if .Success}}<span class="ok">charged</span>{{else}}<span class="fail">failed</span>{{end}}</td>
			</tr>
			{{else}}
			<tr><td colspan="4">No calls recorded yet.</td></tr>
			{{end}}
		</table>
	</div>
</body>
</html>
`))

// RenderStatsPage renders the HTML stats view for one link.
func RenderStatsPage(data StatsPageData) (string, error) {
	var buf bytes.Buffer
	if err := statsPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
