// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
)

// --- HTML templates ---

const fontImports = `<link rel="preconnect" href="https://fonts.googleapis.com">` +
	`<link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>` +
	`<link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;600;700&family=JetBrains+Mono:wght@400;600&display=swap" rel="stylesheet">`

const notFoundHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>404 &mdash; flight-store</title>
<style>
  body { font-family: system-ui, -apple-system, sans-serif; max-width: 600px;
         margin: 60px auto; padding: 0 20px; color: #333; text-align: center; }
  h1 { color: #555; }
  code { background: #f4f4f4; padding: 2px 6px; border-radius: 3px; font-size: 0.95em; }
  p { line-height: 1.6; }
</style>
</head>
<body>
<h1>404 &mdash; Not Found</h1>
<p>This is a <code>flight-store</code> HTTP gateway.</p>
<p>Datasets are listed at <code>%s/datasets</code>; Arrow Flight clients connect to <code>%s</code>.</p>
</body>
</html>`

const landingHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s &mdash; flight-store</title>
%s
<style>
  body { font-family: 'Inter', system-ui, -apple-system, sans-serif; max-width: 960px;
         margin: 0 auto; padding: 40px 20px 0; color: #2c2c1e; background: #faf8f0; }
  h1 { color: #2d5016; margin-bottom: 8px; font-weight: 700; }
  code { font-family: 'JetBrains Mono', monospace; background: #f0ece0;
          padding: 2px 6px; border-radius: 3px; font-size: 0.85em; color: #2c2c1e; }
  a { color: #2d5016; text-decoration: none; }
  a:hover { color: #4a7c23; }
  .meta { font-size: 0.9em; color: #6b6b5a; }
  table { width: 100%%; border-collapse: collapse; font-size: 0.9em; background: #fff; }
  th { text-align: left; padding: 8px 10px; background: #f0ece0; color: #2c2c1e;
        font-weight: 600; border-bottom: 2px solid #e0dcd0; }
  td { padding: 8px 10px; border-bottom: 1px solid #f0ece0; vertical-align: top; }
  td.num { text-align: right; font-variant-numeric: tabular-nums; }
  .empty { color: #6b6b5a; font-style: italic; }
  footer { text-align: center; margin-top: 48px; padding: 20px 0;
            border-top: 1px solid #f0ece0; color: #6b6b5a; font-size: 0.85em; }
  footer a { color: #2d5016; font-weight: 600; }
</style>
</head>
<body>
<h1>%s</h1>
<p class="meta">server <code>%s</code> &middot; flight <code>%s</code> &middot; %d datasets, %s</p>
%s
<footer>
  &copy; 2026 &#x1F69C; <a href="https://query.farm">Query.Farm LLC</a>
</footer>
</body>
</html>`

// --- Page builders ---

func buildNotFoundHTML(prefix, location string) []byte {
	return []byte(fmt.Sprintf(notFoundHTMLTemplate,
		html.EscapeString(prefix),
		html.EscapeString(location),
	))
}

func buildLandingHTML(prefix, serviceName, serverID, location string, summaries []DatasetSummary) []byte {
	var total uint64
	for _, s := range summaries {
		total += uint64(max(s.TotalBytes, 0))
	}

	var body strings.Builder
	if len(summaries) == 0 {
		body.WriteString(`<p class="empty">No datasets yet.</p>`)
	} else {
		body.WriteString(`<table><tr><th>Dataset</th><th>Rows</th><th>Size</th><th>Batches</th><th>Schema</th></tr>`)
		for _, s := range summaries {
			buildDatasetRow(&body, prefix, s)
		}
		body.WriteString(`</table>`)
	}

	return []byte(fmt.Sprintf(landingHTMLTemplate,
		html.EscapeString(serviceName), // <title>
		fontImports,
		html.EscapeString(serviceName), // <h1>
		html.EscapeString(serverID),
		html.EscapeString(location),
		len(summaries),
		humanize.Bytes(total),
		body.String(),
	))
}

func buildDatasetRow(w *strings.Builder, prefix string, s DatasetSummary) {
	href := prefix + "/datasets/" + url.PathEscape(s.Name)
	fmt.Fprintf(w, `<tr><td><a href="%s"><code>%s</code></a></td>`,
		html.EscapeString(href), html.EscapeString(s.Name))
	fmt.Fprintf(w, `<td class="num">%s</td>`, humanize.Comma(s.TotalRecords))
	fmt.Fprintf(w, `<td class="num">%s</td>`, humanize.Bytes(uint64(max(s.TotalBytes, 0))))
	fmt.Fprintf(w, `<td class="num">%d</td>`, s.NumBatches)

	w.WriteString(`<td>`)
	for i, f := range s.Schema.Fields() {
		if i > 0 {
			w.WriteString(", ")
		}
		nullable := ""
		if f.Nullable {
			nullable = "?"
		}
		fmt.Fprintf(w, `<code>%s: %s%s</code>`,
			html.EscapeString(f.Name), html.EscapeString(f.Type.String()), nullable)
	}
	w.WriteString(`</td></tr>`)
}
