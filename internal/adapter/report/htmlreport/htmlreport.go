// Package htmlreport renders exportable ranking reports as standalone HTML
// documents. The pipeline depends only on the domain.ReportExporter port;
// swapping in a PDF renderer requires no caller changes.
package htmlreport

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; margin: 2.5rem auto; max-width: 52rem; color: #1a1a1a; }
h1 { border-bottom: 2px solid #1a1a1a; padding-bottom: .3rem; }
.meta { color: #555; font-size: .85rem; margin-bottom: 2rem; }
.summary { background: #f6f6f6; padding: 1rem; border-left: 4px solid #888; white-space: pre-wrap; }
.body p { white-space: pre-wrap; margin: 0 0 1rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="meta">Generated {{.Generated}}</div>
{{if .JobSummary}}<h2>Job Summary</h2>
<div class="summary">{{.JobSummary}}</div>
{{end}}<h2>Ranking</h2>
<div class="body">{{range .Paragraphs}}<p>{{.}}</p>
{{end}}</div>
</body>
</html>
`

// Exporter renders domain.Report values into HTML bytes.
type Exporter struct {
	tmpl *template.Template
}

// New parses the report template once; the exporter is safe for concurrent
// use.
func New() (*Exporter, error) {
	t, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("op=htmlreport.new: %w", err)
	}
	return &Exporter{tmpl: t}, nil
}

// Render implements domain.ReportExporter.
func (e *Exporter) Render(ctx domain.Context, rep domain.Report) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rep.Title == "" {
		return nil, fmt.Errorf("op=htmlreport.render: %w: empty report title", domain.ErrInvalidArgument)
	}

	data := struct {
		Title      string
		Generated  string
		JobSummary string
		Paragraphs []string
	}{
		Title:      rep.Title,
		Generated:  rep.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"),
		JobSummary: rep.JobSummary,
		Paragraphs: splitParagraphs(rep.Body),
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("op=htmlreport.render: %w", err)
	}
	return buf.Bytes(), nil
}

func splitParagraphs(body string) []string {
	parts := strings.Split(body, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
