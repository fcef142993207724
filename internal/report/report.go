// Package report renders a human-readable report over a recorded run: its
// metadata, the tool-call trail, and the LLM metrics digest. Reports are
// stored as artifacts next to the run.
package report

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/bantz-ai/bantz/internal/obs"
)

// BuildMarkdown assembles a run report from the tracker.
func BuildMarkdown(ctx context.Context, tracker *obs.RunTracker, runID string, metrics []obs.Metric) (string, error) {
	run, err := tracker.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	calls, err := tracker.ListToolCalls(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("report: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Çalışma raporu\n\n")
	fmt.Fprintf(&sb, "- Run: %s\n", run.RunID)
	if run.SessionID != "" {
		fmt.Fprintf(&sb, "- Oturum: %s\n", run.SessionID)
	}
	fmt.Fprintf(&sb, "- Başlangıç: %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Durum: %s\n", run.Status)
	if run.Route != "" {
		fmt.Fprintf(&sb, "- Rota: %s\n", run.Route)
	}
	if run.Model != "" {
		fmt.Fprintf(&sb, "- Model: %s\n", run.Model)
	}
	fmt.Fprintf(&sb, "- Gecikme: %d ms\n", run.LatencyMS)
	if run.Error != "" {
		fmt.Fprintf(&sb, "- Hata: %s\n", run.Error)
	}

	fmt.Fprintf(&sb, "\n## Girdi\n\n%s\n", run.UserInput)
	if run.FinalOutput != "" {
		fmt.Fprintf(&sb, "\n## Cevap\n\n%s\n", run.FinalOutput)
	}

	if len(calls) > 0 {
		sb.WriteString("\n## Araç çağrıları\n\n")
		sb.WriteString("| araç | durum | süre (ms) | özet |\n|---|---|---|---|\n")
		for _, c := range calls {
			summary := strings.ReplaceAll(c.ResultSummary, "|", "\\|")
			if c.Status == "error" {
				summary = strings.ReplaceAll(c.Error, "|", "\\|")
			}
			fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n", c.ToolName, c.Status, c.ElapsedMS, summary)
		}
	}

	if len(metrics) > 0 {
		sb.WriteString("\n")
		sb.WriteString(obs.FormatMarkdown(obs.Analyze(metrics)))
	}
	return sb.String(), nil
}

// RenderPDF renders a Markdown report into PDF bytes. Layout is deliberately
// simple: headings, table rows, and paragraphs.
func RenderPDF(markdown string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()

	sc := bufio.NewScanner(strings.NewReader(markdown))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			pdf.Ln(5)
			continue
		}
		if strings.HasPrefix(s, "#") {
			i := 0
			for i < len(s) && s[i] == '#' {
				i++
			}
			text := strings.TrimSpace(s[i:])
			if text == "" {
				continue
			}
			size := 14.0
			if i >= 2 {
				size = 12.0
			}
			pdf.SetFont("Helvetica", "B", size)
			pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 11)
			continue
		}
		if strings.HasPrefix(s, "|") {
			// Table rows become monospaced lines; good enough for a trail.
			pdf.SetFont("Courier", "", 9)
			pdf.MultiCell(0, 4, s, "", "L", false)
			pdf.SetFont("Helvetica", "", 11)
			continue
		}
		pdf.MultiCell(0, 5, s, "", "L", false)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf render: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveRunReport builds the Markdown report, stores it as an artifact, and
// optionally stores a PDF rendition as well. Returns the artifact ids.
func SaveRunReport(ctx context.Context, tracker *obs.RunTracker, runID string, metrics []obs.Metric, withPDF bool) (mdID, pdfID string, err error) {
	md, err := BuildMarkdown(ctx, tracker, runID, metrics)
	if err != nil {
		return "", "", err
	}
	mdID, err = tracker.SaveArtifact(ctx, runID, "run_report", "Çalışma raporu", []byte(md), "text/markdown")
	if err != nil {
		return "", "", err
	}
	if withPDF {
		pdfBytes, renderErr := RenderPDF(md)
		if renderErr != nil {
			return mdID, "", renderErr
		}
		pdfID, err = tracker.SaveArtifact(ctx, runID, "run_report_pdf", "Çalışma raporu (PDF)", pdfBytes, "application/pdf")
		if err != nil {
			return mdID, "", err
		}
	}
	return mdID, pdfID, nil
}
