// Package report writes the artifacts of a batch run: the raw results, a
// Markdown summary and aggregate metrics.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/webrunner/pkg/task"
)

// File names written by Write.
const (
	ResultsFile = "results.json"
	SummaryFile = "summary.md"
	MetricsFile = "metrics.json"
)

// KindSummary aggregates the results of one task type.
type KindSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Summary aggregates a set of results.
type Summary struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"`

	// Attempts counts every attempt started, Retries the ones beyond the
	// first.
	Attempts int `json:"attempts"`
	Retries  int `json:"retries"`

	TotalDuration   float64 `json:"total_duration_seconds"`
	AverageDuration float64 `json:"average_duration_seconds"`
	// WallTime spans the earliest start to the latest completion.
	WallTime float64 `json:"wall_time_seconds"`

	ByKind      map[task.Kind]*KindSummary `json:"by_type"`
	ErrorKinds  map[task.ErrorKind]int     `json:"error_kinds,omitempty"`
	GeneratedAt time.Time                  `json:"generated_at"`
}

// Summarize aggregates results.
func Summarize(results []task.Result) Summary {
	s := Summary{
		Total:       len(results),
		ByKind:      make(map[task.Kind]*KindSummary),
		ErrorKinds:  make(map[task.ErrorKind]int),
		GeneratedAt: time.Now(),
	}

	var total time.Duration
	var first, last time.Time
	for _, r := range results {
		ks, ok := s.ByKind[r.Kind]
		if !ok {
			ks = &KindSummary{}
			s.ByKind[r.Kind] = ks
		}
		ks.Total++

		switch r.Status {
		case task.StatusCompleted:
			s.Completed++
			ks.Completed++
		case task.StatusCancelled:
			s.Cancelled++
			ks.Cancelled++
		default:
			s.Failed++
			ks.Failed++
		}
		if r.ErrorKind != "" && r.Status != task.StatusCompleted {
			s.ErrorKinds[r.ErrorKind]++
		}

		s.Attempts += r.AttemptsUsed
		if r.AttemptsUsed > 1 {
			s.Retries += r.AttemptsUsed - 1
		}
		total += r.Duration

		if !r.StartedAt.IsZero() && (first.IsZero() || r.StartedAt.Before(first)) {
			first = r.StartedAt
		}
		if r.CompletedAt.After(last) {
			last = r.CompletedAt
		}
	}

	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total)
	}
	s.TotalDuration = total.Seconds()
	if ran := s.Completed + s.Failed; ran > 0 {
		s.AverageDuration = total.Seconds() / float64(ran)
	}
	if !first.IsZero() && last.After(first) {
		s.WallTime = last.Sub(first).Seconds()
	}
	return s
}

// Paths lists the files written by Write.
type Paths struct {
	Results string
	Summary string
	Metrics string
}

// Write creates dir if needed and writes all three artifacts into it.
func Write(dir string, results []task.Result) (Paths, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := Paths{
		Results: filepath.Join(dir, ResultsFile),
		Summary: filepath.Join(dir, SummaryFile),
		Metrics: filepath.Join(dir, MetricsFile),
	}
	summary := Summarize(results)

	if results == nil {
		results = []task.Result{}
	}
	if err := writeJSON(paths.Results, results); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(paths.Summary, []byte(Markdown(summary, results)), 0644); err != nil {
		return Paths{}, fmt.Errorf("failed to write %s: %w", SummaryFile, err)
	}
	if err := writeJSON(paths.Metrics, summary); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Markdown renders the summary followed by one table row per result.
func Markdown(s Summary, results []task.Result) string {
	var b strings.Builder

	b.WriteString("# Task Execution Summary\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", s.GeneratedAt.Format(time.RFC3339))

	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total tasks | %d |\n", s.Total)
	fmt.Fprintf(&b, "| Completed | %d |\n", s.Completed)
	fmt.Fprintf(&b, "| Failed | %d |\n", s.Failed)
	fmt.Fprintf(&b, "| Cancelled | %d |\n", s.Cancelled)
	fmt.Fprintf(&b, "| Success rate | %.1f%% |\n", s.SuccessRate*100)
	fmt.Fprintf(&b, "| Retries | %d |\n", s.Retries)
	fmt.Fprintf(&b, "| Average duration | %.2fs |\n", s.AverageDuration)
	fmt.Fprintf(&b, "| Wall time | %.2fs |\n", s.WallTime)

	if len(s.ByKind) > 0 {
		kinds := make([]string, 0, len(s.ByKind))
		for k := range s.ByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)

		b.WriteString("\n## By type\n\n")
		b.WriteString("| Type | Total | Completed | Failed | Cancelled |\n|---|---|---|---|---|\n")
		for _, k := range kinds {
			ks := s.ByKind[task.Kind(k)]
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d |\n", k, ks.Total, ks.Completed, ks.Failed, ks.Cancelled)
		}
	}

	if len(results) > 0 {
		b.WriteString("\n## Tasks\n\n")
		b.WriteString("| Task | Type | Status | Attempts | Duration | Error |\n|---|---|---|---|---|---|\n")
		for _, r := range results {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %.2fs | %s |\n",
				escapeCell(r.TaskID), r.Kind, r.Status, r.AttemptsUsed, r.Duration.Seconds(), escapeCell(r.Error))
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
