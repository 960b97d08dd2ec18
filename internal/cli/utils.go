// Package cli renders command output and talks to a running setsumei server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/hyperjump/setsumei/internal/eval"
	"github.com/hyperjump/setsumei/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	writeSearchResultsText(w, response)
	return nil
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	header := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	header.Fprintf(w, "\nFound %d results in %dms", response.Total, response.QueryTime)
	fmt.Fprintf(w, " (metric: %s)\n", response.Metric)
	if response.Skipped > 0 {
		gray.Fprintf(w, "%d hits skipped (document missing from store)\n", response.Skipped)
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	title := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	title.Fprintf(w, "%d. %s", result.Rank, result.DocumentID)
	fmt.Fprintf(w, "  score %.4f\n", result.Score)
	fmt.Fprintf(w, "%s\n", result.Preview)

	if result.Degraded {
		yellow.Fprintf(w, "explanation unavailable: %s\n", result.ExplainError)
		fmt.Fprintln(w)
		return
	}
	exp := result.Explanation
	if exp == nil {
		fmt.Fprintln(w)
		return
	}
	if len(exp.SharedTerms) > 0 {
		fmt.Fprint(w, "shared terms: ")
		green.Fprintf(w, "%s", strings.Join(exp.SharedTerms, ", "))
		gray.Fprintf(w, " (overlap %.2f)\n", exp.OverlapRatio)
	} else {
		gray.Fprintln(w, "no shared terms")
	}
	for _, s := range exp.TopSentences {
		fmt.Fprintf(w, "  • %s ", s.Sentence)
		gray.Fprintf(w, "[%.3f]\n", s.Score)
	}
	if exp.Rationale != "" {
		fmt.Fprintf(w, "why: %s\n", exp.Rationale)
	}
	fmt.Fprintln(w)
}

// WriteEvalSummary writes an evaluation summary. Text output lists only the
// misses; JSON output includes every record.
func WriteEvalSummary(w io.Writer, s *eval.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	header := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed)

	header.Fprintf(w, "\nEvaluated %d queries\n", s.Total)
	fmt.Fprintf(w, "  correct:        %d\n", s.Correct)
	fmt.Fprintf(w, "  answered:       %d\n", s.Answered)
	fmt.Fprintf(w, "  failed:         %d\n", s.Failed)
	fmt.Fprintf(w, "  accuracy:       %.4f\n", s.Accuracy)
	fmt.Fprintf(w, "  precision@1:    %.4f\n", s.PrecisionAt1)
	fmt.Fprintf(w, "  recall@1:       %.4f\n", s.RecallAt1)
	fmt.Fprintf(w, "  f1@1:           %.4f\n", s.F1At1)
	for _, r := range s.Records {
		if r.Correct {
			continue
		}
		got := r.Returned
		if r.Error != "" {
			got = "error: " + r.Error
		} else if got == "" {
			got = "no result"
		}
		red.Fprintf(w, "  ✗ %q expected %s, got %s\n", r.Query, r.Expected, got)
	}
	return nil
}

// WriteReport writes a nested JSON-like report (status, load or refresh stats).
// Text output flattens nested keys as "parent.child: value", sorted.
func WriteReport(w io.Writer, title string, report map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	lines := make(map[string]string)
	flatten("", report, lines)
	keys := make([]string, 0, len(lines))
	for k := range lines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, lines[k])
	}
	return nil
}

func flatten(prefix string, m map[string]interface{}, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = fmt.Sprint(v)
	}
}

// ToReport converts a struct to the generic map form WriteReport prints, so
// in-process results render the same way as server responses.
func ToReport(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ShowSuccess writes a success message.
func ShowSuccess(w io.Writer, format string, args ...interface{}) {
	color.New(color.FgGreen, color.Bold).Fprintf(w, "✓ "+format+"\n", args...)
}

// ShowError writes an error message.
func ShowError(w io.Writer, format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(w, "✗ "+format+"\n", args...)
}

// ShowInfo writes an informational message.
func ShowInfo(w io.Writer, format string, args ...interface{}) {
	color.New(color.FgBlue).Fprintf(w, format+"\n", args...)
}
