// Package cli provides output helpers for the vecpipe command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/vecpipe/internal/models"
	"github.com/hyperjump/vecpipe/internal/pipeline"
	"github.com/hyperjump/vecpipe/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one match per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value onto a format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

const separator = "─────────────────────────────────────────────────────────\n"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteMatches writes ranked matches in the given format.
func WriteMatches(w io.Writer, matches []models.Match, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if matches == nil {
			matches = []models.Match{}
		}
		return writeJSON(w, map[string]any{"matches": matches})
	case OutputCompact:
		for i, m := range matches {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, m.Score, m.ID, utils.Truncate(utils.NormalizeSpace(m.Document()), 80))
		}
		return nil
	}
	fmt.Fprintf(w, "\nFound %d matches\n\n", len(matches))
	for i, m := range matches {
		writeMatch(w, i+1, m)
	}
	return nil
}

func writeMatch(w io.Writer, rank int, m models.Match) {
	fmt.Fprint(w, separator)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", rank, m.Score)
	fmt.Fprintf(w, "ID: %s\n", m.ID)
	keys := make([]string, 0, len(m.Payload))
	for k := range m.Payload {
		if k != models.PayloadKeyDocument {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %v\n", k, m.Payload[k])
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(m.Document(), 200))
}

// WriteRunResult writes the outcome of a pipeline run.
func WriteRunResult(w io.Writer, res *pipeline.RunResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "State: %s\n", res.State)
	if res.Collection != "" {
		fmt.Fprintf(w, "Collection: %s\n", res.Collection)
	}
	fmt.Fprintf(w, "Records written: %d\n", len(res.RecordIDs))
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "Skipped document %d: %s\n", s.Index, s.Reason)
	}
	if len(res.Matches) > 0 {
		return WriteMatches(w, res.Matches, format)
	}
	return nil
}

// WriteCollectionInfo writes a collection's schema and size.
func WriteCollectionInfo(w io.Writer, info *models.CollectionInfo, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, info)
	}
	fmt.Fprintf(w, "Collection: %s\n", info.Name)
	fmt.Fprintf(w, "Dimension:  %d\n", info.Dimension)
	fmt.Fprintf(w, "Distance:   %s\n", info.Distance)
	fmt.Fprintf(w, "Points:     %d\n", info.PointsCount)
	return nil
}
