// Package cli provides output formatting and an HTTP client for the apex CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/apex/internal/hnsw"
	"github.com/hyperjump/apex/internal/models"
	"github.com/hyperjump/apex/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value onto an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
// Unknown formats fall back to text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (k=%d)\n\n", response.Total, response.QueryTime, response.K)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", result.Rank, result.Score)
	if result.Document == nil {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "ID: %s\n", result.Document.ID)
	if result.Document.URL != "" {
		fmt.Fprintf(w, "URL: %s\n", result.Document.URL)
	}
	if result.Document.Content != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Document.Content, 200))
	}
	fmt.Fprintln(w)
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// Status mirrors the GET /api/v1/status response.
type Status struct {
	Documents      int64                  `json:"documents"`
	Vectors        int                    `json:"vectors"`
	Dimensions     int                    `json:"dimensions"`
	Graph          *hnsw.Stats            `json:"graph,omitempty"`
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// WriteStatus writes a status report to w in the given format.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "documents:          %d   # rows in the database\n", status.Documents)
	fmt.Fprintf(w, "vectors:            %d   # nodes in the graph\n", status.Vectors)
	fmt.Fprintf(w, "dimensions:         %d\n", status.Dimensions)
	fmt.Fprintf(w, "uptime_seconds:     %d\n", status.UptimeSeconds)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database and WAL on disk\n", *status.DiskUsageBytes)
	}
	if g := status.Graph; g != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# graph")
		fmt.Fprintf(w, "entry_point:        %d\n", g.EntryPoint)
		fmt.Fprintf(w, "max_level:          %d\n", g.MaxLevel)
		for _, l := range g.Levels {
			fmt.Fprintf(w, "level %-3d          nodes=%d edges=%d avg_degree=%.2f\n", l.Level, l.Nodes, l.Edges, l.AvgDegree)
		}
	}
	if len(status.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		for _, key := range []string{"database_path", "m", "ef_construction", "ef_search", "max_level", "default_k", "max_k"} {
			if v, ok := status.Config[key]; ok {
				fmt.Fprintf(w, "%-20s%v\n", key+":", v)
			}
		}
		if dirs, ok := status.Config["watch_directories"].([]interface{}); ok {
			for _, d := range dirs {
				fmt.Fprintf(w, "%-20s%v\n", "watch_directory:", d)
			}
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
