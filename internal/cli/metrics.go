package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/happytimeshere/kirby/internal/observability"
	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
	metricsPath  string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display lock activity metrics",
	Long: `Display lock activity derived from the event log.

Metrics include acquisitions, releases, breaks, resolved notices, refused
operations, write conflicts, who broke or lost locks, and the busiest items.

--path narrows the metrics to one content item or to everything below a
directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (event log may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		scope, err := metricsScope(metricsPath)
		if err != nil {
			return err
		}

		metrics, err := MetricsCalc.Calculate(observability.MetricsQuery{Since: sinceTime, Resource: scope})
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		// Table format.
		if scope != "" {
			fmt.Fprintf(out, "Metrics for %s (since %s)\n\n", scope, sinceTime.Format("2006-01-02"))
		} else {
			fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		}
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Locks acquired:", metrics.Acquired)
		fmt.Fprintf(out, "  %-24s %d\n", "Locks refreshed:", metrics.Refreshed)
		fmt.Fprintf(out, "  %-24s %d\n", "Locks released:", metrics.Released)
		fmt.Fprintf(out, "  %-24s %d\n", "Locks broken:", metrics.Broken)
		fmt.Fprintf(out, "  %-24s %d\n", "Notices resolved:", metrics.Resolved)
		fmt.Fprintf(out, "  %-24s %d\n", "Refused operations:", metrics.Denied)
		fmt.Fprintf(out, "  %-24s %d\n", "Write conflicts:", metrics.Conflicts)

		printCounts(cmd, "Broken by:", metrics.BrokenByUser)
		printCounts(cmd, "Lost by:", metrics.LostByUser)
		printCounts(cmd, "By item:", metrics.ByResource)

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

func printCounts(cmd *cobra.Command, heading string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n  %s\n", heading)
	for _, k := range keys {
		fmt.Fprintf(out, "    %-20s %d\n", k+":", counts[k])
	}
}

// metricsScope maps a content path to the lock id prefix metrics are
// limited to. An empty path or the content root means no limit.
func metricsScope(path string) (string, error) {
	if path == "" || filepath.Clean(path) == "." {
		return "", nil
	}
	if err := requireWorkspace(); err != nil {
		return "", err
	}
	if filepath.IsAbs(path) && filepath.Clean(path) == filepath.Clean(Workspace.Root()) {
		return "", nil
	}
	res, err := Workspace.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("parsing --path: %w", err)
	}
	return res.ID, nil
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	metricsCmd.Flags().StringVar(&metricsPath, "path", "", "Limit metrics to a content item or directory")
	rootCmd.AddCommand(metricsCmd)
}
