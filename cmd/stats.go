package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"firestige.xyz/frameguard/internal/config"
)

const metricPrefix = "frameguard_"

var (
	statsPrometheus bool
	statsURL        string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show classifier counters of the running daemon",
	Long: `Print the verdict counters of the running daemon, summed over all pipelines.

With --prometheus, the daemon's metrics endpoint is scraped instead and every
frameguard series is printed. The endpoint is taken from the config unless
--url is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !statsPrometheus && statsURL == "" {
			return runStats(cmd.Context(), GetClient(), cmd.OutOrStdout())
		}
		url := statsURL
		if url == "" {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if !cfg.Metrics.Enabled {
				return fmt.Errorf("metrics are disabled in %s", configFile)
			}
			url = metricsURL(cfg.Metrics)
		}
		return runMetrics(cmd.Context(), url, cmd.OutOrStdout())
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsPrometheus, "prometheus", false, "scrape the metrics endpoint")
	statsCmd.Flags().StringVar(&statsURL, "url", "", "metrics URL, implies --prometheus (default: from metrics.listen and metrics.path)")
	rootCmd.AddCommand(statsCmd)
}

// metricsURL turns a listen address into a URL reachable from localhost.
func metricsURL(m config.MetricsConfig) string {
	host, port, err := net.SplitHostPort(m.Listen)
	if err != nil {
		return "http://" + m.Listen + m.Path
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + m.Path
}

func runStats(ctx context.Context, c DaemonClient, out io.Writer) error {
	s, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}
	fmt.Fprintf(out, "received        %d\n", s.Received)
	fmt.Fprintf(out, "pass            %d\n", s.Pass)
	fmt.Fprintf(out, "redirect        %d\n", s.Redirect)
	fmt.Fprintf(out, "drop            %d\n", s.Drop)
	fmt.Fprintf(out, "truncated       %d\n", s.Truncated)
	fmt.Fprintf(out, "actuate errors  %d\n", s.ActuateErrors)
	fmt.Fprintf(out, "read errors     %d\n", s.ReadErrors)
	return nil
}

// runMetrics scrapes url and prints every frameguard series.
func runMetrics(ctx context.Context, url string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch metrics: %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse metrics: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, metricPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			fmt.Fprintf(out, "%-48s %s\n", name+formatLabels(m.GetLabel()), formatValue(m))
		}
	}
	return nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(m *dto.Metric) string {
	switch {
	case m.Counter != nil:
		return fmt.Sprintf("%.0f", m.GetCounter().GetValue())
	case m.Gauge != nil:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case m.Histogram != nil:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%gs", h.GetSampleCount(), h.GetSampleSum())
	default:
		return "-"
	}
}
