// Package main provides the CLI entrypoint for inkstats.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/inkstats/internal/config"
	"github.com/verte-zerg/inkstats/internal/export"
	"github.com/verte-zerg/inkstats/internal/model"
	"github.com/verte-zerg/inkstats/internal/parse"
	"github.com/verte-zerg/inkstats/internal/stats"
	"github.com/verte-zerg/inkstats/internal/store"
)

const (
	defaultFormat      = export.FormatTable
	defaultMinSession  = 60
	defaultPercentiles = "0.5,0.9,0.99"
)

var (
	flagDB          string
	flagFormat      string
	flagMinSession  int
	flagPercentiles string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "inkstats",
		Short:         "Extract reading stats from an e-reader database",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runSummaryCmd,
	}

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to KoboReader.sqlite (default: mounted device)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", defaultFormat, "output format: table, markdown, csv or json")
	rootCmd.Flags().IntVar(&flagMinSession, "min-session", defaultMinSession, "drop sessions shorter than this many seconds (0 keeps all)")
	rootCmd.Flags().StringVar(&flagPercentiles, "percentiles", defaultPercentiles, "comma-separated quantiles in [0,1]")

	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newTriggerCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runSummaryCmd(cmd *cobra.Command, _ []string) error {
	if err := applyFileConfig(cmd); err != nil {
		return err
	}
	ps, err := parsePercentiles(flagPercentiles)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	res, err := parse.Run(context.Background(), st, model.SelectReadingSessions)
	if err != nil {
		return err
	}

	set := res.Sessions.WithMinDuration(time.Duration(flagMinSession) * time.Second)
	summary := export.Summary{
		Sessions:  stats.Count(set.Sessions),
		Orphans:   len(set.Orphans),
		Malformed: res.Malformed,
	}
	if summary.Sessions > 0 {
		if summary.AvgDurationSeconds, err = stats.Average(set.Sessions, model.MetricDuration); err != nil {
			return err
		}
		if summary.AvgPagesTurned, err = stats.Average(set.Sessions, model.MetricPagesTurned); err != nil {
			return err
		}
		durations, err := stats.Percentile(set.Sessions, model.MetricDuration, ps)
		if err != nil {
			return err
		}
		pages, err := stats.Percentile(set.Sessions, model.MetricPagesTurned, ps)
		if err != nil {
			return err
		}
		for i, p := range ps {
			summary.Quantiles = append(summary.Quantiles, export.Quantile{
				P:               p,
				DurationSeconds: durations[i],
				PagesTurned:     pages[i],
			})
		}
		summary.DurationSpark = fitToTerminal(stats.MetricSparkline(set.Sessions, model.MetricDuration))
	}
	return export.WriteSummary(cmd.OutOrStdout(), summary, flagFormat)
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <sessions|lookups|bookmarks|brightness|books>",
		Short: "Export one extracted collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportCmd,
	}
	cmd.Flags().IntVar(&flagMinSession, "min-session", 0, "drop sessions shorter than this many seconds")
	return cmd
}

func runExportCmd(cmd *cobra.Command, args []string) error {
	if err := applyFileConfig(cmd); err != nil {
		return err
	}
	kind := args[0]
	sel, err := selectionForExport(kind)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	res, err := parse.Run(context.Background(), st, sel)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch kind {
	case "sessions":
		set := res.Sessions.WithMinDuration(time.Duration(flagMinSession) * time.Second)
		return export.WriteSessions(w, set, flagFormat)
	case "lookups":
		return export.WriteLookups(w, res.Lookups, flagFormat)
	case "bookmarks":
		return export.WriteBookmarks(w, res.Bookmarks, flagFormat)
	case "brightness":
		return export.WriteBrightness(w, res.Brightness, stats.BrightnessMean(res.Brightness), flagFormat)
	case "books":
		return export.WriteBooks(w, res.Books, flagFormat)
	}
	return fmt.Errorf("unknown export kind %q", kind)
}

func selectionForExport(kind string) (model.Selection, error) {
	if kind == "books" {
		// Book reference data rides along with the session extraction.
		return model.SelectReadingSessions, nil
	}
	sel, err := model.ParseSelection(kind)
	if err != nil || sel == model.SelectAll {
		return model.SelectAll, fmt.Errorf("unknown export kind %q (want sessions, lookups, bookmarks, brightness or books)", kind)
	}
	return sel, nil
}

func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage the delete-blocking trigger on the event log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Block deletions on the analytics event log",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runTriggerCmd(c, func(ctx context.Context, st *store.Store) error {
				return st.InstallDeleteGuard(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Remove the deletion block",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runTriggerCmd(c, func(ctx context.Context, st *store.Store) error {
				return st.RemoveDeleteGuard(ctx)
			})
		},
	})
	return cmd
}

func runTriggerCmd(cmd *cobra.Command, fn func(context.Context, *store.Store) error) error {
	if err := applyFileConfig(cmd); err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)
	return fn(context.Background(), st)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyFileConfig(cmd *cobra.Command) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "db", &flagDB, fileCfg.Analyze.Database)
	applyStringConfig(cmd, "format", &flagFormat, fileCfg.Analyze.Format)
	applyIntConfig(cmd, "min-session", &flagMinSession, fileCfg.Analyze.MinSessionSeconds)
	if len(fileCfg.Analyze.Percentiles) > 0 && !flagChanged(cmd, "percentiles") {
		parts := make([]string, len(fileCfg.Analyze.Percentiles))
		for i, p := range fileCfg.Analyze.Percentiles {
			parts[i] = strconv.FormatFloat(p, 'f', -1, 64)
		}
		flagPercentiles = strings.Join(parts, ",")
	}
	return nil
}

func openStore() (*store.Store, error) {
	path := flagDB
	if path == "" {
		path = config.DefaultDatabasePath()
	}
	if path == "" {
		return nil, fmt.Errorf("no device database found; pass --db")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if cerr := st.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func parsePercentiles(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	ps := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentile %q: %w", part, err)
		}
		ps = append(ps, p)
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("--percentiles must list at least one quantile")
	}
	return ps, nil
}

// fitToTerminal truncates a single-line spark string to the terminal width
// when stdout is a terminal.
func fitToTerminal(s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 12 {
		return s
	}
	max := width - 12
	if len(s) > max {
		return s[:max]
	}
	return s
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if flagChanged(cmd, name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if flagChanged(cmd, name) {
		return
	}
	*target = *value
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Changed
	}
	if f := cmd.Root().PersistentFlags().Lookup(name); f != nil {
		return f.Changed
	}
	return false
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# inkstats configuration
# Uncomment a value to enable it. CLI flags override config values.

[analyze]
# database = ""                  # Path to KoboReader.sqlite
# format = %q                    # Output format: table, markdown, csv, json
# min-session-seconds = %d       # Drop sessions shorter than this
# percentiles = [0.5, 0.9, 0.99] # Quantiles for the summary
`,
		defaultFormat,
		defaultMinSession,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
