// OHLCV Archiver CLI
// This application downloads long-horizon daily price history from a local
// market-data gateway, cleans it, persists one artifact per instrument and
// format, and validates what was written.
//
// Usage:
//
//	archiver download --instruments 510300.SH,000001.SZ --start 20150101
//	archiver validate --format parquet
//	archiver list
//	archiver backtest --instrument 510300.SH
//	archiver schedule --at 16:30
//
// For detailed help on any command, use: archiver <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-archiver/internal/backtest"
	"github.com/johnayoung/go-ohlcv-archiver/internal/collector"
	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-archiver/internal/errors"
	"github.com/johnayoung/go-ohlcv-archiver/internal/logger"
	"github.com/johnayoung/go-ohlcv-archiver/internal/manifest"
	"github.com/johnayoung/go-ohlcv-archiver/internal/metrics"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/source"
	"github.com/johnayoung/go-ohlcv-archiver/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "archiver"
	ConfigFile = "archiver.yaml"
	EnvFile    = ".env"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitOutputError = 3
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// usageError marks a problem with the command line rather than the run.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// CLI represents the main CLI application
type CLI struct {
	config   *config.AppConfig
	settings *config.ConfigManager
	logs     *logger.LoggerManager
	logger   *slog.Logger
	timeNow  func() time.Time

	// catalog is shared by every batch while the schedule command runs.
	catalog *storage.Catalog
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	cli := &CLI{timeNow: time.Now}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}

	code := cli.run(ctx, command, args)
	_ = cli.logs.Close()
	cancel()
	os.Exit(code)
}

// initialize loads configuration and sets up logging
func (cli *CLI) initialize(ctx context.Context) error {
	path := ConfigFile
	if v := os.Getenv("ARCHIVER_CONFIG"); v != "" {
		path = v
	}

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	settings := config.NewConfigManager(path, EnvFile, bootstrap)
	cfg, err := settings.LoadConfig(ctx)
	if err != nil {
		return err
	}
	cli.config = cfg
	cli.settings = settings

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()
	return nil
}

func (cli *CLI) run(ctx context.Context, command string, args []string) int {
	var err error
	switch command {
	case "download":
		err = cli.handleDownload(ctx, args)
	case "validate":
		err = cli.handleValidate(ctx, args)
	case "list":
		err = cli.handleList(ctx, args)
	case "backtest":
		err = cli.handleBacktest(ctx, args)
	case "schedule":
		err = cli.handleSchedule(ctx, args)
	case "config":
		err = cli.handleConfig(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}

	code := exitCode(ctx, err)
	if err != nil && code != ExitInterrupt {
		cli.logger.Error("command failed", "command", command, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}

// errSomeFailed reports a completed run in which some instruments failed.
var errSomeFailed = errors.New("some instruments failed")

func exitCode(ctx context.Context, err error) int {
	var ue usageError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return ExitInterrupt
	case errors.As(err, &ue):
		return ExitUsageError
	case apperrors.IsFatal(err):
		return ExitOutputError
	default:
		return ExitDataError
	}
}

// DownloadFlags represents flags for the download command
type DownloadFlags struct {
	Instruments []string
	Start       string
	End         string
	Formats     []string
	Years       int
	Retry       int
	Dir         string
	Help        bool
}

func (cli *CLI) handleDownload(ctx context.Context, args []string) error {
	flags, err := parseDownloadFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("download")
		return nil
	}

	cfg := cli.config
	if flags.Start != "" {
		cfg.Download.StartDate = flags.Start
	}
	if flags.End != "" {
		cfg.Download.EndDate = flags.End
	}
	if len(flags.Formats) > 0 {
		cfg.Output.Formats = config.NormalizeFormats(flags.Formats)
	}
	if flags.Years > 0 {
		cfg.Download.YearsPerSegment = flags.Years
	}
	if flags.Retry > 0 {
		cfg.Download.Retry.MaxAttempts = flags.Retry
	}
	if flags.Dir != "" {
		cfg.Output.Dir = flags.Dir
	}
	for _, f := range cfg.Output.Formats {
		if _, err := storage.CodecFor(f); err != nil {
			return usagef("--formats: %v", err)
		}
	}

	ids := flags.Instruments
	if len(ids) == 0 {
		ids = cfg.AllInstruments()
	}
	if len(ids) == 0 {
		return usagef("no instruments: pass --instruments or configure download.instruments")
	}

	bc, err := collector.BatchConfigFrom(cfg, cli.timeNow())
	if err != nil {
		return usagef("invalid date range: %v", err)
	}

	orch, closeFn, err := cli.newOrchestrator(ctx, bc)
	if err != nil {
		return err
	}
	defer closeFn()

	outcomes, runErr := orch.DownloadBatch(ctx, ids)
	if apperrors.IsFatal(runErr) {
		return runErr
	}

	printOutcomes(ids, outcomes)
	snap := orch.Stats().Snapshot()
	fmt.Printf("\nattempts %d (%d failed), rows written %d, dropped %d, elapsed %s\n",
		snap.Attempts, snap.AttemptErrors, snap.RowsWritten, snap.RowsDropped, snap.Elapsed.Round(time.Millisecond))

	// The manifest is built even after an interrupt so completed work is recorded.
	if _, err := cli.writeManifest(context.WithoutCancel(ctx), bc.OutputDir, ids, primaryFormat(bc.Formats)); err != nil {
		cli.logger.Error("manifest generation failed", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	for _, o := range outcomes {
		if !o.Succeeded() {
			return errSomeFailed
		}
	}
	return nil
}

func (cli *CLI) newOrchestrator(ctx context.Context, bc collector.BatchConfig, opts ...collector.Option) (*collector.Orchestrator, func(), error) {
	gateway := source.NewGateway(cli.config.Source, cli.logger)
	if err := gateway.HealthCheck(ctx); err != nil {
		cli.logger.Warn("gateway health check failed, continuing", "base_url", cli.config.Source.BaseURL, "error", err)
	}

	closeFn := func() {}
	if cli.catalog != nil {
		opts = append(opts, collector.WithCatalog(cli.catalog))
	} else if cli.config.Catalog.Enabled {
		if err := os.MkdirAll(bc.OutputDir, 0o755); err != nil {
			return nil, nil, apperrors.New(apperrors.KindOutputDir, "", err)
		}
		catalog, err := storage.OpenCatalog(ctx, cli.config.CatalogPath(), cli.logger)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, collector.WithCatalog(catalog))
		closeFn = func() { _ = catalog.Close() }
	}
	return collector.NewOrchestrator(gateway, bc, cli.logger, opts...), closeFn, nil
}

// writeManifest validates the artifacts under dir, stores manifest.json and
// prints the summary table.
func (cli *CLI) writeManifest(ctx context.Context, dir string, ids []string, format string) (*models.Manifest, error) {
	out, err := storage.OpenOutput(ctx, dir)
	if err != nil {
		return nil, apperrors.New(apperrors.KindOutputDir, "", err)
	}
	defer out.Close()

	v := manifest.NewValidator(out, cli.logger)
	m, err := v.Validate(ctx, ids, format)
	if err != nil {
		return nil, err
	}
	if err := v.Write(ctx, m); err != nil {
		return m, err
	}
	fmt.Println()
	return m, manifest.PrintSummary(os.Stdout, m)
}

// manifestSnapshot reports the tallies of the last manifest.json written under
// the output root.
func (cli *CLI) manifestSnapshot() any {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := storage.OpenOutput(ctx, cli.config.Output.Dir)
	if err != nil {
		return map[string]string{"error": err.Error()}
	}
	defer out.Close()

	m, err := manifest.Read(ctx, out)
	if err != nil {
		return map[string]string{"error": err.Error()}
	}
	return map[string]any{
		"generated_at": m.GeneratedAt,
		"format":       m.Format,
		"total":        m.Total,
		"complete":     m.Complete,
		"errored":      m.Errored,
	}
}

// ValidateFlags represents flags for the validate command
type ValidateFlags struct {
	Instruments []string
	Format      string
	Dir         string
	Help        bool
}

func (cli *CLI) handleValidate(ctx context.Context, args []string) error {
	flags, err := parseValidateFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("validate")
		return nil
	}

	dir := cli.config.Output.Dir
	if flags.Dir != "" {
		dir = flags.Dir
	}
	format := flags.Format
	if format == "" {
		format = primaryFormat(cli.config.Output.Formats)
	}
	if _, err := storage.CodecFor(format); err != nil {
		return usagef("--format: %v", err)
	}

	m, err := cli.writeManifest(ctx, dir, flags.Instruments, format)
	if err != nil {
		return err
	}
	if m.Errored > 0 {
		return fmt.Errorf("%d of %d artifacts failed validation: %w", m.Errored, m.Total, errSomeFailed)
	}
	return nil
}

func (cli *CLI) handleList(ctx context.Context, args []string) error {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			printCommandHelp("list")
			return nil
		}
		return usagef("unknown flag: %s", a)
	}

	var records []models.CoverageRecord
	if cli.config.Catalog.Enabled {
		catalog, err := storage.OpenCatalog(ctx, cli.config.CatalogPath(), cli.logger)
		if err != nil {
			return err
		}
		defer catalog.Close()
		if records, err = catalog.List(ctx); err != nil {
			return err
		}
	} else {
		out, err := storage.OpenOutput(ctx, cli.config.Output.Dir)
		if err != nil {
			return apperrors.New(apperrors.KindOutputDir, "", err)
		}
		defer out.Close()
		if records, err = out.ReadListing(ctx); err != nil {
			if storage.IsNotFound(err) {
				fmt.Println("no instruments downloaded yet")
				return nil
			}
			return err
		}
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tSTART\tEND\tROWS\tFILE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.Code, r.Start.Format(models.DateLayout), r.End.Format(models.DateLayout), r.Count, r.File)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d instruments\n", len(records))
	return nil
}

// BacktestFlags represents flags for the backtest command
type BacktestFlags struct {
	Instrument string
	Short      int
	Long       int
	Cash       float64
	Format     string
	Help       bool
}

func (cli *CLI) handleBacktest(ctx context.Context, args []string) error {
	flags, err := parseBacktestFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("backtest")
		return nil
	}
	if flags.Instrument == "" {
		return usagef("--instrument is required")
	}

	btCfg := backtest.ConfigFrom(cli.config.Backtest)
	if flags.Short > 0 {
		btCfg.ShortWindow = flags.Short
	}
	if flags.Long > 0 {
		btCfg.LongWindow = flags.Long
	}
	if flags.Cash > 0 {
		btCfg.InitialCash = decimal.NewFromFloat(flags.Cash)
	}
	if err := btCfg.Validate(); err != nil {
		return usagef("%v", err)
	}

	out, err := storage.OpenOutput(ctx, cli.config.Output.Dir)
	if err != nil {
		return apperrors.New(apperrors.KindOutputDir, "", err)
	}
	defer out.Close()

	formats := cli.config.Output.Formats
	if flags.Format != "" {
		formats = []string{flags.Format}
	}
	var series *storage.Series
	for _, f := range formats {
		series, err = out.ReadSeries(ctx, flags.Instrument, f)
		if err == nil {
			break
		}
		cli.logger.Debug("artifact unavailable", "instrument", flags.Instrument, "format", f, "error", err)
	}
	if err != nil {
		return fmt.Errorf("no readable artifact for %s: %w", flags.Instrument, err)
	}

	res, err := backtest.Run(flags.Instrument, series.Bars, btCfg)
	if err != nil {
		return err
	}
	return res.PrintSummary(os.Stdout, 10)
}

// ConfigFlags represents flags for the config command
type ConfigFlags struct {
	Save bool
	Help bool
}

func (cli *CLI) handleConfig(ctx context.Context, args []string) error {
	flags, err := parseConfigFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("config")
		return nil
	}

	fmt.Println(cli.config.String())
	if !flags.Save {
		return nil
	}
	if err := cli.settings.SaveConfig(ctx); err != nil {
		return err
	}
	fmt.Printf("configuration written to %s\n", cli.config.ConfigPath)
	return nil
}

// ScheduleFlags represents flags for the schedule command
type ScheduleFlags struct {
	At          string
	Timezone    string
	StatusAddr  string
	Instruments []string
	Now         bool
	Help        bool
}

func (cli *CLI) handleSchedule(ctx context.Context, args []string) error {
	flags, err := parseScheduleFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("schedule")
		return nil
	}

	schedCfg := cli.config.Scheduler
	if flags.At != "" {
		schedCfg.At = flags.At
	}
	if flags.Timezone != "" {
		schedCfg.Timezone = flags.Timezone
	}
	if flags.StatusAddr != "" {
		schedCfg.StatusAddr = flags.StatusAddr
	}
	ids := flags.Instruments
	if len(ids) == 0 {
		ids = cli.config.AllInstruments()
	}

	if cli.config.Catalog.Enabled {
		if err := os.MkdirAll(cli.config.Output.Dir, 0o755); err != nil {
			return apperrors.New(apperrors.KindOutputDir, "", err)
		}
		catalog, err := storage.OpenCatalog(ctx, cli.config.CatalogPath(), cli.logger)
		if err != nil {
			return err
		}
		cli.catalog = catalog
		defer func() {
			_ = catalog.Close()
			cli.catalog = nil
		}()
	}

	runner := &dailyRunner{cli: cli, stats: collector.NewRunStats()}
	s, err := collector.NewDailyScheduler(schedCfg, runner, ids, cli.logger)
	if err != nil {
		return usagef("%v", err)
	}

	if schedCfg.StatusAddr != "" {
		status := metrics.NewStatusServer(schedCfg.StatusAddr, cli.logger)
		status.RegisterHealthChecker("gateway", source.NewGateway(cli.config.Source, cli.logger))
		if cli.catalog != nil {
			status.RegisterHealthChecker("catalog", cli.catalog)
		}
		status.RegisterSnapshot("run", func() any { return runner.stats.Snapshot() })
		status.RegisterSnapshot("scheduler", func() any { return s.GetStats() })
		status.RegisterSnapshot("manifest", cli.manifestSnapshot)
		status.SetReadiness(s.IsRunning)
		if err := status.Start(ctx); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = status.Stop(shutdownCtx)
		}()
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("scheduled daily download of %d instruments at %s (next run %s)\n",
		len(ids), schedCfg.At, s.NextRun().Format(time.RFC3339))

	if flags.Now {
		if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
			cli.logger.Error("immediate run failed", "error", err)
		}
	}

	<-ctx.Done()
	_ = s.Stop()
	stats := s.GetStats()
	cli.logger.Info("scheduler shut down",
		"completed_runs", stats.CompletedRuns,
		"failed_runs", stats.FailedRuns,
		"skipped_runs", stats.SkippedRuns)
	return nil
}

// dailyRunner resolves the date range at each run so an open end date tracks today.
// Counters accumulate across runs.
type dailyRunner struct {
	cli   *CLI
	stats *collector.RunStats
}

func (r *dailyRunner) DownloadBatch(ctx context.Context, ids []string) (map[string]models.Outcome, error) {
	bc, err := collector.BatchConfigFrom(r.cli.config, r.cli.timeNow())
	if err != nil {
		return nil, err
	}
	orch, closeFn, err := r.cli.newOrchestrator(ctx, bc, collector.WithStats(r.stats))
	if err != nil {
		return nil, err
	}
	defer closeFn()

	outcomes, err := orch.DownloadBatch(ctx, ids)
	if !apperrors.IsFatal(err) {
		if _, merr := r.cli.writeManifest(context.WithoutCancel(ctx), bc.OutputDir, ids, primaryFormat(bc.Formats)); merr != nil {
			r.cli.logger.Error("manifest generation failed", "error", merr)
		}
	}
	return outcomes, err
}

// primaryFormat is the format the manifest validates: the first required one.
func primaryFormat(formats []string) string {
	for _, f := range formats {
		if !storage.Optional(f) {
			return f
		}
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return storage.FormatParquet
}

func printOutcomes(ids []string, outcomes map[string]models.Outcome) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tSTATUS\tROWS\tCOVERAGE\tDETAIL")
	for _, id := range ids {
		o, ok := outcomes[id]
		if !ok {
			fmt.Fprintf(tw, "%s\tskipped\t-\t-\t\n", id)
			continue
		}
		coverage := "-"
		if o.Coverage != nil {
			coverage = o.Coverage.String()
		}
		status, detail := string(o.Status), o.Reason
		if o.Succeeded() && o.Partial {
			status = "partial"
			detail = fmt.Sprintf("%d segments missing", len(o.MissingSegments))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", id, status, o.Rows, coverage, detail)
	}
	_ = tw.Flush()
}

// parseDownloadFlags parses command line arguments for the download command
func parseDownloadFlags(args []string) (*DownloadFlags, error) {
	flags := &DownloadFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--instruments", "-i":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Instruments = splitList(v)
		case "--start", "-s":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Start = v
		case "--end", "-e":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.End = v
		case "--formats", "-f":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Formats = splitList(v)
		case "--years", "-y":
			n, err := intFlag(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Years = n
		case "--retry", "-r":
			n, err := intFlag(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Retry = n
		case "--dir", "-o":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Dir = v
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

// parseValidateFlags parses command line arguments for the validate command
func parseValidateFlags(args []string) (*ValidateFlags, error) {
	flags := &ValidateFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--instruments", "-i":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Instruments = splitList(v)
		case "--format", "-f":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Format = strings.ToLower(v)
		case "--dir", "-o":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Dir = v
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

// parseBacktestFlags parses command line arguments for the backtest command
func parseBacktestFlags(args []string) (*BacktestFlags, error) {
	flags := &BacktestFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--instrument", "-i":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Instrument = v
		case "--short":
			n, err := intFlag(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Short = n
		case "--long":
			n, err := intFlag(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Long = n
		case "--cash":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			cash, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, usagef("invalid --cash value: %v", err)
			}
			flags.Cash = cash
		case "--format", "-f":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Format = strings.ToLower(v)
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

// parseScheduleFlags parses command line arguments for the schedule command
func parseScheduleFlags(args []string) (*ScheduleFlags, error) {
	flags := &ScheduleFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--at", "-a":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.At = v
		case "--timezone", "-z":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Timezone = v
		case "--instruments", "-i":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Instruments = splitList(v)
		case "--status-addr":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.StatusAddr = v
		case "--now":
			flags.Now = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

// parseConfigFlags parses command line arguments for the config command
func parseConfigFlags(args []string) (*ConfigFlags, error) {
	flags := &ConfigFlags{}
	for _, arg := range args {
		switch arg {
		case "--save":
			flags.Save = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", arg)
		}
	}
	return flags, nil
}

func flagValue(args []string, i *int) (string, error) {
	name := args[*i]
	if *i+1 >= len(args) {
		return "", usagef("%s requires a value", name)
	}
	*i++
	return args[*i], nil
}

func intFlag(args []string, i *int) (int, error) {
	name := args[*i]
	v, err := flagValue(args, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, usagef("invalid %s value: %q", name, v)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// printUsage displays the main usage information
func printUsage() {
	fmt.Printf(`%s - OHLCV Archiver CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    download    Download, clean and persist daily bars for a set of instruments
    validate    Re-read persisted artifacts and write the manifest
    list        Show the coverage of successfully downloaded instruments
    backtest    Run the moving-average crossover demo on one instrument
    schedule    Run the download every day at a fixed time
    config      Show or save the effective configuration

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Download two instruments since 2015 as parquet and csv
    %s download --instruments 510300.SH,000001.SZ --start 20150101 --formats parquet,csv

    # Validate every parquet artifact in the output directory
    %s validate --format parquet

    # Backtest MA(5)/MA(20) on an archived ETF
    %s backtest --instrument 510300.SH

CONFIGURATION:
    Configuration is read from %s (YAML or JSON; override the path with
    ARCHIVER_CONFIG), then %s, then environment variables such as
    OUTPUT_DIR, YEARS_PER_SEGMENT, RETRY_TIMES, START_DATE and GATEWAY_URL.

EXIT CODES:
    0 success, 1 usage, 2 configuration, 3 output directory unusable,
    4 some instruments failed, 130 interrupted

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigFile, EnvFile, AppName)
}

// printCommandHelp displays help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "download":
		fmt.Printf(`Download daily bars for a batch of instruments.

USAGE:
    %s download [options]

OPTIONS:
    --instruments, -i   Comma-separated instrument ids (default: configured universe)
    --start, -s         Start date, YYYYMMDD or YYYY-MM-DD (default: 20000101)
    --end, -e           End date (default: today)
    --formats, -f       Comma-separated formats: parquet, csv, xlsx
    --years, -y         Maximum years per upstream request (default: 3)
    --retry, -r         Attempts per segment (default: 3)
    --dir, -o           Output directory (default: ./data)
    --help, -h          Show this help
`, AppName)
	case "validate":
		fmt.Printf(`Validate persisted artifacts and write manifest.json.

USAGE:
    %s validate [options]

OPTIONS:
    --instruments, -i   Comma-separated ids (default: every artifact found)
    --format, -f        Artifact format to validate (default: first configured)
    --dir, -o           Output directory
    --help, -h          Show this help
`, AppName)
	case "list":
		fmt.Printf(`List downloaded instruments and their coverage.

USAGE:
    %s list

Reads the DuckDB catalog when catalog.enabled is set, otherwise stock_list.csv.
`, AppName)
	case "backtest":
		fmt.Printf(`Run the moving-average crossover demo.

USAGE:
    %s backtest --instrument ID [options]

OPTIONS:
    --instrument, -i    Instrument id (required)
    --short             Short window (default: 5)
    --long              Long window (default: 20)
    --cash              Initial cash (default: 100000)
    --format, -f        Artifact format to read
    --help, -h          Show this help
`, AppName)
	case "config":
		fmt.Printf(`Show the effective configuration.

USAGE:
    %s config [options]

OPTIONS:
    --save              Write the effective configuration to the config file
    --help, -h          Show this help
`, AppName)
	case "schedule":
		fmt.Printf(`Run the download every day at a fixed wall-clock time.

USAGE:
    %s schedule [options]

OPTIONS:
    --at, -a            Time of day, HH:MM (default: 16:30)
    --timezone, -z      IANA timezone (default: Asia/Shanghai)
    --instruments, -i   Comma-separated ids (default: configured universe)
    --status-addr       Serve /health, /ready and /metrics on this address
    --now               Also run once immediately
    --help, -h          Show this help
`, AppName)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
	}
}
