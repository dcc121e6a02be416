package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/linkback/internal/config"
	"github.com/bamsammich/linkback/internal/engine"
	"github.com/bamsammich/linkback/internal/event"
	"github.com/bamsammich/linkback/internal/ignore"
	"github.com/bamsammich/linkback/internal/metrics"
	"github.com/bamsammich/linkback/internal/stats"
	"github.com/bamsammich/linkback/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// options holds the parsed flags of the root command.
type options struct {
	ref           string
	workers       int
	compare       string
	modifyWindow  time.Duration
	bwLimit       string
	ignoreFile    string
	rules         []ruleArg
	noManifest    bool
	verify        bool
	preserveOwner bool
	timeout       time.Duration
	metricsFile   string
	logFile       string
	verbose       bool
	quiet         bool
	noProgress    bool
	showVersion   bool
}

type ruleArg struct {
	pattern string
	include bool
}

// filterFlag is a pflag.Value that keeps --exclude and --include in the
// order they appear on the command line.
type filterFlag struct {
	rules   *[]ruleArg
	include bool
}

var _ pflag.Value = (*filterFlag)(nil)

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "pattern" }

func (f *filterFlag) Set(val string) error {
	// Validate now so a bad pattern fails at parse time.
	if err := ignore.New().Exclude(val); err != nil {
		return err
	}
	*f.rules = append(*f.rules, ruleArg{pattern: val, include: f.include})
	return nil
}

func run(args []string) int {
	return runWith(args, os.Stdout, os.Stderr)
}

func runWith(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "linkback [flags] <source> <destination>",
		Short: "Hardlink-deduplicating snapshot backups",
		Long: `linkback writes a complete, browsable copy of <source> at <destination>.
Files unchanged since the --ref snapshot are hardlinked to it instead of
copied, so every snapshot looks like a full backup but only changed files
cost space. The snapshot appears atomically: an interrupted run leaves
nothing at <destination>.

The closing summary lists every entry that could not be backed up. On a
terminal the list stops after the first 20; each failure is also logged.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "linkback %s\n", version)
				return nil
			}
			return snapshot(cmd, opts, args[0], args[1])
		},
	}

	f := rootCmd.Flags()
	f.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	f.StringVarP(&opts.ref, "ref", "r", "", "earlier snapshot to hardlink unchanged files against")
	f.IntVarP(&opts.workers, "workers", "n", 0, "number of workers (default: min(NumCPU*2, 32))")
	f.StringVar(&opts.compare, "compare", "metadata", "change detection: metadata (size+mtime) or content (BLAKE3)")
	f.DurationVar(&opts.modifyWindow, "modify-window", 0, "treat mtimes within this window as equal")
	f.StringVar(&opts.bwLimit, "bwlimit", "", "copy bandwidth limit (e.g. 100M, 1G)")
	f.Var(&filterFlag{rules: &opts.rules}, "exclude", "exclude entries matching PATTERN (repeatable)")
	f.Var(&filterFlag{rules: &opts.rules, include: true}, "include", "include entries matching PATTERN (repeatable)")
	f.StringVar(&opts.ignoreFile, "ignore-file", ignore.DefaultFileName,
		"ignore rules file; relative paths are read from the source root")
	f.BoolVar(&opts.noManifest, "no-manifest", false, "do not write a manifest beside the snapshot")
	f.BoolVar(&opts.verify, "verify", false, "verify checksums against the source after publishing (BLAKE3)")
	f.BoolVar(&opts.preserveOwner, "preserve-owner", false, "copy file ownership (needs privileges)")
	f.DurationVar(&opts.timeout, "timeout", 0, "abort the run after this long")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to FILE")
	f.StringVar(&opts.logFile, "log", "", "write structured JSON log to FILE")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all output except errors")
	f.BoolVar(&opts.noProgress, "no-progress", false, "disable progress display")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(newManifestCmd())
	rootCmd.AddCommand(newDocsCmd())
	return rootCmd
}

//nolint:gocyclo,revive // cyclomatic,cognitive-complexity: orchestrates the whole run
func snapshot(cmd *cobra.Command, opts *options, src, dst string) error {
	logger, closeLog, err := setupLogging(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
	}
	applyConfigDefaults(cmd, cfg.Defaults, opts)

	compare, err := engine.ParseCompareMode(opts.compare)
	if err != nil {
		return fmt.Errorf("invalid --compare: %w", err)
	}
	var bwLimit int64
	if opts.bwLimit != "" {
		bwLimit, err = config.ParseSize(opts.bwLimit)
		if err != nil {
			return fmt.Errorf("invalid --bwlimit: %w", err)
		}
	}
	ignoreExplicit := cmd.Flags().Changed("ignore-file") || cfg.Defaults.IgnoreFile != nil
	rules, err := buildIgnore(src, opts, ignoreExplicit)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)

	// With --log, events are also written as structured records before
	// reaching the presenter.
	presenterEvents := (<-chan event.Event)(events)
	if opts.logFile != "" {
		teed := make(chan event.Event, 256)
		go func() {
			for ev := range events {
				ui.LogEvent(logger, ev)
				teed <- ev
			}
			close(teed)
		}()
		presenterEvents = teed
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:     cmd.OutOrStdout(),
		ErrWriter:  cmd.ErrOrStderr(),
		Stats:      collector,
		IsTTY:      ui.IsTTY(os.Stderr),
		Quiet:      opts.quiet,
		Verbose:    opts.verbose,
		NoProgress: opts.noProgress,
	})

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	workers := opts.workers
	if workers <= 0 {
		workers = engine.DefaultWorkers()
	}
	logger.Debug("starting snapshot",
		"source", src,
		"destination", dst,
		"reference", opts.ref,
		"workers", workers,
		"compare", compare.String(),
		"ignore_rules", rules.Len(),
	)

	res := engine.Run(ctx, engine.Config{
		Source:        src,
		Destination:   dst,
		Reference:     opts.ref,
		Workers:       workers,
		Compare:       compare,
		ModifyWindow:  opts.modifyWindow,
		BWLimit:       bwLimit,
		Ignore:        rules,
		Manifest:      !opts.noManifest,
		PreserveOwner: opts.preserveOwner,
		Events:        events,
		Stats:         collector,
		Logger:        logger,
	})

	var vr *engine.VerifyResult
	if opts.verify && res.Published() && ctx.Err() == nil {
		v := engine.Verify(ctx, engine.VerifyConfig{
			SourceRoot:   src,
			SnapshotRoot: res.Snapshot,
			Workers:      workers,
			Events:       events,
			Stats:        collector,
		})
		vr = &v
	}

	stop()
	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "presenter: %v\n", presenterErr)
	}

	// A fatal run reports its one error line even when quiet.
	if !opts.quiet || res.Err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.Summary(res, vr, ui.SummaryOptions{
			Color:    ui.UseColor(os.Stderr),
			Truncate: ui.IsTTY(os.Stderr),
		}))
	}

	var verifyFailed int64
	if vr != nil {
		verifyFailed = vr.Failed
	}
	if opts.metricsFile != "" {
		writeMetrics(opts.metricsFile, res, verifyFailed)
	}

	switch {
	case res.Err != nil:
		logger.Debug("snapshot failed", "error", res.Err)
		return &exitError{code: 2}
	case res.Failed > 0 || verifyFailed > 0:
		return &exitError{code: 1} // published, but incomplete or mismatched
	}
	return nil
}

// setupLogging installs the default logger: text on stderr, plus JSON at
// debug level in the --log file. The returned func closes the log file.
func setupLogging(opts *options, stderr io.Writer) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch {
	case opts.verbose:
		level = slog.LevelDebug
	case opts.quiet:
		level = slog.LevelWarn
	}
	textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})

	var handler slog.Handler = textHandler
	closeFn := func() {}
	if opts.logFile != "" {
		lf, err := os.Create(opts.logFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closeFn = func() { _ = lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = ui.NewMultiHandler(textHandler, jsonHandler)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// buildIgnore loads the ignore file and appends the command-line rules
// after it. A missing file is only an error when it was asked for.
func buildIgnore(src string, opts *options, explicit bool) (*ignore.Rules, error) {
	rules := ignore.New()

	if opts.ignoreFile != "" {
		path := opts.ignoreFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(src, path)
		}
		found, err := rules.LoadIfExists(path)
		if err != nil {
			return nil, err
		}
		if !found && explicit {
			return nil, fmt.Errorf("ignore file %s: %w", path, os.ErrNotExist)
		}
		if found {
			slog.Debug("ignore file loaded", "path", path, "rules", rules.Len())
		}
	}

	for _, r := range opts.rules {
		var err error
		if r.include {
			err = rules.Include(r.pattern)
		} else {
			err = rules.Exclude(r.pattern)
		}
		if err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the CLI. Values were validated when the file was loaded.
func applyConfigDefaults(cmd *cobra.Command, d config.DefaultsConfig, opts *options) {
	changed := cmd.Flags().Changed

	if !changed("workers") && d.Workers != nil {
		opts.workers = *d.Workers
	}
	if !changed("compare") && d.Compare != nil {
		opts.compare = *d.Compare
	}
	if !changed("modify-window") && d.ModifyWindow != nil {
		if w, err := time.ParseDuration(*d.ModifyWindow); err == nil {
			opts.modifyWindow = w
		}
	}
	if !changed("bwlimit") && d.BWLimit != nil {
		opts.bwLimit = *d.BWLimit
	}
	if !changed("verify") && d.Verify != nil {
		opts.verify = *d.Verify
	}
	if !changed("no-manifest") && d.Manifest != nil {
		opts.noManifest = !*d.Manifest
	}
	if !changed("ignore-file") && d.IgnoreFile != nil {
		opts.ignoreFile = *d.IgnoreFile
	}
	if !changed("preserve-owner") && d.PreserveOwner != nil {
		opts.preserveOwner = *d.PreserveOwner
	}
	if !changed("metrics-file") && d.MetricsFile != nil {
		opts.metricsFile = *d.MetricsFile
	}
}

func writeMetrics(path string, res engine.RunResult, verifyFailed int64) {
	m := metrics.New()
	m.Observe(res, verifyFailed, time.Now())
	if err := m.Carry(path); err != nil {
		slog.Warn("previous metrics not carried over", "error", err)
	}
	if err := m.WriteFile(path); err != nil {
		slog.Warn("metrics not written", "path", path, "error", err)
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
