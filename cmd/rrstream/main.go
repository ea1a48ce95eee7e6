// rrstream parses replay files and replay archives into JSON.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"

	"github.com/vertti/rrstream/internal/archive"
	"github.com/vertti/rrstream/internal/batch"
	"github.com/vertti/rrstream/internal/config"
	"github.com/vertti/rrstream/internal/encoder"
	"github.com/vertti/rrstream/internal/pipeline"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

var errTooManyInputs = errors.New("expected one input file when --multiple is not specified")

type options struct {
	crcCheck     bool
	networkParse bool
	multiple     bool
	pretty       bool
	jsonLines    bool
	dryRun       bool
	workers      int
	maxEntrySize uint64
	configPath   string
	logLevel     string
	pushgateway  string
}

func main() {
	// Writes to a closed stdout must fail with EPIPE instead of killing the
	// process, so a downstream `head` ends the run cleanly.
	signal.Notify(make(chan os.Signal, 1), syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if pipeline.IsBrokenPipe(err) {
			return exitSuccess
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	return exitSuccess
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "rrstream [flags] [inputs...]",
		Short: "Parse replays and replay archives into JSON",
		Long: `rrstream decodes replay files and writes them as JSON.

A first input ending in .zip is processed as an archive: every entry is
decompressed, checked against its declared CRC-32 and parsed in parallel,
and the results are written to stdout as JSON lines.

With --multiple, inputs are files or directories searched recursively for
*.replay files; each replay is written to a sibling <file>.json unless
--json-lines or --dry-run is given. Otherwise a single replay is read from
the named file or stdin.`,
		Example: `  rrstream game.replay
  rrstream --pretty < game.replay
  rrstream -m ./replays
  rrstream -m -j ./replays | head
  rrstream --dry-run season.zip`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &o)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, &o, args, stdin, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&o.crcCheck, "crc-check", "c", false, "verify replay checksums even when the replay parses")
	f.BoolVarP(&o.networkParse, "network-parse", "n", false, "decode the replay body instead of skipping it")
	f.BoolVarP(&o.multiple, "multiple", "m", false, "parse every replay in the given files and directories")
	f.BoolVarP(&o.pretty, "pretty", "p", false, "pretty-print JSON (ignored for JSON lines)")
	f.BoolVarP(&o.jsonLines, "json-lines", "j", false, "with --multiple, write JSON lines to stdout")
	f.BoolVar(&o.dryRun, "dry-run", false, "parse but only report outcomes")
	f.IntVarP(&o.workers, "workers", "w", 0, "parallel workers (default: NumCPU)")
	f.Uint64Var(&o.maxEntrySize, "max-entry-size", pipeline.DefaultMaxEntrySize, "largest declared entry size in bytes")
	f.StringVar(&o.configPath, "config", "", "YAML config file")
	f.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.StringVar(&o.pushgateway, "pushgateway", "", "push run metrics to this Prometheus Pushgateway URL")

	return cmd
}

// resolveConfig layers explicitly set flags over the config file, which in
// turn overrides the defaults.
func resolveConfig(cmd *cobra.Command, o *options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if o.crcCheck {
		cfg.CrcCheck = "always"
	}
	if o.networkParse {
		cfg.NetworkParse = "always"
	}
	if o.pretty {
		cfg.Pretty = true
	}
	if f.Changed("workers") {
		cfg.Workers = o.workers
	}
	if f.Changed("max-entry-size") {
		cfg.MaxEntrySize = o.maxEntrySize
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if f.Changed("pushgateway") {
		cfg.Metrics.Pushgateway = o.pushgateway
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func execute(ctx context.Context, cfg *config.Config, o *options, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	popts := &pipeline.Options{
		Workers:      cfg.Workers,
		MaxEntrySize: cfg.MaxEntrySize,
		Replay:       cfg.ReplayOptions(),
		Logger:       logger,
		Metrics:      pipeline.NewMetrics(reg),
	}

	out := bufio.NewWriterSize(stdout, 1<<16)
	switch {
	case len(args) > 0 && strings.EqualFold(filepath.Ext(args[0]), ".zip"):
		err = runArchive(ctx, args[0], o, popts, out, stderr)
	case o.multiple:
		err = runMultiple(ctx, args, cfg, o, popts, out, stderr)
	case len(args) > 1:
		return errTooManyInputs
	default:
		err = runSingle(args, stdin, cfg, o, popts, out)
	}
	if flushErr := out.Flush(); err == nil && flushErr != nil {
		err = fmt.Errorf("writing output: %w", flushErr)
	}

	if cfg.Metrics.Pushgateway != "" {
		if pushErr := push.New(cfg.Metrics.Pushgateway, cfg.Metrics.Job).Gatherer(reg).PushContext(ctx); pushErr != nil {
			logger.Warn("pushing metrics failed",
				slog.String("url", cfg.Metrics.Pushgateway),
				slog.Any("error", pushErr))
		}
	}
	return err
}

func runArchive(ctx context.Context, path string, o *options, popts *pipeline.Options, out io.Writer, stderr io.Writer) error {
	ix, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer ix.Close() //nolint:errcheck // read-only file

	mode := pipeline.ModeJSONLines
	if o.dryRun {
		mode = pipeline.ModeReport
	}
	_, err = pipeline.Run(ctx, ix, pipeline.NewSink(mode, out, stderr), popts)
	return err
}

func runMultiple(ctx context.Context, args []string, cfg *config.Config, o *options, popts *pipeline.Options, out io.Writer, stderr io.Writer) error {
	paths, errs := batch.Expand(args)
	for _, err := range errs {
		fmt.Fprintf(stderr, "%v\n", err)
	}

	mode := pipeline.ModeFiles
	switch {
	case o.dryRun:
		mode = pipeline.ModeReport
	case o.jsonLines:
		mode = pipeline.ModeJSONLines
	}
	_, err := pipeline.RunFiles(ctx, paths, pipeline.NewSink(mode, out, stderr, pipeline.WithPretty(cfg.Pretty)), popts)
	return err
}

func runSingle(args []string, stdin io.Reader, cfg *config.Config, o *options, popts *pipeline.Options, out io.Writer) error {
	name, in := "stdin", stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0]) //nolint:gosec // CLI tool needs to open user-specified files
		if err != nil {
			return fmt.Errorf("cannot open input: %w", err)
		}
		defer f.Close() //nolint:errcheck // read-only file
		name, in = args[0], f
	}

	res := pipeline.ParseReader(name, in, popts)
	if !res.OK() {
		return fmt.Errorf("unable to parse replay %w", res.Err)
	}
	if o.dryRun {
		return nil
	}
	return encoder.WriteReplay(out, res.Replay, cfg.Pretty)
}
