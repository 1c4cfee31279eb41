// Package cli implements the unpaywall command-line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/unpaywall-client/internal/config"
	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/lookup"
	"github.com/helixir/unpaywall-client/internal/observability"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ClientFactory builds the lookup client from the loaded configuration.
type ClientFactory func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*lookup.Client, error)

// App holds the I/O streams and collaborators of one CLI invocation.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// NewClient defaults to lookup.NewFromConfig.
	NewClient ClientFactory
	// OpenURL and OpenFile default to the system browser and PDF viewer.
	OpenURL  func(url string) error
	OpenFile func(path string) error

	flags    globalFlags
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	client   *lookup.Client
}

type globalFlags struct {
	configFile  string
	errors      string
	backend     string
	snapshot    string
	cachePath   string
	logLevel    string
	force       bool
	ignoreCache bool
}

// usageError marks a mistake in the command line. It maps to ExitUsage.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usage(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// withUsage wraps a cobra positional argument check so its failures are usage errors.
func withUsage(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usage(check(cmd, args))
	}
}

// Execute runs the command line args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	app := &App{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	return app.Run(ctx, args)
}

// Run executes args against the app and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	a.defaults()

	root := a.NewRootCommand()
	root.SetArgs(args)
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)

	cmd, err := root.ExecuteContextC(ctx)
	err = errors.Join(err, a.teardown())
	if err == nil {
		return ExitOK
	}

	code := exitCode(err)
	fmt.Fprintf(a.Stderr, "error: %v\n", err)
	if code == ExitUsage && cmd != nil {
		fmt.Fprintf(a.Stderr, "Run '%s --help' for usage.\n", cmd.CommandPath())
	}
	return code
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ue),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidInput),
		strings.HasPrefix(err.Error(), "unknown command"):
		return ExitUsage
	default:
		return ExitFailure
	}
}

func (a *App) defaults() {
	if a.NewClient == nil {
		a.NewClient = lookup.NewFromConfig
	}
	if a.OpenURL == nil {
		a.OpenURL = browser.OpenURL
	}
	if a.OpenFile == nil {
		a.OpenFile = browser.OpenFile
	}
	if a.Stdout == nil {
		a.Stdout = io.Discard
	}
	if a.Stderr == nil {
		a.Stderr = io.Discard
	}
}

// NewRootCommand builds the command tree.
func (a *App) NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "unpaywall",
		Short:         "Command-line tool for the Unpaywall API",
		Long:          "Look up open-access metadata for DOIs through a local response cache, and fetch their PDFs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          withUsage(cobra.NoArgs),
		Annotations: map[string]string{
			annotationNoClient: "true",
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return usagef("no command given")
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usage(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configFile, "config", "", "configuration file (default ./config.yaml if present)")
	pf.StringVarP(&a.flags.errors, "errors", "e", "", "error behaviour: raise or ignore")
	pf.StringVarP(&a.flags.backend, "backend", "b", "", "response source: cache, remote or snapshot")
	pf.StringVar(&a.flags.snapshot, "snapshot", "", "JSON-lines dump used by the snapshot backend")
	pf.StringVar(&a.flags.cachePath, "cache-path", "", "location of the response cache")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&a.flags.force, "force", false, "re-fetch records even when cached")
	pf.BoolVar(&a.flags.ignoreCache, "ignore-cache", false, "fetch without reading or writing the cache")

	root.AddCommand(
		a.newLinkCommand(),
		a.newLinksCommand(),
		a.newDownloadCommand(),
		a.newViewCommand(),
		a.newRecordsCommand(),
		a.newQueryCommand(),
		a.newCacheCommand(),
		a.newServeCommand(),
		a.newMigrateCommand(),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the client.
func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadFile(a.flags.configFile)
	if err != nil {
		return usage(fmt.Errorf("loading configuration: %w", err))
	}
	if err := a.applyFlags(cfg); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Caller: cfg.Logging.Caller,
	}, a.Stdout, a.Stderr)

	a.registry = prometheus.NewRegistry()
	a.metrics = observability.NewMetrics(cfg.Metrics.Namespace, a.registry)

	if cmd.Annotations[annotationNoClient] != "" {
		return nil
	}
	a.client, err = a.NewClient(cmd.Context(), cfg, a.logger, a.metrics)
	if err != nil {
		return err
	}
	return nil
}

func (a *App) applyFlags(cfg *config.Config) error {
	f := a.flags
	if f.errors != "" {
		mode, err := domain.ParseErrorMode(f.errors)
		if err != nil {
			return err
		}
		cfg.API.ErrorMode = string(mode)
	}
	if f.backend != "" {
		backend, err := domain.ParseBackend(f.backend)
		if err != nil {
			return err
		}
		cfg.API.Backend = string(backend)
	}
	if f.snapshot != "" {
		cfg.API.SnapshotPath = f.snapshot
	}
	if f.cachePath != "" {
		cfg.Cache.Path = f.cachePath
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return usage(cfg.Validate())
}

// teardown closes the client and writes the metrics textfile, if configured.
func (a *App) teardown() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	if a.cfg != nil && a.cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics textfile: %w", err))
		}
	}
	return errors.Join(errs...)
}

// lookupOptions returns the options shared by every lookup command.
func (a *App) lookupOptions() lookup.Options {
	return lookup.Options{
		ErrorMode:   domain.ErrorMode(a.cfg.API.ErrorMode),
		Force:       a.flags.force,
		IgnoreCache: a.flags.ignoreCache,
	}
}
