package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/SteelMorgan/cutthelog/internal/config"
	"github.com/SteelMorgan/cutthelog/internal/logreader"
	"github.com/SteelMorgan/cutthelog/internal/observability"
	"github.com/SteelMorgan/cutthelog/internal/offset"
	"github.com/SteelMorgan/cutthelog/internal/service"
	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
)

// Version information (set at build time)
var Version = "dev"

const description = `Print the lines appended to a log file since the previous run.

The position reached in each file is kept in a cache together with a
fingerprint of the last line read, so replaced or truncated files are
read again from the start.`

// CLI is the root command structure for cutthelog
type CLI struct {
	// Global flags
	CacheFile      string           `short:"c" placeholder:"PATH" help:"Cache file (default: ./.cutthelog if it exists, else ~/.cutthelog)"`
	CacheDelimiter string           `placeholder:"SEP" default:"##" help:"Field separator of the text cache"`
	Backend        string           `default:"text" enum:"text,bolt" help:"Cache backend (text, bolt)"`
	LockTimeout    time.Duration    `default:"5s" help:"How long to wait for a concurrent run to release the cache (0 disables locking)"`
	LogLevel       string           `default:"warn" enum:"trace,debug,info,warn,error" help:"Diagnostics level (written to stderr)"`
	LogFile        string           `placeholder:"PATH" help:"Also append JSON diagnostics to this file"`
	Verbose        bool             `short:"v" help:"Same as --log-level=debug"`
	Config         string           `placeholder:"PATH" help:"YAML configuration file (also CUTTHELOG_CONFIG)"`
	PrintVersion   kong.VersionFlag `name:"version" short:"V" help:"Print version and exit"`

	// Commands
	Cut     CutCmd     `cmd:"" default:"withargs" help:"Print unseen lines of a log file (default command)"`
	List    ListCmd    `cmd:"" help:"List cached positions"`
	Forget  ForgetCmd  `cmd:"" help:"Drop the cached position of a log file"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Globals holds shared state for all commands
type Globals struct {
	Config   *config.Config
	FlagsSet map[string]bool
	Stdout   io.Writer
	Stderr   io.Writer
}

// Run parses args, executes the selected command and returns the exit code.
// exit is called by kong for --help and --version.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, exit func(int)) int {
	var c CLI

	parser, err := kong.New(&c,
		kong.Name("cutthelog"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		kong.Writers(stdout, stderr),
		kong.Exit(exit),
		kong.Vars{"version": "cutthelog " + Version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		fmt.Fprintf(stderr, "cutthelog: %v\n", err)
		return ExitUsage
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "cutthelog: %v\n", err)
		return ExitUsage
	}

	// Record which flags were explicitly provided so that configuration
	// values are only overridden by real command line input.
	flagsSet := map[string]bool{}
	for _, p := range kctx.Path {
		if p.Flag != nil {
			flagsSet[p.Flag.Name] = true
		}
	}

	cfg, err := c.resolveConfig(flagsSet)
	if err != nil {
		fmt.Fprintf(stderr, "cutthelog: %v\n", err)
		return ExitUsage
	}

	closeLog := observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(stderr, "cutthelog: failed to close log file: %v\n", err)
		}
	}()

	shutdown, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "cutthelog",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Protocol:       cfg.Tracing.Protocol,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	globals := &Globals{
		Config:   cfg,
		FlagsSet: flagsSet,
		Stdout:   stdout,
		Stderr:   stderr,
	}

	if err := kctx.Run(globals); err != nil {
		fmt.Fprintf(stderr, "cutthelog: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}

// resolveConfig layers explicitly set flags over the loaded configuration
func (c *CLI) resolveConfig(flagsSet map[string]bool) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}

	if flagsSet["cache-file"] {
		cfg.CacheFile = c.CacheFile
	}
	if flagsSet["cache-delimiter"] {
		cfg.CacheDelimiter = c.CacheDelimiter
	}
	if flagsSet["backend"] {
		cfg.CacheBackend = c.Backend
	}
	if flagsSet["lock-timeout"] {
		cfg.LockTimeout = c.LockTimeout
	}
	if flagsSet["log-level"] {
		cfg.LogLevel = c.LogLevel
	}
	if flagsSet["log-file"] {
		cfg.LogFile = c.LogFile
	}
	if c.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openService opens the configured cache and builds a service on top of it.
// The returned function closes the cache and must be called when done.
func (g *Globals) openService() (*service.CutService, func(), error) {
	store, err := offset.Open(offset.Options{
		Backend:     g.Config.CacheBackend,
		Path:        g.Config.CacheFile,
		Delimiter:   g.Config.CacheDelimiter,
		OpenTimeout: g.Config.LockTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Str("cache", g.Config.CacheFile).Msg("Failed to close cache")
		}
	}

	svc, err := service.NewCutService(store, logreader.NewReader(0), g.Config.LockTimeout)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}

// VersionCmd shows version information
type VersionCmd struct{}

// Run executes the version command
func (v *VersionCmd) Run(globals *Globals) error {
	_, err := io.WriteString(globals.Stdout, "cutthelog "+Version+"\n")
	return err
}

// Main is the entry point used by cmd/cutthelog
func Main(ctx context.Context) int {
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Exit)
}
