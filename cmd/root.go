// Package cmd defines and implements the CLI commands of the journal-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/clock/system"
	"github.com/JakeFAU/journal-harvester/internal/config"
	"github.com/JakeFAU/journal-harvester/internal/logging"
	"github.com/JakeFAU/journal-harvester/internal/version"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles what every command needs once configuration is loaded.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Counter *logging.Counter
	Version string
	// Stamp names this invocation's log file.
	Stamp string
}

// Close flushes the logger and tells the operator whether anything went
// wrong along the way. Commands defer it so it also runs on failure.
func (a *App) Close(w io.Writer) {
	if a.Counter != nil && a.Counter.Any() {
		where := "the console output above"
		if dir := a.Config.Logging.Dir; dir != "" {
			where = fmt.Sprintf("%s/%s_harvest.log", dir, a.Stamp)
		}
		_, _ = fmt.Fprintf(w, "There were %d warnings and %d errors during this run, see %s.\n",
			a.Counter.Warnings(), a.Counter.Errors(), where)
	}
	_ = a.Logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
}

// newApp is the application factory. It's a variable so tests can swap in a
// factory that skips version resolution.
var newApp = func(_ context.Context, configPath string, overrides []config.Override) (*App, error) {
	marker, err := version.Current()
	if err != nil {
		return nil, fmt.Errorf("determine version marker (build with -ldflags \"-X %s.Value=...\" or from a git checkout): %w",
			"github.com/JakeFAU/journal-harvester/internal/version", err)
	}
	cfg, err := config.Load(configPath, overrides...)
	if err != nil {
		return nil, err
	}
	counter := &logging.Counter{}
	stamp := system.Stamp(system.New(nil).Now())
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Dir:         cfg.Logging.Dir,
		Stamp:       stamp,
		Counter:     counter,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &App{Config: cfg, Logger: logger, Counter: counter, Version: marker, Stamp: stamp}, nil
}

// flagKeys maps command flags onto the config keys they override.
var flagKeys = map[string]string{
	"download-root": "harvest.download_root",
	"state-dir":     "harvest.state_dir",
	"workers":       "harvest.workers",
	"loglevel":      "logging.level",
}

// flagOverrides turns every explicitly set flag of flagKeys into an override.
func flagOverrides(cmd *cobra.Command) ([]config.Override, error) {
	var overrides []config.Override
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		var value any = flag.Value.String()
		if name == "workers" {
			n, err := cmd.Flags().GetInt(name)
			if err != nil {
				return nil, fmt.Errorf("read --%s: %w", name, err)
			}
			value = n
		}
		overrides = append(overrides, config.Override{Key: key, Value: value})
	}
	return overrides, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "journal-harvester",
		Short: "Harvests open access journal articles from an OAI-PMH aggregator.",
		Long: `journal-harvester walks the sets of an OAI-PMH journal aggregator, resolves
every record to its article page, writes Dublin Core descriptions next to the
article files and keeps enough state on disk to resume an interrupted run.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the App after flags are parsed but before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			overrides, err := flagOverrides(cmd)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfgFile, overrides)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newCountCmd())
	cmd.AddCommand(newSetfileCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "journal-harvester: %v\n", err)
		os.Exit(1)
	}
}
