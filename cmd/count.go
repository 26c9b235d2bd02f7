package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// newCountCmd creates the 'count' subcommand.
func newCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <set|subset|targets-file>",
		Short: "Counts the records of sets without downloading anything",
		Long: `Counts the records of every target and, for sets, of each of their subsets.
The counts are written to <timestamp>_counted_records.csv in the state directory.`,
		Args: cobra.ExactArgs(1),
		RunE: runCountCommand,
	}
	cmd.Flags().String("state-dir", "", "directory for the counts file (overrides harvest.state_dir)")
	cmd.Flags().String("loglevel", "", "debug, info, warning, error or critical (overrides logging.level)")
	return cmd
}

func runCountCommand(cmd *cobra.Command, args []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close(cmd.ErrOrStderr())

	targets, err := harvest.LoadTargets(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(app)
	if err != nil {
		return err
	}
	h, cleanup, err := buildHarvester(ctx, app, svc, harvestOptions{})
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := h.Count(ctx, targets)
	exportMetrics(app)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	for _, set := range summary.Sets {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", set.Target, set.Total)
	}
	app.Logger.Info("counting finished",
		zap.Int("targets", len(summary.Sets)),
		zap.String("file", filepath.Join(app.Config.Harvest.StateDir, h.Stamp()+"_"+harvest.StatisticsFile)),
	)
	return nil
}
