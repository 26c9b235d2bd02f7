package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

type harvestFlags struct {
	ids     []string
	idsFile string
	urlLUT  string
}

// newHarvestCmd creates the 'harvest' subcommand, the main mode of the tool.
func newHarvestCmd() *cobra.Command {
	var flags harvestFlags
	cmd := &cobra.Command{
		Use:   "harvest <set|subset|targets-file>",
		Short: "Downloads every article of the given sets",
		Long: `Harvests a set (e.g. HINDAWI.AA) or a subset (e.g. HINDAWI.AA:2019). When the
argument names an existing file, each of its lines is harvested in turn.

Every target gets a fresh folder <target>_<timestamp> under the download root.
The identifiers still to do are kept in <folder>_remaining_record_ids.txt in
the state directory; pass that file to --ids-file to resume a stopped run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvestCommand(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.ids, "ids", nil, "harvest only these record identifiers")
	cmd.Flags().StringVar(&flags.idsFile, "ids-file", "", "file with one record identifier per line")
	cmd.Flags().StringVar(&flags.urlLUT, "urllut", "", "JSON object mapping DOI URLs to article URLs")
	cmd.Flags().String("download-root", "", "root of the output tree (overrides harvest.download_root)")
	cmd.Flags().String("state-dir", "", "directory for manifests and reports (overrides harvest.state_dir)")
	cmd.Flags().String("loglevel", "", "debug, info, warning, error or critical (overrides logging.level)")
	cmd.Flags().Int("workers", 1, "records processed at once, 1 to 4 (overrides harvest.workers)")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, target string, flags harvestFlags) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close(cmd.ErrOrStderr())
	logger := app.Logger

	if err := app.Config.CheckDownloadRoot(); err != nil {
		return err
	}
	targets, err := harvest.LoadTargets(target)
	if err != nil {
		return err
	}
	ids, err := collectIDs(flags.ids, flags.idsFile)
	if err != nil {
		return err
	}
	var table harvest.URLTable
	if flags.urlLUT != "" {
		if table, err = harvest.LoadURLTable(flags.urlLUT); err != nil {
			return err
		}
		logger.Info("loaded url lookup table", zap.String("file", flags.urlLUT), zap.Int("entries", len(table)))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(app)
	if err != nil {
		return err
	}
	h, cleanup, err := buildHarvester(ctx, app, svc, harvestOptions{download: true, table: table})
	if err != nil {
		return err
	}
	defer cleanup()
	stopServer := startStatusServer(app, h)
	defer stopServer()

	logger.Info("harvest started",
		zap.String("run_id", h.RunID()),
		zap.String("version", app.Version),
		zap.Strings("targets", targets),
		zap.Int("ids", len(ids)),
		zap.Int("workers", app.Config.Harvest.Workers),
	)
	summary, runErr := h.Run(ctx, targets, ids)
	exportMetrics(app)
	reportSummary(logger, summary)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run harvester: %w", runErr)
	}
	if ctx.Err() != nil {
		logger.Warn("harvest stopped before completion; resume with --ids-file and the remaining ids manifest")
		return nil
	}
	logger.Info("harvest finished", zap.String("run_id", summary.RunID))
	return nil
}

// collectIDs merges --ids with the lines of --ids-file.
func collectIDs(ids []string, idsFile string) ([]string, error) {
	out := append([]string(nil), ids...)
	if idsFile == "" {
		return out, nil
	}
	lines, err := harvest.ReadLines(idsFile)
	if err != nil {
		return nil, fmt.Errorf("read ids file: %w", err)
	}
	return append(out, lines...), nil
}

func reportSummary(logger *zap.Logger, summary harvest.Summary) {
	for _, set := range summary.Sets {
		fields := []zap.Field{
			zap.String("target", set.Target),
			zap.String("folder", set.Folder),
			zap.Int("total", set.Total),
			zap.Int("completed", set.Completed),
			zap.Int("requeues", set.Requeues),
			zap.Strings("failed", set.Failed),
			zap.Strings("skipped", set.Skipped),
			zap.Int("remaining", len(set.Remaining)),
		}
		if len(set.Failed) > 0 || len(set.Remaining) > 0 {
			logger.Warn("set incomplete", fields...)
			continue
		}
		logger.Info("set complete", fields...)
	}
	if len(summary.Invalid) > 0 {
		logger.Warn("targets skipped as invalid", zap.Strings("targets", summary.Invalid))
	}
}
