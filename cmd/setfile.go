package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// newSetfileCmd creates the 'setfile' subcommand.
func newSetfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setfile <output-file> <set>...",
		Short: "Appends the subsets of sets to a targets file",
		Long: `Looks up the subsets of every given set and appends them, one per line, to
the output file. The result can be passed to 'harvest' or 'count'. Subsets
given as input are skipped with a warning.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runSetfileCommand,
	}
	cmd.Flags().String("loglevel", "", "debug, info, warning, error or critical (overrides logging.level)")
	return cmd
}

func runSetfileCommand(cmd *cobra.Command, args []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close(cmd.ErrOrStderr())

	svc, err := buildServices(app)
	if err != nil {
		return err
	}
	n, err := harvest.AppendSetFile(cmd.Context(), svc.sets, args[1:], app.Config.Harvest.SetPrefix, args[0], app.Logger)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "appended %d subsets to %s\n", n, args[0])
	return nil
}
