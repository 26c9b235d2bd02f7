package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/journal-harvester/internal/version"
)

// newVersionCmd prints the version marker stamped into harvest.xml.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version marker",
		Args:  cobra.NoArgs,
		// Needs neither configuration nor a logger.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			marker, err := version.Current()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), marker)
			return nil
		},
	}
}
