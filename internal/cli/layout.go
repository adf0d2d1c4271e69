package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pipemesh/internal/config"
	"pipemesh/internal/fabric"
)

// NewLayoutCommand creates the layout command, which prints how the channels
// of a mesh are laid out in the fabric arena.
func NewLayoutCommand(rootOpts *RootOptions) *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the channel arena of a mesh",
		Long: `Print every channel of the mesh of a coordinator and N workers, with its
position in the fabric arena.

Example:
  pipemesh layout -p 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return WrapExitError(ExitConfigError, "invalid mesh", err)
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), fabric.Layout(cfg.Total()))
			return err
		},
	}

	cmd.Flags().IntVarP(&cfg.Procs, "procs", "p", 0, "number of workers (1-10)")

	return cmd
}
