package cli

import (
	"github.com/spf13/cobra"

	"pipemesh/internal/common"
	"pipemesh/internal/config"
	"pipemesh/internal/launcher"
)

// PeerOptions holds the flags of the peer command.
type PeerOptions struct {
	*RootOptions
	ID     int
	RunID  string
	Config config.Config
}

// NewPeerCommand creates the command a worker process runs. The launcher
// invokes it with the fabric inherited from descriptor 3 on; it is not meant
// to be typed by hand.
func NewPeerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeerOptions{RootOptions: rootOpts, Config: config.Default()}

	cmd := &cobra.Command{
		Use:           "peer",
		Short:         "Run one worker of a mesh (internal)",
		Hidden:        true,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			cfg.Mode = config.ModeProcess
			cfg.Verbose = opts.Verbose

			ctx, stop := signalContext(cmd)
			defer stop()

			err := launcher.RunWorker(ctx, &cfg, common.Pid(opts.ID), opts.RunID, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return classify("worker failed", err)
		},
	}

	cmd.Flags().IntVar(&opts.ID, "id", 0, "worker id (1..procs)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "identifier of the run")
	bindRunFlags(cmd.Flags(), &opts.Config)
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
