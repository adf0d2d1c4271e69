package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pipemesh/internal/config"
	"pipemesh/internal/launcher"
)

// RootOptions holds the flags of the root command, which launches a run.
type RootOptions struct {
	Verbose    bool
	ConfigFile string
	Config     config.Config

	// Launch tunes the launcher (for testing).
	Launch launcher.Options
}

// NewRootCommand creates the root command of the pipemesh CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(launcher.Options{})
}

func newRootCommand(launch launcher.Options) *cobra.Command {
	opts := &RootOptions{Config: config.Default(), Launch: launch}

	cmd := &cobra.Command{
		Use:   "pipemesh",
		Short: "Lamport mutual exclusion over a mesh of pipes",
		Long: `Launch a coordinator and N workers connected by a full mesh of anonymous
pipes. Every worker announces itself, runs its share of work (inside a
critical section guarded by Lamport's mutual exclusion with --mutexl), then
waits for every other worker to be done.

Example:
  pipemesh -p 3
  pipemesh -p 4 --mutexl --trace-db trace.db
  pipemesh --config pipemesh.yaml --mode task`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd, opts)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file (flags take precedence)")
	bindRunFlags(flags, &opts.Config)
	flags.StringVar((*string)(&opts.Config.Mode), "mode", string(opts.Config.Mode), "how workers are spawned (process|task)")

	cmd.AddCommand(NewPeerCommand(opts))
	cmd.AddCommand(NewLayoutCommand(opts))

	return cmd
}

// bindRunFlags registers the flags shared by the root and peer commands.
func bindRunFlags(flags *pflag.FlagSet, cfg *config.Config) {
	flags.IntVarP(&cfg.Procs, "procs", "p", cfg.Procs, "number of workers (1-10)")
	flags.BoolVar(&cfg.Mutexl, "mutexl", cfg.Mutexl, "guard the work with the distributed mutex")
	flags.StringVar(&cfg.EventsLog, "events-log", cfg.EventsLog, "path of the events log")
	flags.StringVar(&cfg.PipesLog, "pipes-log", cfg.PipesLog, "path of the pipes log")
	flags.StringVar(&cfg.TraceDB, "trace-db", cfg.TraceDB, "SQLite database recording critical sections")
	flags.IntVar(&cfg.WorkFactor, "work-factor", cfg.WorkFactor, "critical sections per unit of worker id")
}

// resolveConfig layers the configuration file under the flags that were set
// explicitly on the command line.
func resolveConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg := opts.Config
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, WrapExitError(ExitConfigError, "failed to load configuration", err)
		}
		fromFile := *loaded
		cmd.Flags().Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "procs":
				fromFile.Procs = cfg.Procs
			case "mutexl":
				fromFile.Mutexl = cfg.Mutexl
			case "mode":
				fromFile.Mode = cfg.Mode
			case "events-log":
				fromFile.EventsLog = cfg.EventsLog
			case "pipes-log":
				fromFile.PipesLog = cfg.PipesLog
			case "trace-db":
				fromFile.TraceDB = cfg.TraceDB
			case "work-factor":
				fromFile.WorkFactor = cfg.WorkFactor
			}
		})
		cfg = fromFile
	}
	cfg.Verbose = cfg.Verbose || opts.Verbose
	return &cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runLauncher(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	launch := opts.Launch
	launch.Stdout = cmd.OutOrStdout()
	launch.Stderr = cmd.ErrOrStderr()
	return classify("run failed", launcher.Run(ctx, cfg, launch))
}
