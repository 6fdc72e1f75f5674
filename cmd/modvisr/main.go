package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/modvisr/internal/config"
	"github.com/loykin/modvisr/internal/logger"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	remoteFlags := &RemoteFlags{}

	root := createRootCommand(globalFlags, runFlags)
	root.AddCommand(
		createListCommand(globalFlags),
		createWhichCommand(globalFlags),
		createStatusCommand(remoteFlags),
		createActionCommand("start", "Start a module on a running supervisor", remoteFlags),
		createActionCommand("stop", "Stop a module on a running supervisor", remoteFlags),
		createActionCommand("toggle", "Toggle a module on a running supervisor", remoteFlags),
	)
	return root
}

func createRootCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "modvisr",
		Short: "ActivityWatch module supervisor",
		Long: `Modvisr discovers aw-server and aw-watcher executables, starts the
requested ones (servers first) and keeps them under supervision until
interrupted.

Examples:
  modvisr                                       # discover and autostart defaults
  modvisr --autostart-modules aw-server,aw-watcher-afk
  modvisr --config modvisr.toml --verbose
  modvisr list                                  # print discovered modules
  modvisr status --api-url=http://127.0.0.1:5700/api`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			log, closer, err := logger.New(cfg.LoggerConfig())
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = closer.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s := &supervisor{
				cfg:    cfg,
				log:    log,
				reg:    prometheus.DefaultRegisterer,
				gather: prometheus.DefaultGatherer,
			}
			return s.run(ctx)
		},
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().BoolVar(&runFlags.Verbose, "verbose", false, "log at debug level")
	root.Flags().BoolVar(&runFlags.Testing, "testing", false, "pass --testing to every module")
	root.Flags().StringVar(&runFlags.AutostartModules, "autostart-modules", "", "comma separated modules to start (overrides config)")
	return root
}

// flagKeys maps CLI flags onto config keys.
var flagKeys = map[string]string{
	"testing":           "testing",
	"verbose":           "verbose",
	"autostart-modules": "autostart",
}

// loadConfig layers defaults, the optional file, MODVISR_* variables and any
// flag the user set on cmd.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	v := config.NewViper()
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	return config.LoadViper(v, path)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
