package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/modvisr/internal/discovery"
	"github.com/loykin/modvisr/internal/logger"
	"github.com/loykin/modvisr/pkg/client"
)

func createListCommand(globalFlags *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Discover modules and print them",
		Long: `Scan the bundled directory and the search path once and print every
module found, bundled modules first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			log := logger.Discard()
			if cfg.Verbose {
				if log, _, err = logger.New(cfg.LoggerConfig()); err != nil {
					return err
				}
			}
			mods, err := discoverModules(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out(cmd), mods)
			}
			return printModules(out(cmd), mods)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func createWhichCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "which NAME",
		Short: "Print the first executable named NAME on the search path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			p, err := discovery.FindExecutable(cmd.Context(), args[0], cfg.SearchPath())
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			_, _ = fmt.Fprintln(out(cmd), p)
			return nil
		},
	}
}

func createStatusCommand(flags *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [NAME]",
		Short: "Show module status from a running supervisor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := remoteContext(cmd.Context(), flags)
			defer cancel()
			c := newClient(flags)
			if len(args) == 1 {
				st, err := c.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printStatuses(out(cmd), flags.JSON, []client.ModuleStatus{st})
			}
			list, err := c.List(ctx)
			if err != nil {
				return err
			}
			return printStatuses(out(cmd), flags.JSON, list)
		},
	}
	addRemoteFlags(cmd, flags)
	return cmd
}

func createActionCommand(verb, short string, flags *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := remoteContext(cmd.Context(), flags)
			defer cancel()
			c := newClient(flags)
			var (
				st  client.ModuleStatus
				err error
			)
			switch verb {
			case "start":
				st, err = c.Start(ctx, args[0])
			case "stop":
				st, err = c.Stop(ctx, args[0])
			default:
				st, err = c.Toggle(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printStatuses(out(cmd), flags.JSON, []client.ModuleStatus{st})
		},
	}
	addRemoteFlags(cmd, flags)
	return cmd
}

func addRemoteFlags(cmd *cobra.Command, flags *RemoteFlags) {
	def := client.DefaultConfig()
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", def.BaseURL, "supervisor API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", def.Timeout, "API request timeout")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
}

func newClient(flags *RemoteFlags) *client.Client {
	return client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout, Logger: logger.Discard()})
}

func remoteContext(ctx context.Context, flags *RemoteFlags) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.APITimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, flags.APITimeout)
}

func printModules(w io.Writer, mods []discovery.Module) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tORIGIN\tPATH")
	for _, m := range mods {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Origin, m.Path)
	}
	return tw.Flush()
}

func printStatuses(w io.Writer, asJSON bool, list []client.ModuleStatus) error {
	if asJSON {
		return printJSON(w, list)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tORIGIN\tSTATE\tPID\tEXIT\tSINCE")
	for _, st := range list {
		pid, since := "-", "-"
		if st.Running {
			pid = fmt.Sprint(st.PID)
			if !st.StartedAt.IsZero() {
				since = st.StartedAt.Local().Format(time.DateTime)
			}
		} else if !st.StoppedAt.IsZero() {
			since = st.StoppedAt.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", st.Name, st.Origin, st.State, pid, st.ExitCode, since)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
