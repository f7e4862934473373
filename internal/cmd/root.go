// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aibor/bootvm/internal/session"
	"github.com/spf13/cobra"
)

const shortIDLen = 12

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "bootvm",
		Short: "Run bootable container images as throwaway virtual machines",
		Long: `bootvm boots bootable container images as virtual machines inside an
unprivileged sandbox.

Run a command in a VM:
  bootvm run quay.io/fedora/fedora-bootc:42 uname -a

Keep a VM running and log in:
  bootvm run -d --generate-key -p 2222:22 quay.io/fedora/fedora-bootc:42

Manage running VMs:
  bootvm ps
  bootvm rm -f <id>`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.SetIn(a.io.Stdin)
	root.SetOut(a.io.Stdout)
	root.SetErr(a.io.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return argsError("flags", err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is ~/.config/bootvm/config.yaml)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&a.verbose, "verbose", false, "enable info logging")
	addGlobalFlags(flags)

	root.AddCommand(
		newRunCommand(a),
		newPsCommand(a),
		newRmCommand(a),
		newWaitCommand(a),
		newVersionCommand(a),
	)

	return root
}

// usageArgs marks argument count errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		err := validate(cmd, args)
		if err != nil {
			return argsError("arguments", err)
		}

		return nil
	}
}

func newPsCommand(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List detached VM sessions",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			records, err := a.controller().List()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			printRecords(a.io.Stdout, records, all)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include sessions whose VM exited")

	return cmd
}

func printRecords(w io.Writer, records []*session.Record, all bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tLABEL\tIMAGE\tPID\tSTATUS\tSSH\tCREATED")

	for _, record := range records {
		status := "running"
		if !record.Alive() {
			if !all {
				continue
			}

			status = "exited"
		}

		ssh := "-"
		if record.SSHPort != 0 {
			ssh = fmt.Sprintf("localhost:%d", record.SSHPort)
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			shortID(record.ID),
			record.Label,
			record.Image,
			record.Pid,
			status,
			ssh,
			record.Created.Local().Format(time.DateTime),
		)
	}

	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}

	return id
}

func newRmCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rm [flags] ID...",
		Short: "Remove detached VM sessions",
		Long: `Remove detached VM sessions by id or unique id prefix.

Running VMs are only stopped with --force.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cancelOnSignal(cmd.Context(), a.io.Signals)
			defer stop()

			controller := a.controller()

			for _, id := range args {
				err := controller.Remove(ctx, id, force)
				if err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}

				_, _ = fmt.Fprintln(a.io.Stdout, id)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "stop running VMs")

	return cmd
}

func newWaitCommand(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait [flags] ID",
		Short: "Wait until the sandbox of a session is ready",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cancelOnSignal(cmd.Context(), a.io.Signals)
			defer stop()

			if timeout > 0 {
				var cancel func()

				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			err := a.controller().Await(ctx, args[0])
			if err != nil {
				return fmt.Errorf("wait for %s: %w", args[0], err)
			}

			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this duration")

	return cmd
}

// cancelOnSignal returns a context that is cancelled once a signal arrives.
// It is used by commands that do not relay signals to a VM.
func cancelOnSignal(ctx context.Context, signals <-chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if signals == nil {
		return ctx, cancel
	}

	go func() {
		select {
		case sig := <-signals:
			slog.Debug("Cancel on signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  usageArgs(cobra.NoArgs),
		// No config is needed to print the version.
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(_ *cobra.Command, _ []string) error {
			v, err := versionString()
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(a.io.Stdout, "Version: %s\n", v)

			return nil
		},
	}
}
