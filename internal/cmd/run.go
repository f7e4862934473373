// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/aibor/bootvm/internal/boot"
	"github.com/aibor/bootvm/internal/exitcode"
	"github.com/aibor/bootvm/internal/image"
	"github.com/aibor/bootvm/internal/pipe"
	"github.com/aibor/bootvm/internal/session"
	"github.com/aibor/bootvm/internal/sys"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Set on build.
var version = "dev"

// exitCodeUsage is returned for invalid flags and arguments.
const exitCodeUsage = 2

// IO provides input and output details for the command.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Signals are relayed to the hypervisor of a running session.
	Signals <-chan os.Signal
}

// app is the state shared by all commands of one invocation.
type app struct {
	io    IO
	viper *viper.Viper

	configFile string
	debug      bool
	verbose    bool

	config *Config

	// newController is replaced in tests.
	newController func(cfg *Config) *session.Controller
}

func (a *app) setup(cmd *cobra.Command) error {
	setupLogging(a.io.Stderr, a.debug, a.verbose)

	err := a.viper.BindPFlags(cmd.Flags())
	if err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	a.config, err = loadConfig(a.viper, a.configFile)
	if err != nil {
		return err
	}

	slog.Debug("Config loaded",
		slog.String("file", a.viper.ConfigFileUsed()),
		slog.Any("config", a.config),
	)

	return nil
}

func (a *app) controller() *session.Controller {
	if a.newController != nil {
		return a.newController(a.config)
	}

	return newController(a.config, a.io)
}

func newController(cfg *Config, stdio IO) *session.Controller {
	hostFS := os.DirFS("/")
	runner := sys.CommandRunner{}

	return &session.Controller{
		Fs:     afero.NewOsFs(),
		HostFS: hostFS,
		Host: sys.DetectHost(hostFS, sys.Native, sys.DetectOptions{
			BuggyFirmwareVendors: cfg.BuggyFirmwareVendors,
		}),
		Images:    &image.Bridge{Runner: runner},
		Runner:    runner,
		Store:     &session.Store{Fs: afero.NewOsFs(), Dir: cfg.StateDir},
		Bwrap:     cfg.Bwrap,
		Virtiofsd: cfg.Virtiofsd,
		Stdin:     stdio.Stdin,
		Stdout:    stdio.Stdout,
		Stderr:    stdio.Stderr,
		Signals:   stdio.Signals,
	}
}

func newRunCommand(a *app) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] IMAGE [COMMAND [ARG...]]",
		Short: "Boot a container image as virtual machine",
		Long: `Boot a bootable container image as throwaway virtual machine.

The VM runs until the guest powers off. With a command, the command is run in
the guest once it booted and its exit code is returned. With --detach, the VM
is left running once the guest reported boot.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := flags.sessionSpec(a.config, args[0], args[1:])
			if err != nil {
				return err
			}

			result, err := a.controller().Run(cmd.Context(), spec)
			if result != nil {
				printResult(a.io.Stdout, result)
			}

			return err
		},
	}

	// Everything after the image belongs to the guest command.
	cmd.Flags().SetInterspersed(false)
	addRunFlags(cmd.Flags(), flags)

	return cmd
}

func printResult(w io.Writer, result *session.Result) {
	if result.Record == nil {
		if result.KeyPath != "" {
			slog.Info("Ephemeral key removed with the session", slog.String("path", result.KeyPath))
		}

		return
	}

	fmt.Fprintln(w, result.ID)

	if result.Record.SSHPort != 0 && result.KeyPath != "" {
		slog.Info("Connect with ssh",
			slog.String("command", fmt.Sprintf("ssh -i %s -p %d root@localhost",
				result.KeyPath, result.Record.SSHPort)),
		)
	}
}

func handleParseArgsError(err error, stderr io.Writer) int {
	fmt.Fprintf(stderr, "Error: %v\nRun with --help for usage.\n", err)

	return exitCodeUsage
}

func handleRunError(err error) int {
	exitCode := session.ExitCode(err)

	var pipeErr *pipe.Error
	if errors.As(err, &pipeErr) {
		if errors.Is(err, pipe.ErrNoOutput) {
			slog.Warn(
				"maybe the guest did not mount the port or /dev",
				slog.String("pipe", pipeErr.Name),
			)
		}
	}

	var sessionErr *session.Error
	if errors.As(err, &sessionErr) && sessionErr.HostCapability {
		slog.Warn("The host lacks a required capability, check nested virtualization and installed tools")
	}

	if errors.Is(err, &boot.TimeoutError{}) {
		slog.Warn("The guest did not report boot in time, its console log is kept in the run directory of detached sessions")
	}

	// Do not print the error in case the guest process ran successfully and
	// the guest properly communicated a non-zero exit code.
	if _, ok := exitcode.From(err); !ok {
		slog.Error(err.Error())
	}

	return exitCode
}

// Run is the main entry point for the CLI command.
func Run(ctx context.Context, args []string, cfg IO) int {
	a := &app{
		io:    cfg,
		viper: newViper(),
	}

	root := newRootCommand(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)

	switch {
	case err == nil:
		return 0
	case errors.Is(err, &ParseArgsError{}):
		return handleParseArgsError(err, cfg.Stderr)
	default:
		return handleRunError(err)
	}
}

func getBuildInfo() (*debug.BuildInfo, error) {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, ErrReadBuildInfo
	}

	return buildInfo, nil
}

func versionString() (string, error) {
	if version != "dev" {
		return version, nil
	}

	buildInfo, err := getBuildInfo()
	if err != nil {
		return "", err
	}

	return buildInfo.Main.Version, nil
}
