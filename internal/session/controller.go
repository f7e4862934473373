// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/aibor/bootvm/internal/boot"
	"github.com/aibor/bootvm/internal/credential"
	"github.com/aibor/bootvm/internal/exitcode"
	"github.com/aibor/bootvm/internal/image"
	"github.com/aibor/bootvm/internal/initramfs"
	"github.com/aibor/bootvm/internal/pipe"
	"github.com/aibor/bootvm/internal/qemu"
	"github.com/aibor/bootvm/internal/sandbox"
	"github.com/aibor/bootvm/internal/sys"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// File names inside the session run directory.
const (
	StatusPortName   = "status"
	OutputPortName   = "output"
	ExitCodePortName = "exitcode"
	KeyFileName      = "id_ed25519"
	ConsoleLogName   = "console.log"
	InitramfsName    = "initramfs.img"
	FirmwareVarsName = "vars.fd"
	ReadyDirName     = "ready"
)

// DefaultSocketWait bounds the wait for the virtiofsd sockets.
const DefaultSocketWait = 30 * time.Second

// devices are bound into the sandbox if present on the host.
var devices = []string{
	"/dev/kvm",
	"/dev/net/tun",
}

// statusLines are written to the status port by the guest status units.
var statusLines = initramfs.StatusLines{
	Booting: boot.FormatLine("basic.target", boot.Booting, ""),
	Ready:   boot.FormatLine("multi-user.target", boot.Ready, ""),
	Failed:  boot.FormatLine("emergency.target", boot.Failed, "guest entered emergency mode"),
}

// ImageBridge provides mounted image root file systems.
type ImageBridge interface {
	Ensure(ctx context.Context, ref string, policy image.PullPolicy) error
	Mount(ctx context.Context, ref string) (*image.Rootfs, error)
	Unmount(ctx context.Context, ref string) error
}

// Controller runs VM sessions on a host.
type Controller struct {
	// Fs is the file system run directories and sandbox roots are created
	// on, usually [afero.NewOsFs].
	Fs afero.Fs

	// HostFS is the host root used for binary and firmware lookup, usually
	// [os.DirFS] of "/".
	HostFS fs.FS

	// Host are the host capability facts, computed once.
	Host sys.Host

	Images ImageBridge
	Runner qemu.Runner
	Store  *Store

	// Bwrap and Virtiofsd override the binaries looked up otherwise.
	Bwrap     string
	Virtiofsd string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Signals are forwarded to the hypervisor while it runs.
	Signals <-chan os.Signal

	// ListenSocket overrides [boot.ListenVsock].
	ListenSocket func() (net.Listener, uint32, error)

	// OpenVsock overrides [sys.OpenVhostVsock].
	OpenVsock func() (*sys.VhostVsock, error)

	// SocketWait overrides [DefaultSocketWait].
	SocketWait time.Duration
}

// Result is the outcome of a session.
type Result struct {
	ID    string
	State State
	Boot  boot.Result

	// KeyPath is the ephemeral private key, if one was generated.
	KeyPath string

	// Record is set if the session is left running.
	Record *Record
}

// Handle is a running session.
type Handle struct {
	ID     string
	RunDir string

	Sandbox    *sandbox.Sandbox
	Hypervisor *sandbox.Process
	Helpers    []*sandbox.Process
	Command    *qemu.Command
	Channels   []boot.Channel

	state     stateTracker
	cleanups  []cleanup
	detached  bool
	interrupt interrupt
}

type cleanup struct {
	name string
	fn   func() error

	// keepDetached skips the cleanup if the session is left running.
	keepDetached bool
}

// State returns the current state of the session.
func (h *Handle) State() State {
	return h.state.Get()
}

func (h *Handle) onExit(name string, keepDetached bool, fn func() error) {
	h.cleanups = append(h.cleanups, cleanup{name, fn, keepDetached})
}

func (h *Handle) moveTo(next State) {
	err := h.state.MoveTo(next)
	if err != nil {
		slog.Warn("Ignore session state change", slog.Any("error", err))
	}
}

// release runs the cleanups in reverse order.
func (h *Handle) release() {
	for idx := len(h.cleanups) - 1; idx >= 0; idx-- {
		step := h.cleanups[idx]
		if h.detached && step.keepDetached {
			continue
		}

		err := step.fn()
		if err != nil {
			slog.Warn("Session cleanup failed",
				slog.String("step", step.name),
				slog.Any("error", err),
			)
		}
	}
}

// Run runs a session for the given spec until the guest powered off or, if
// the session is detached, until the guest booted.
//
// The returned error is an [*Error] with the last state the session reached.
// Use [ExitCode] to get the process exit code for it.
func (c *Controller) Run(ctx context.Context, spec Spec) (*Result, error) {
	handle := &Handle{ID: uuid.NewString()}
	handle.RunDir = c.Store.RunDir(handle.ID)

	slog.Info("Session starting",
		slog.String("id", handle.ID),
		slog.String("image", spec.Image),
		slog.Any("host", c.Host),
	)

	result := &Result{ID: handle.ID}

	err := c.run(ctx, handle, spec, result)

	interruptErr := handle.interrupt.Err()
	if err != nil && interruptErr != nil && !errors.Is(err, &InterruptError{}) {
		err = fmt.Errorf("%w: %w", interruptErr, err)
	}

	last := handle.State()
	if err != nil {
		handle.moveTo(Failed)
	}

	handle.release()

	if !handle.detached {
		handle.moveTo(Terminated)
	}

	result.State = handle.State()

	if err != nil {
		return result, newError(last, c.Host, err)
	}

	return result, nil
}

//nolint:cyclop,funlen
func (c *Controller) run(ctx context.Context, handle *Handle, spec Spec, result *Result) error {
	err := spec.Validate()
	if err != nil {
		return err
	}

	// Until the hypervisor runs, signals cancel the setup.
	setupCtx, stopWatch := handle.interrupt.cancelOnSignal(ctx, c.Signals)
	defer stopWatch()

	if spec.Firmware == "" {
		spec.Firmware = qemu.FirmwareUEFISecure
	}

	// Missing secure boot keys fail before anything is started.
	var keys *qemu.SecureBootKeys

	if spec.Firmware == qemu.FirmwareUEFISecure {
		keys, err = qemu.LoadSecureBootKeys(spec.SecureBootDir)
		if err != nil {
			return fmt.Errorf("secure boot keys: %w", err)
		}
	}

	err = c.Fs.MkdirAll(handle.RunDir, 0o700)
	if err != nil {
		return &sandbox.SetupError{Op: "create run dir", Err: err}
	}

	handle.onExit("remove run dir", true, func() error {
		return c.Store.Delete(handle.ID)
	})

	rootfs, err := c.mountImage(setupCtx, handle, spec)
	if err != nil {
		return err
	}

	err = c.prepareSandbox(setupCtx, handle, spec, rootfs)
	if err != nil {
		return err
	}

	handle.moveTo(SandboxReady)

	socket, vsock, notifyPort := c.armSocketChannel(handle)

	payload, err := credential.Inject(credential.Options{
		Keys:        spec.SSHKeys,
		GenerateKey: spec.GenerateKey,
		NotifyPort:  notifyPort,
		KernelArgs:  spec.KernelArgs,
	}, credential.SelectChannel(spec.CredentialChannel, c.Host))
	if err != nil {
		return err
	}

	slog.Debug("Credentials injected",
		slog.String("channel", string(payload.Channel)),
		slog.Int("size", payload.Size()),
	)

	if payload.GeneratedKey != nil {
		result.KeyPath = filepath.Join(handle.RunDir, KeyFileName)

		err = afero.WriteFile(c.Fs, result.KeyPath, payload.GeneratedKey.PrivateKeyPEM, 0o600)
		if err != nil {
			return fmt.Errorf("write ephemeral key: %w", err)
		}
	}

	ports, err := c.createPorts(handle, spec)
	if err != nil {
		return err
	}

	initramfsPath, err := c.buildInitramfs(handle, spec, rootfs, ports)
	if err != nil {
		return err
	}

	file, err := boot.NewFileWatchChannel(ports.status.HostPath)
	if err != nil {
		return fmt.Errorf("watch status port: %w", err)
	}

	handle.Channels = append(handle.Channels, file)
	handle.onExit("close file channel", false, file.Close)

	shares, err := c.startVirtiofsd(setupCtx, handle, spec, rootfs)
	if err != nil {
		return err
	}

	firmware, err := c.prepareFirmware(setupCtx, handle, spec, keys)
	if err != nil {
		return err
	}

	qemuSpec := qemu.CommandSpec{
		Executable:        spec.QemuExecutable,
		Label:             label(spec, handle.ID),
		Resources:         spec.Resources,
		Firmware:          firmware,
		Kernel:            rootfs.Kernel,
		Initramfs:         initramfsPath,
		Rootfs:            &shares[0],
		Disks:             spec.Disks,
		SharedDirs:        shares[1:],
		Ports:             ports.all(),
		Console:           spec.Console,
		Vsock:             vsock,
		Network:           spec.Network,
		PortForwards:      spec.PortForwards,
		SMBIOSCredentials: payload.SMBIOSValues(),
		KernelArgs:        payload.KernelArgs(),
		ExtraArgs:         spec.ExtraQemuArgs,
		Verbose:           spec.Verbose,
	}

	if !spec.Console {
		qemuSpec.ConsoleLog = filepath.Join(handle.RunDir, ConsoleLogName)
	}

	err = qemuSpec.AddDefaultsFor(c.HostFS, c.Host)
	if err != nil {
		return fmt.Errorf("qemu defaults: %w", err)
	}

	cmd, err := qemu.NewCommand(qemuSpec)
	if err != nil {
		return fmt.Errorf("qemu command: %w", err)
	}

	handle.Command = cmd

	slog.Debug("QEMU command", slog.String("command", cmd.String()))

	stopWatch()

	err = handle.interrupt.Err()
	if err != nil {
		return err
	}

	err = c.startHypervisor(handle, spec)
	if err != nil {
		return err
	}

	handle.moveTo(HypervisorStarted)

	relayCtx, stopRelay := context.WithCancel(ctx)
	relay := errgroup.Group{}

	if c.Signals != nil {
		relay.Go(func() error {
			RelaySignals(relayCtx, recordingSignaler{handle.Hypervisor, &handle.interrupt}, c.Signals)
			return nil
		})
	}

	defer func() {
		stopRelay()
		_ = relay.Wait()
	}()

	monitor := boot.Monitor{
		File:        file,
		GracePeriod: spec.GracePeriod,
		Deadline:    spec.BootDeadline,
		Alive:       handle.Hypervisor.Alive,
	}

	if socket != nil {
		monitor.Socket = socket
	}

	// Released processes can not be waited for. Their exit is only noticed
	// at the deadline.
	if !spec.Detach {
		monitor.Exited = handle.Hypervisor.Done()
	}

	handle.moveTo(AwaitingBoot)

	bootResult, err := monitor.Wait(ctx)
	result.Boot = bootResult

	return c.reconcile(ctx, handle, spec, ports, result, err)
}

func (c *Controller) mountImage(ctx context.Context, handle *Handle, spec Spec) (*image.Rootfs, error) {
	err := c.Images.Ensure(ctx, spec.Image, spec.PullPolicy)
	if err != nil {
		return nil, fmt.Errorf("ensure image: %w", err)
	}

	rootfs, err := c.Images.Mount(ctx, spec.Image)
	if err != nil {
		return nil, fmt.Errorf("mount image: %w", err)
	}

	handle.onExit("unmount image", true, func() error {
		return c.Images.Unmount(context.WithoutCancel(ctx), spec.Image)
	})

	slog.Debug("Image mounted",
		slog.String("path", rootfs.Path),
		slog.String("kernel", rootfs.KernelVersion),
	)

	return rootfs, nil
}

// prepareSandbox prepares the session's sandbox as rendezvous leader, so
// other invocations waiting for the session observe when it is ready.
func (c *Controller) prepareSandbox(
	ctx context.Context,
	handle *Handle,
	spec Spec,
	rootfs *image.Rootfs,
) error {
	sandboxSpec := sandbox.Spec{
		RunDir:     handle.RunDir,
		Rootfs:     rootfs.Path,
		Devices:    devices,
		ResolvConf: "/etc/resolv.conf",
		Bwrap:      c.Bwrap,
	}

	for _, volume := range spec.Volumes {
		if volume.ReadOnly {
			sandboxSpec.ReadOnlyBinds = append(sandboxSpec.ReadOnlyBinds, volume.HostPath)
		} else {
			sandboxSpec.Binds = append(sandboxSpec.Binds, volume.HostPath)
		}
	}

	for _, disk := range spec.Disks {
		if disk.ReadOnly {
			sandboxSpec.ReadOnlyBinds = append(sandboxSpec.ReadOnlyBinds, disk.Path)
		} else {
			sandboxSpec.Binds = append(sandboxSpec.Binds, disk.Path)
		}
	}

	rendezvous := sandbox.Rendezvous{
		Fs:  c.Fs,
		Dir: filepath.Join(handle.RunDir, ReadyDirName),
	}

	role, err := rendezvous.Join(ctx, func() error {
		sb, err := sandbox.Prepare(c.Fs, sandboxSpec)
		if err != nil {
			return err
		}

		handle.Sandbox = sb
		handle.onExit("tear down sandbox", false, sb.Teardown)

		return nil
	})
	if err != nil {
		return err
	}

	if role != sandbox.Leader {
		return fmt.Errorf("%w: %s", ErrExists, handle.ID)
	}

	return nil
}

// armSocketChannel sets up the socket channel if the host is believed to
// support it. Any failure disarms the channel, the file channel remains.
func (c *Controller) armSocketChannel(handle *Handle) (boot.Channel, *sys.VhostVsock, uint32) {
	if !c.Host.SocketChannelUsable() {
		slog.Debug("Socket channel not armed", slog.Any("host", c.Host))
		return nil, nil, 0
	}

	listen := c.ListenSocket
	if listen == nil {
		listen = boot.ListenVsock
	}

	openVsock := c.OpenVsock
	if openVsock == nil {
		openVsock = sys.OpenVhostVsock
	}

	listener, port, err := listen()
	if err != nil {
		slog.Warn("Socket channel not armed", slog.Any("error", err))
		return nil, nil, 0
	}

	vsock, err := openVsock()
	if err != nil {
		_ = listener.Close()

		slog.Warn("Socket channel not armed", slog.Any("error", err))

		return nil, nil, 0
	}

	channel := boot.NewSocketChannel(listener)

	handle.Channels = append(handle.Channels, channel)
	handle.onExit("close socket channel", false, channel.Close)
	handle.onExit("close vhost-vsock", false, vsock.Close)

	slog.Debug("Socket channel armed",
		slog.Uint64("port", uint64(port)),
		slog.Uint64("cid", uint64(vsock.CID)),
	)

	return channel, vsock, port
}

type sessionPorts struct {
	status   *pipe.Port
	output   *pipe.Port
	exitCode *pipe.Port
}

func (p sessionPorts) all() []*pipe.Port {
	ports := []*pipe.Port{p.status}
	if p.output != nil {
		ports = append(ports, p.output, p.exitCode)
	}

	return ports
}

func (c *Controller) createPorts(handle *Handle, spec Spec) (sessionPorts, error) {
	var (
		ports sessionPorts
		err   error
	)

	ports.status, err = pipe.Create(handle.RunDir, StatusPortName)
	if err != nil {
		return ports, err
	}

	if len(spec.Execute) == 0 {
		return ports, nil
	}

	ports.output, err = pipe.Create(handle.RunDir, OutputPortName)
	if err != nil {
		return ports, err
	}

	ports.exitCode, err = pipe.Create(handle.RunDir, ExitCodePortName)
	if err != nil {
		return ports, err
	}

	return ports, nil
}

func (c *Controller) buildInitramfs(
	handle *Handle,
	spec Spec,
	rootfs *image.Rootfs,
	ports sessionPorts,
) (string, error) {
	overlay := &initramfs.Overlay{
		Units: initramfs.StatusUnits(ports.status.GuestPath(), statusLines),
	}

	for _, volume := range spec.Volumes {
		overlay.Units = append(overlay.Units,
			initramfs.MountUnit(volume.Tag, volume.GuestPath, volume.ReadOnly))
	}

	if len(spec.Execute) > 0 {
		overlay.Units = append(overlay.Units, initramfs.ExecuteUnit())
		overlay.Files = append(overlay.Files, initramfs.File{
			Name:    initramfs.ExecuteScriptName,
			Content: initramfs.ExecuteScript(spec.Execute, ports.output.GuestPath(), ports.exitCode.GuestPath()),
			Mode:    0o755,
		})
	}

	path := filepath.Join(handle.RunDir, InitramfsName)

	err := initramfs.Build(rootfs.Initramfs, path, overlay)
	if err != nil {
		return "", fmt.Errorf("build initramfs: %w", err)
	}

	return path, nil
}

// startVirtiofsd starts one virtiofsd per shared directory, root file system
// first, and waits for their sockets.
func (c *Controller) startVirtiofsd(
	ctx context.Context,
	handle *Handle,
	spec Spec,
	rootfs *image.Rootfs,
) ([]qemu.SharedDir, error) {
	executable := c.Virtiofsd
	if executable == "" {
		var err error

		executable, err = qemu.FindVirtiofsd(c.HostFS)
		if err != nil {
			return nil, err
		}
	}

	cache := qemu.SelectCacheMode(c.Host)

	daemons := []qemu.Virtiofsd{{
		SharedDir: rootfs.Path,
		Tag:       qemu.RootfsTag,
		ReadOnly:  true,
	}}

	for _, volume := range spec.Volumes {
		daemons = append(daemons, qemu.Virtiofsd{
			SharedDir: volume.HostPath,
			Tag:       volume.Tag,
			ReadOnly:  volume.ReadOnly,
		})
	}

	wait := c.SocketWait
	if wait == 0 {
		wait = DefaultSocketWait
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	shares := make([]qemu.SharedDir, 0, len(daemons))

	for _, daemon := range daemons {
		daemon.Executable = executable
		daemon.SocketPath = filepath.Join(handle.RunDir, qemu.SocketName(daemon.Tag))
		daemon.Cache = cache

		proc, err := handle.Sandbox.Start(sandbox.Command{
			Path:   daemon.Executable,
			Args:   daemon.Args(),
			Stderr: c.Stderr,
			Detach: spec.Detach,
		})
		if err != nil {
			return nil, fmt.Errorf("start virtiofsd for %s: %w", daemon.Tag, err)
		}

		handle.Helpers = append(handle.Helpers, proc)

		err = qemu.WaitForSocket(waitCtx, daemon.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("virtiofsd for %s: %w", daemon.Tag, err)
		}

		shares = append(shares, qemu.SharedDir{
			Tag:        daemon.Tag,
			SocketPath: daemon.SocketPath,
		})
	}

	return shares, nil
}

func (c *Controller) prepareFirmware(
	ctx context.Context,
	handle *Handle,
	spec Spec,
	keys *qemu.SecureBootKeys,
) (*qemu.Firmware, error) {
	if spec.Firmware == qemu.FirmwareBIOS {
		return nil, nil //nolint:nilnil
	}

	firmware, err := qemu.FindFirmware(c.HostFS, c.Host.Arch, spec.Firmware)
	if err != nil {
		return nil, err
	}

	err = firmware.PrepareVars(ctx, c.Runner, keys, filepath.Join(handle.RunDir, FirmwareVarsName))
	if err != nil {
		return nil, err
	}

	return firmware, nil
}

func (c *Controller) startHypervisor(handle *Handle, spec Spec) error {
	cmd := sandbox.Command{
		Path:       handle.Command.Executable,
		Args:       handle.Command.Args,
		ExtraFiles: handle.Command.ExtraFiles,
		Foreground: spec.Interactive,
		Detach:     spec.Detach,
	}

	if !spec.Detach {
		cmd.Stderr = c.Stderr
	}

	if spec.Interactive || spec.Console {
		cmd.Stdin = c.Stdin
		cmd.Stdout = c.Stdout
	}

	proc, err := handle.Sandbox.Start(cmd)
	if err != nil {
		return &qemu.LaunchError{
			Cmdline:  handle.Command.Cmdline(),
			ExitCode: -1,
			Err:      err,
		}
	}

	handle.Hypervisor = proc

	slog.Debug("Hypervisor started", slog.Int("pid", proc.Pid()))

	return nil
}

// reconcile turns the boot verdict and the hypervisor outcome into the
// session outcome.
func (c *Controller) reconcile(
	ctx context.Context,
	handle *Handle,
	spec Spec,
	ports sessionPorts,
	result *Result,
	bootErr error,
) error {
	switch {
	case bootErr == nil:
		handle.moveTo(Ready)

		if spec.Detach {
			return c.leaveRunning(handle, spec, result)
		}

		<-handle.Hypervisor.Done()

		return c.finish(handle, spec, ports, false)
	case errors.Is(bootErr, boot.ErrHypervisorExited):
		// An intentional poweroff may beat the ready report.
		return c.finish(handle, spec, ports, true)
	case errors.Is(bootErr, &boot.TimeoutError{}):
		timeoutErr := bootErr

		// Only released processes survive this process.
		if spec.Detach && !spec.AutoRemove && handle.Hypervisor.Alive() {
			slog.Warn("VM left running for inspection, remove it with \"bootvm rm\"",
				slog.String("id", handle.ID))

			err := c.leaveRunning(handle, spec, result)
			if err != nil {
				return errors.Join(timeoutErr, err)
			}
		}

		return timeoutErr
	case errors.Is(bootErr, context.Canceled), errors.Is(bootErr, context.DeadlineExceeded):
		return fmt.Errorf("wait for boot: %w", ctx.Err())
	default:
		return bootErr
	}
}

// leaveRunning detaches the sandbox and records the session, so it can be
// listed and removed later.
func (c *Controller) leaveRunning(handle *Handle, spec Spec, result *Result) error {
	handle.Sandbox.Detach()
	handle.detached = true

	record := &Record{
		ID:      handle.ID,
		Label:   label(spec, handle.ID),
		Image:   spec.Image,
		Pid:     handle.Hypervisor.Pid(),
		RunDir:  handle.RunDir,
		Created: time.Now(),
		KeyPath: result.KeyPath,
	}

	for _, helper := range handle.Helpers {
		record.HelperPids = append(record.HelperPids, helper.Pid())
	}

	for _, fwd := range spec.PortForwards {
		if fwd.Guest == 22 {
			record.SSHPort = fwd.Host
		}
	}

	err := c.Store.Save(record)
	if err != nil {
		return err
	}

	result.Record = record

	return nil
}

// finish evaluates the exited hypervisor.
func (c *Controller) finish(handle *Handle, spec Spec, ports sessionPorts, beforeReady bool) error {
	code := handle.Hypervisor.ExitCode()

	slog.Debug("Hypervisor exited", slog.Int("exit_code", code))

	// A relayed signal ended the hypervisor, whatever it exited with.
	err := handle.interrupt.Err()
	if err != nil {
		return err
	}

	err = c.scanConsoleLog(handle)
	if err != nil {
		return err
	}

	if code != 0 {
		if beforeReady {
			return &qemu.LaunchError{
				Cmdline:  handle.Command.Cmdline(),
				ExitCode: code,
				Err:      fmt.Errorf("exited with code %d before the guest booted", code),
			}
		}

		return &ExitError{Code: code}
	}

	if len(spec.Execute) == 0 {
		return nil
	}

	return c.guestResult(ports)
}

func (c *Controller) scanConsoleLog(handle *Handle) error {
	file, err := os.Open(filepath.Join(handle.RunDir, ConsoleLogName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("open console log: %w", err)
	}
	defer file.Close()

	return qemu.ScanConsoleLog(file) //nolint:wrapcheck
}

// guestResult copies the guest command's output and returns its exit code as
// [exitcode.Error] if it is not zero.
func (c *Controller) guestResult(ports sessionPorts) error {
	if c.Stdout != nil {
		_, err := ports.output.CopyTo(c.Stdout)
		if err != nil && !errors.Is(err, pipe.ErrNoOutput) {
			return fmt.Errorf("guest output: %w", err)
		}
	}

	file, err := os.Open(ports.exitCode.HostPath)
	if err != nil {
		return fmt.Errorf("open exit code port: %w", err)
	}
	defer file.Close()

	code, found, err := exitcode.Scan(file)
	if err != nil {
		return fmt.Errorf("guest exit code: %w", err)
	}

	if !found {
		return ErrNoExitCode
	}

	if code != 0 {
		return exitcode.Error(code)
	}

	return nil
}

func label(spec Spec, id string) string {
	if spec.Label != "" {
		return spec.Label
	}

	return "bootvm-" + id[:8]
}
