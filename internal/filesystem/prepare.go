package filesystem

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

const (
	DefaultMkfsPath  = "/sbin/mkfs"
	DefaultMountPath = "/bin/mount"

	defaultDeviceTimeout  = 30 * time.Second
	defaultDeviceInterval = time.Second
)

// Options describes how to prepare one device
type Options struct {
	Device       string
	MkfsArgs     []string
	Target       string
	MountOptions string
}

// Result reports what Prepare found and did
type Result struct {
	Existing  Type
	Formatted bool
	Mounted   bool
}

// Preparer formats and mounts attached devices
type Preparer struct {
	runner    Runner
	clock     clock.Clock
	logger    *slog.Logger
	observer  func(operation string, duration time.Duration, err error)
	mkfsPath  string
	mountPath string

	// DeviceTimeout bounds how long Prepare waits for the device node.
	DeviceTimeout time.Duration

	readPrefix func(device string) ([]byte, error)
	stat       func(name string) (os.FileInfo, error)
	mkdirAll   func(path string, perm os.FileMode) error
}

// NewPreparer creates a preparer. A nil runner runs real commands and a nil
// clk uses the wall clock.
func NewPreparer(runner Runner, clk clock.Clock, logger *slog.Logger) *Preparer {
	if runner == nil {
		runner = ExecRunner{}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Preparer{
		runner:        runner,
		clock:         clk,
		logger:        logger,
		mkfsPath:      DefaultMkfsPath,
		mountPath:     DefaultMountPath,
		DeviceTimeout: defaultDeviceTimeout,
		readPrefix:    ReadPrefix,
		stat:          os.Stat,
		mkdirAll:      os.MkdirAll,
	}
}

// SetObserver registers fn to be called after each mkfs and mount
func (p *Preparer) SetObserver(fn func(operation string, duration time.Duration, err error)) {
	p.observer = fn
}

// Prepare waits for the device, creates a filesystem on it only if none is
// present and mounts it at opts.Target. An empty target skips the mount.
func (p *Preparer) Prepare(ctx context.Context, opts Options) (Result, error) {
	var result Result

	if err := p.WaitForDevice(ctx, opts.Device); err != nil {
		return result, err
	}

	prefix, err := p.readPrefix(opts.Device)
	if err != nil {
		return result, err
	}

	result.Existing = DetectFilesystem(prefix)
	if result.Existing == TypeNone {
		p.logger.Info("no filesystem found, creating one", "device", opts.Device)
		if err := p.MakeFilesystem(ctx, opts.Device, opts.MkfsArgs); err != nil {
			return result, err
		}
		result.Formatted = true
	} else {
		p.logger.Info("existing filesystem found", "device", opts.Device, "type", string(result.Existing))
	}

	if opts.Target == "" {
		return result, nil
	}

	if err := p.mkdirAll(opts.Target, 0755); err != nil {
		return result, errors.Wrap(err, errors.ErrCodeMountFailed, "failed to create mount target").
			WithComponent("filesystem").
			WithContext("target", opts.Target)
	}
	if err := p.Mount(ctx, opts.Device, opts.Target, opts.MountOptions); err != nil {
		return result, err
	}
	result.Mounted = true
	return result, nil
}

// WaitForDevice waits until the device node exists
func (p *Preparer) WaitForDevice(ctx context.Context, device string) error {
	deadline := p.clock.Now().Add(p.DeviceTimeout)
	for {
		_, err := p.stat(device)
		if err == nil {
			return nil
		}
		if !os.IsNotExist(err) || !p.clock.Now().Before(deadline) {
			return deviceReadError(err, device)
		}

		p.logger.Debug("waiting for device", "device", device)
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCodeOperationCanceled, "canceled waiting for device").
				WithComponent("filesystem").
				WithContext(errors.ContextDevice, device)
		case <-p.clock.After(defaultDeviceInterval):
		}
	}
}

// MakeFilesystem runs mkfs with args against device
func (p *Preparer) MakeFilesystem(ctx context.Context, device string, args []string) error {
	argv := append(append([]string{}, args...), device)
	stderr, err := p.run(ctx, "mkfs", p.mkfsPath, argv...)
	if err != nil {
		return commandError(err, errors.ErrCodeMkfsFailed, "mkfs failed", stderr).
			WithContext(errors.ContextDevice, device).
			WithDetail("args", strings.Join(argv, " "))
	}
	return nil
}

// Mount mounts device at target
func (p *Preparer) Mount(ctx context.Context, device, target, options string) error {
	var argv []string
	if options != "" {
		argv = append(argv, "-o", options)
	}
	argv = append(argv, device, target)

	stderr, err := p.run(ctx, "mount", p.mountPath, argv...)
	if err != nil {
		return commandError(err, errors.ErrCodeMountFailed, "mount failed", stderr).
			WithContext(errors.ContextDevice, device).
			WithContext("target", target)
	}
	p.logger.Info("mounted", "device", device, "target", target)
	return nil
}

func (p *Preparer) run(ctx context.Context, operation, name string, args ...string) (string, error) {
	p.logger.Debug("running command", "command", name, "args", args)
	start := p.clock.Now()
	stderr, err := p.runner.Run(ctx, name, args...)
	if p.observer != nil {
		p.observer(operation, p.clock.Now().Sub(start), err)
	}
	return stderr, err
}

func commandError(err error, code errors.ErrorCode, message, stderr string) *errors.StorageError {
	if stderr != "" {
		message += ": " + stderr
	}
	return errors.Wrap(err, code, message).
		WithComponent("filesystem").
		WithDetail("stderr", stderr)
}
