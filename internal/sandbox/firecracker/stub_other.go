//go:build !linux

// Stub build of the firecracker backend for platforms where the SDK's vsock
// and KVM plumbing isn't available. Every operation reports ErrNotSupported
// so a config that selects this backend fails loudly at Start rather than
// silently falling back to another driver.
package firecracker

import (
	"context"
	"errors"
	"time"

	"agentd/internal/sandbox"
)

// ErrNotSupported is returned by every Driver method on non-Linux builds.
var ErrNotSupported = errors.New("firecracker: only supported on linux")

// Config mirrors the linux build's Config so callers don't need a build tag
// of their own just to construct one.
type Config struct {
	KernelPath     string
	RootFSPath     string
	SocketPath     string
	VsockPath      string
	VCPUCount      int64
	MemSizeMiB     int64
	NetworkEnabled bool

	NotificationsDir string
	SandboxReturnDir string
}

// Driver is a non-functional stand-in for the linux Driver.
type Driver struct{}

// NewDriver always fails on non-Linux platforms.
func NewDriver(cfg Config) (*Driver, error) { return nil, ErrNotSupported }

func (d *Driver) Start(ctx context.Context) error { return ErrNotSupported }

func (d *Driver) Execute(ctx context.Context, cmd string, timeout time.Duration, stdin string) (*sandbox.ExecOutput, error) {
	return nil, ErrNotSupported
}

func (d *Driver) CopyTo(ctx context.Context, local, remote string) error   { return ErrNotSupported }
func (d *Driver) CopyFrom(ctx context.Context, remote, local string) error { return ErrNotSupported }
func (d *Driver) Stop(ctx context.Context, persist bool) error            { return ErrNotSupported }
func (d *Driver) Restart(ctx context.Context, persist bool) error         { return ErrNotSupported }
func (d *Driver) NotificationsDir() string                                { return "" }
func (d *Driver) ReturnDir() string                                       { return "" }
