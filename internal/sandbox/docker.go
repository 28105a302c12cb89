package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DockerConfig configures a DockerDriver instance. Only UploadDir and
// StateDir are bind-mounted into the sandbox (at /data and /state); HostReturnDir
// is a host-only destination the return watcher moves completed files into,
// per spec §6's filesystem layout.
type DockerConfig struct {
	Image            string
	ContainerName    string
	DockerHost       string // optional DOCKER_HOST override, "" uses the default
	UploadDir        string // host path mounted at /data
	StateDir         string // host path mounted at /state; contains notifications/ and return/
	NotificationsDir string // StateDir/notifications
	SandboxReturnDir string // StateDir/return, visible inside the container at /state/return
	HostReturnDir    string // host-only post-watcher destination, never mounted
}

// DockerDriver implements Driver by shelling out to the docker CLI, matching
// the teacher's exec.CommandContext-driven approach but against one
// long-lived named container per (user, session) instead of a throwaway one.
type DockerDriver struct {
	cfg DockerConfig
}

// NewDockerDriver prepares the bind-mount directories and returns a driver.
// It does not start the container; call Start for that.
func NewDockerDriver(cfg DockerConfig) (*DockerDriver, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.StateDir, cfg.NotificationsDir, cfg.SandboxReturnDir, cfg.HostReturnDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare sandbox dir %s: %w", dir, err)
		}
	}
	return &DockerDriver{cfg: cfg}, nil
}

func (d *DockerDriver) NotificationsDir() string { return d.cfg.NotificationsDir }
func (d *DockerDriver) ReturnDir() string         { return d.cfg.SandboxReturnDir }

func (d *DockerDriver) docker(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "docker", args...)
	if d.cfg.DockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.cfg.DockerHost)
	}
	return cmd
}

// isRunning reports whether the named container exists and is running.
func (d *DockerDriver) isRunning(ctx context.Context) (exists, running bool) {
	out, err := d.docker(ctx, "inspect", "-f", "{{.State.Running}}", d.cfg.ContainerName).Output()
	if err != nil {
		return false, false
	}
	return true, strings.TrimSpace(string(out)) == "true"
}

// Start is idempotent: attaches to an existing running container, starts a
// stopped one, or creates+launches a fresh one with the three bind mounts.
func (d *DockerDriver) Start(ctx context.Context) error {
	exists, running := d.isRunning(ctx)
	if running {
		return nil
	}
	if exists {
		if err := d.docker(ctx, "start", d.cfg.ContainerName).Run(); err != nil {
			return &SandboxUnavailableError{Op: "start existing container", Err: err}
		}
		return nil
	}

	args := []string{
		"run", "-d", "--name", d.cfg.ContainerName,
		"-v", d.cfg.UploadDir + ":/data",
		"-v", d.cfg.StateDir + ":/state",
		d.cfg.Image,
		"sleep", "infinity",
	}
	cmd := d.docker(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &SandboxUnavailableError{Op: "create container", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}
	return nil
}

// Execute runs cmd inside the container via "docker exec", capturing output
// until exit or timeout. No error escapes for ordinary command failures.
func (d *DockerDriver) Execute(ctx context.Context, cmd string, timeout time.Duration, stdin string) (*ExecOutput, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"exec"}
	if stdin != "" {
		args = append(args, "-i")
	}
	args = append(args, d.cfg.ContainerName, "sh", "-c", cmd)

	execCmd := d.docker(execCtx, args...)
	if stdin != "" {
		execCmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	execCmd.Stdout = &out
	execCmd.Stderr = &out

	runErr := execCmd.Run()
	result := &ExecOutput{Transcript: truncateTranscript(out.String())}

	if runErr == nil {
		return result, nil
	}
	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Transcript = truncateTranscript(out.String() + "\n[timed out after " + timeout.String() + "]")
		return result, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	// docker exec itself failed to run (daemon unreachable, etc.) - this is
	// still reported as a captured transcript, not an error, per spec §4.1.
	result.Transcript = truncateTranscript(out.String() + "\n[exec error: " + runErr.Error() + "]")
	result.ExitCode = -1
	return result, nil
}

func (d *DockerDriver) CopyTo(ctx context.Context, local, remote string) error {
	dst := d.cfg.ContainerName + ":" + remote
	if err := d.docker(ctx, "cp", local, dst).Run(); err != nil {
		return &CopyFailedError{Local: local, Remote: remote, Err: err}
	}
	return nil
}

func (d *DockerDriver) CopyFrom(ctx context.Context, remote, local string) error {
	src := d.cfg.ContainerName + ":" + remote
	if err := d.docker(ctx, "cp", src, local).Run(); err != nil {
		return &CopyFailedError{Local: local, Remote: remote, Err: err}
	}
	if _, err := os.Stat(local); err != nil {
		return &CopyFailedError{Local: local, Remote: remote, Err: fmt.Errorf("post-copy verification: %w", err)}
	}
	return nil
}

// Stop pauses the container (persist=true) or removes it.
func (d *DockerDriver) Stop(ctx context.Context, persist bool) error {
	if persist {
		if err := d.docker(ctx, "stop", d.cfg.ContainerName).Run(); err != nil {
			return &SandboxUnavailableError{Op: "stop", Err: err}
		}
		return nil
	}
	if err := d.docker(ctx, "rm", "-f", d.cfg.ContainerName).Run(); err != nil {
		return &SandboxUnavailableError{Op: "remove", Err: err}
	}
	return nil
}

// Restart discards any persistent shell state by stopping then starting.
func (d *DockerDriver) Restart(ctx context.Context, persist bool) error {
	_ = d.Stop(ctx, persist)
	return d.Start(ctx)
}

// sanitizePathComponent mirrors sanitizeForPath for use when callers build
// per-user host directories (upload_dir/<user>, state_dir/<user>, ...).
func sanitizePathComponent(s string) string { return sanitizeForPath(s) }

// UserDirs computes the per-user bind-mount directories under the config
// roots, per spec §6's filesystem layout.
func UserDirs(uploadRoot, stateRoot, returnRoot, user string) (upload, state, notifications, sandboxReturn, hostReturn string) {
	u := sanitizePathComponent(user)
	upload = filepath.Join(uploadRoot, u)
	state = filepath.Join(stateRoot, u)
	notifications = filepath.Join(state, "notifications")
	sandboxReturn = filepath.Join(state, "return")
	hostReturn = filepath.Join(returnRoot, u)
	return
}
