package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// exitPollInterval and exitPollTimeout bound how long StartExec waits for
// the daemon to report an exit code once the output stream has closed.
const (
	exitPollInterval = 100 * time.Millisecond
	exitPollTimeout  = 10 * time.Second
)

// ExecSpec describes a command to run inside a running container.
type ExecSpec struct {
	// Cmd is the command and its arguments. Required.
	Cmd []string

	// Env adds KEY=value entries to the exec environment.
	Env []string

	// WorkingDir overrides the container's working directory.
	WorkingDir string

	// User runs the command as this user instead of the container default.
	User string

	// Tty allocates a pseudo-terminal; output is then a single raw stream.
	Tty bool
}

// CreateExec creates an exec instance in containerID and returns the
// record to attach to the build. The command does not run until StartExec.
func CreateExec(ctx context.Context, cli *Client, containerID string, spec ExecSpec) (model.ExecInfoRecord, error) {
	if len(spec.Cmd) == 0 {
		return model.ExecInfoRecord{}, model.NewCLIError(model.ExitGeneralError, "exec: command must not be empty")
	}

	resp, err := cli.Inner().ContainerExecCreate(ctx, containerID, buildExecOptions(spec))
	if err != nil {
		return model.ExecInfoRecord{}, wrapDaemonError(err, fmt.Sprintf("failed to create exec in container %q", containerID))
	}

	return model.ExecInfoRecord{ContainerID: containerID, ExecCommandID: resp.ID}, nil
}

// buildExecOptions maps an ExecSpec to the Docker API options. Output is
// always attached so StartExec can stream it.
func buildExecOptions(spec ExecSpec) container.ExecOptions {
	return container.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		User:         spec.User,
		Tty:          spec.Tty,
		AttachStdout: true,
		AttachStderr: true,
	}
}

// StartExec starts a created exec instance, copies its output to stdout
// and stderr until it finishes, and returns its exit code.
//
// Without a TTY the daemon multiplexes both streams over one connection;
// stdcopy splits them back apart.
func StartExec(ctx context.Context, cli *Client, execID string, tty bool, stdout, stderr io.Writer) (int, error) {
	resp, err := cli.Inner().ContainerExecAttach(ctx, execID, container.ExecAttachOptions{Tty: tty})
	if err != nil {
		return -1, wrapDaemonError(err, fmt.Sprintf("failed to start exec %q", execID))
	}
	defer resp.Close()

	if tty {
		_, err = io.Copy(writerOrDiscard(stdout), resp.Reader)
	} else {
		_, err = stdcopy.StdCopy(writerOrDiscard(stdout), writerOrDiscard(stderr), resp.Reader)
	}
	if err != nil {
		return -1, fmt.Errorf("failed to read output of exec %q: %w", execID, err)
	}

	inspect, err := waitExecExit(ctx, cli, execID)
	if err != nil {
		return -1, wrapDaemonError(err, fmt.Sprintf("failed to inspect exec %q", execID))
	}
	return inspect.ExitCode, nil
}

// waitExecExit polls until the daemon no longer reports the exec as
// running. The stream closing and the exit code becoming visible are not
// simultaneous.
func waitExecExit(ctx context.Context, cli *Client, execID string) (container.ExecInspect, error) {
	pollCtx, cancel := context.WithTimeout(ctx, exitPollTimeout)
	defer cancel()

	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		inspect, err := cli.Inner().ContainerExecInspect(pollCtx, execID)
		if err != nil {
			return inspect, err
		}
		if !inspect.Running {
			return inspect, nil
		}

		select {
		case <-pollCtx.Done():
			return inspect, pollCtx.Err()
		case <-ticker.C:
		}
	}
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
