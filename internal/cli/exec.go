// Package cli: exec.go implements the "exec" and "exec-start" commands.
//
// "exec" creates an exec instance, records its ID for the build and, unless
// --detach is given, runs it and streams its output. "exec-start" runs an
// exec instance created earlier (typically by a detached "exec" in a
// previous build step, whose ID is published as DOCKER_EXEC_ID_<container>).
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/containerdef"
	"github.com/shinji-kodama/docker-build-step/internal/docker"
	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// execFlags holds the flag values for the exec command.
type execFlags struct {
	detach  bool
	tty     bool
	env     []string
	workdir string
	user    string
}

// NewExecCommand creates the "exec" cobra command.
func NewExecCommand() *cobra.Command {
	flags := &execFlags{}

	cmd := &cobra.Command{
		Use:   "exec [flags] <container> -- <command> [args...]",
		Short: "Run a command in a running container",
		Long: `Create an exec instance in a running container and record its ID.

Without --detach the command runs immediately; its stdout and stderr are
streamed and a non-zero exit code fails this command. With --detach the
exec instance is only created and its ID printed, to be run later with
"exec-start".

Examples:
  docker-build-step exec db -- pg_isready -U postgres
  docker-build-step exec --detach -e SUITE=smoke app -- ./run-tests.sh`,

		Args: cobra.MinimumNArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, args, flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.detach, "detach", "d", false, "Create the exec instance without running it")
	cmd.Flags().BoolVarP(&flags.tty, "tty", "t", false, "Allocate a pseudo-TTY")
	cmd.Flags().StringArrayVarP(&flags.env, "env", "e", nil, "Set an environment variable KEY=value, repeatable")
	cmd.Flags().StringVarP(&flags.workdir, "workdir", "w", "", "Working directory inside the container")
	cmd.Flags().StringVarP(&flags.user, "user", "u", "", "Run the command as this user")

	return cmd
}

// runExec is the main logic function for the exec command.
func runExec(cmd *cobra.Command, args []string, flags *execFlags) error {
	ctx := cmd.Context()
	containerID := args[0]

	spec, err := buildExecSpec(flags, args[1:], os.LookupEnv)
	if err != nil {
		return err
	}

	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	cli, err := sess.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	rec, err := docker.CreateExec(ctx, cli, containerID, spec)
	if err != nil {
		return err
	}
	if err := sess.attach(rec); err != nil {
		return err
	}
	logger.Debug("Created exec instance", "container", model.ShortID(containerID), "exec", model.ShortID(rec.ExecCommandID))

	if flags.detach {
		return printExecRecord(cmd.OutOrStdout(), rec)
	}

	return runExecInstance(ctx, cli, rec.ExecCommandID, flags.tty, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// buildExecSpec assembles the exec request from flags and the command
// arguments.
func buildExecSpec(flags *execFlags, command []string, lookup func(string) (string, bool)) (docker.ExecSpec, error) {
	env, err := containerdef.ParseKeyValues(flags.env, lookup)
	if err != nil {
		return docker.ExecSpec{}, model.WrapCLIError(model.ExitGeneralError, "invalid --env value", err)
	}

	return docker.ExecSpec{
		Cmd:        command,
		Env:        containerdef.Definition{Env: env}.EnvList(),
		WorkingDir: flags.workdir,
		User:       flags.user,
		Tty:        flags.tty,
	}, nil
}

// runExecInstance starts an exec instance and turns a non-zero exit code
// into an ExitExecFailed error.
func runExecInstance(ctx context.Context, cli *docker.Client, execID string, tty bool, stdout, stderr io.Writer) error {
	code, err := docker.StartExec(ctx, cli, execID, tty, stdout, stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return model.NewCLIError(model.ExitExecFailed,
			fmt.Sprintf("exec %s exited with code %d", model.ShortID(execID), code))
	}
	logger.Debug("Exec finished", "exec", model.ShortID(execID))
	return nil
}

// printExecRecord outputs a detached exec's ID, or the whole record in
// JSON mode.
func printExecRecord(w io.Writer, rec model.ExecInfoRecord) error {
	if IsJSONOutput() {
		return printJSON(w, rec)
	}
	_, err := fmt.Fprintln(w, rec.ExecCommandID)
	return err
}

// NewExecStartCommand creates the "exec-start" cobra command.
func NewExecStartCommand() *cobra.Command {
	var tty bool

	cmd := &cobra.Command{
		Use:   "exec-start <exec-id>",
		Short: "Run a previously created exec instance",
		Long: `Run an exec instance created by "exec --detach" and stream its output.

A non-zero exit code of the command fails this command.

Examples:
  docker-build-step exec-start "$DOCKER_EXEC_ID_3f2a9c"`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := loadSession(cmd)
			if err != nil {
				return err
			}

			cli, err := sess.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = cli.Close() }()

			return runExecInstance(ctx, cli, args[0], tty, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVarP(&tty, "tty", "t", false, "The exec instance was created with a TTY")

	return cmd
}
