// Package cli: stop.go implements the "docker-build-step stop" command.
//
// With explicit IDs every container is stopped and any failure is
// reported. Without IDs the command stops every container the build knows
// about (the inherited DOCKER_CONTAINER_IDS plus the recorded ones); in
// that mode containers that are already gone only produce a warning, so
// a cleanup step can always run.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/docker"
	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// stopFlags holds the flag values for the stop command.
type stopFlags struct {
	// timeout is the grace period before the daemon kills the container.
	// Zero means the configured stop_timeout.
	timeout time.Duration
}

// NewStopCommand creates the "stop" cobra command.
func NewStopCommand() *cobra.Command {
	flags := &stopFlags{}

	cmd := &cobra.Command{
		Use:   "stop [flags] [container...]",
		Short: "Stop containers",
		Long: `Stop containers.

Without arguments every container recorded for the build is stopped.
Containers that no longer exist are skipped in that case.

Examples:
  docker-build-step stop
  docker-build-step stop --timeout 30s db`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, args, flags)
		},
	}

	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Grace period before the container is killed (default: configured stop_timeout)")

	return cmd
}

// runStop is the main logic function for the stop command.
func runStop(cmd *cobra.Command, args []string, flags *stopFlags) error {
	ctx := cmd.Context()

	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	targets, explicit, err := resolveTargets(sess, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		logger.Info("No containers recorded for build", "build", sess.cfg.BuildID)
		return printContainerIDs(cmd.OutOrStdout(), "stopped", nil)
	}

	timeout := flags.timeout
	if timeout <= 0 {
		timeout = sess.cfg.StopTimeout
	}

	cli, err := sess.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	stopped, err := forEachContainer(targets, explicit, func(id string) error {
		logger.Debug("Stopping container", "container", model.ShortID(id), "timeout", timeout)
		return docker.StopContainer(ctx, cli, id, timeout)
	})
	if err != nil {
		return err
	}

	return printContainerIDs(cmd.OutOrStdout(), "stopped", stopped)
}

// resolveTargets returns the containers a stop or rm acts on. The second
// return value reports whether the user named them explicitly.
func resolveTargets(sess *session, args []string) ([]string, bool, error) {
	if len(args) > 0 {
		return args, true, nil
	}
	records, err := sess.records()
	if err != nil {
		return nil, false, err
	}
	return recordedContainerIDs(os.LookupEnv, records), false, nil
}

// forEachContainer applies fn to every ID in order. In explicit mode the
// first error aborts; otherwise not-found errors are logged and skipped.
// It returns the IDs fn succeeded on.
func forEachContainer(ids []string, explicit bool, fn func(id string) error) ([]string, error) {
	done := make([]string, 0, len(ids))
	for _, id := range ids {
		err := fn(id)
		switch {
		case err == nil:
			done = append(done, id)
		case !explicit && docker.IsNotFound(err):
			logger.Warn("Container no longer exists, skipping", "container", model.ShortID(id))
		default:
			return done, err
		}
	}
	return done, nil
}

// printContainerIDs outputs the affected container IDs one per line, or
// as {"<action>": [...]} in JSON mode.
func printContainerIDs(w io.Writer, action string, ids []string) error {
	if IsJSONOutput() {
		if ids == nil {
			ids = []string{}
		}
		return printJSON(w, map[string]interface{}{action: ids})
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}
