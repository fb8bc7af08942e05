package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// NewStartCommand creates the "start" cobra command.
func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <container>...",
		Short: "Start containers and record them for the build",
		Long: `Start one or more existing containers.

After each container starts its ID, host name, IP address and published
ports are recorded for the build, so later steps see them through the
"env" command. Containers are processed in order; the first failure
stops the command.

Examples:
  docker-build-step start 3f2a9c
  docker-build-step start db cache`,

		Args: cobra.MinimumNArgs(1),

		RunE: runStart,
	}

	return cmd
}

// runStart is the main logic function for the start command.
func runStart(cmd *cobra.Command, args []string) error {
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

	started := make([]model.ContainerInfoRecord, 0, len(args))
	for _, id := range args {
		rec, err := startAndRecord(ctx, sess, cli, id)
		if err != nil {
			return err
		}
		logger.Info("Started container", "container", model.ShortID(rec.ID), "host", rec.HostName)
		started = append(started, rec)
	}

	return printStartResult(cmd.OutOrStdout(), started)
}

// printStartResult outputs one full container ID per line, or the
// captured records in JSON mode.
func printStartResult(w io.Writer, started []model.ContainerInfoRecord) error {
	if IsJSONOutput() {
		return printJSON(w, map[string]interface{}{
			"containers": started,
		})
	}

	for _, rec := range started {
		if _, err := fmt.Fprintln(w, rec.ID); err != nil {
			return err
		}
	}
	return nil
}
