// Package cli: remove.go implements the "docker-build-step rm" command.
//
// Without arguments rm cleans up everything the build created: the
// recorded containers plus any container carrying the build label (for
// example one created but never started). Containers that are already
// gone are skipped. With --purge the build's records are cleared once all
// removals succeed.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/docker"
	"github.com/shinji-kodama/docker-build-step/internal/envcontrib"
	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// removeFlags holds the flag values for the rm command.
type removeFlags struct {
	force   bool
	volumes bool
	purge   bool
}

// NewRemoveCommand creates the "rm" cobra command.
func NewRemoveCommand() *cobra.Command {
	flags := &removeFlags{}

	cmd := &cobra.Command{
		Use:     "rm [flags] [container...]",
		Aliases: []string{"remove"},
		Short:   "Remove containers",
		Long: `Remove containers.

Without arguments every container of the build is removed: the recorded
ones and any container labelled with the build ID. Containers that no
longer exist are skipped in that case.

Examples:
  docker-build-step rm --force --volumes
  docker-build-step rm --force --purge
  docker-build-step rm db`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args, flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Kill running containers before removing them")
	cmd.Flags().BoolVar(&flags.volumes, "volumes", false, "Also remove anonymous volumes")
	cmd.Flags().BoolVar(&flags.purge, "purge", false, "Clear the build's records after removing its containers")

	return cmd
}

// runRemove is the main logic function for the rm command.
func runRemove(cmd *cobra.Command, args []string, flags *removeFlags) error {
	ctx := cmd.Context()

	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	targets, explicit, err := resolveTargets(sess, args)
	if err != nil {
		return err
	}

	cli, err := sess.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if !explicit {
		labelled, err := docker.ListBuildContainers(ctx, cli, sess.cfg.BuildID)
		if err != nil {
			return err
		}
		targets = envcontrib.MergeContainerIDs(targets, labelled)
	}

	removed, err := forEachContainer(targets, explicit, func(id string) error {
		logger.Debug("Removing container", "container", model.ShortID(id), "force", flags.force)
		return docker.RemoveContainer(ctx, cli, id, flags.force, flags.volumes)
	})
	if err != nil {
		return err
	}

	if flags.purge {
		if err := sess.store.Clear(); err != nil {
			return model.WrapCLIError(model.ExitRecordStore, "cannot clear build records", err)
		}
		logger.Info("Cleared build records", "build", sess.cfg.BuildID)
	}

	return printContainerIDs(cmd.OutOrStdout(), "removed", removed)
}
