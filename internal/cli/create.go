// Package cli: create.go implements the "docker-build-step create" command.
//
// The create command creates a container from a JSONC definition file,
// from flags, or both (flags win). The container is labelled with the
// build ID so that "rm" can find it even if it was never started. With
// --start it is started right away and recorded like "start" would.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/containerdef"
	"github.com/shinji-kodama/docker-build-step/internal/docker"
	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// createFlags holds the flag values for the create command.
type createFlags struct {
	file     string
	image    string
	name     string
	hostname string
	workdir  string
	ports    []string
	env      []string
	labels   []string
	start    bool
}

// NewCreateCommand creates the "create" cobra command.
func NewCreateCommand() *cobra.Command {
	flags := &createFlags{}

	cmd := &cobra.Command{
		Use:   "create [flags] [-- command [args...]]",
		Short: "Create a container",
		Long: `Create a container for the current build.

The definition is read from --file (JSON with comments allowed) and/or
flags; flags override file values. Arguments after "--" replace the
image's command. The full container ID is printed on stdout.

Examples:
  docker-build-step create --image postgres:16 -p 15432:5432 -e POSTGRES_PASSWORD=ci
  docker-build-step create --file ci/db.jsonc --start
  docker-build-step create --image alpine:3 -- sleep 300`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Container definition file (JSONC)")
	cmd.Flags().StringVar(&flags.image, "image", "", "Image to create the container from")
	cmd.Flags().StringVar(&flags.name, "name", "", "Container name")
	cmd.Flags().StringVar(&flags.hostname, "hostname", "", "Container host name")
	cmd.Flags().StringVarP(&flags.workdir, "workdir", "w", "", "Working directory inside the container")
	cmd.Flags().StringArrayVarP(&flags.ports, "publish", "p", nil, "Publish a port (docker -p syntax), repeatable")
	cmd.Flags().StringArrayVarP(&flags.env, "env", "e", nil, "Set an environment variable KEY=value (or KEY to copy from the host), repeatable")
	cmd.Flags().StringArrayVarP(&flags.labels, "label", "l", nil, "Add a label KEY=value, repeatable")
	cmd.Flags().BoolVar(&flags.start, "start", false, "Start the container after creating it")

	return cmd
}

// runCreate is the main logic function for the create command.
func runCreate(cmd *cobra.Command, args []string, flags *createFlags) error {
	ctx := cmd.Context()

	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	def, err := resolveDefinition(flags, args, os.LookupEnv)
	if err != nil {
		return err
	}

	cli, err := sess.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	labels := docker.BuildLabels(sess.cfg.BuildID, def.Labels, time.Now())

	logger.Debug("Creating container", "image", def.Image, "name", def.Name)
	result, err := docker.CreateContainer(ctx, cli, def, labels)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		logger.Warn("Docker daemon warning", "container", model.ShortID(result.ID), "warning", w)
	}

	var started *model.ContainerInfoRecord
	if flags.start {
		rec, err := startAndRecord(ctx, sess, cli, result.ID)
		if err != nil {
			return err
		}
		started = &rec
	}

	return printCreateResult(cmd.OutOrStdout(), result.ID, started)
}

// resolveDefinition merges the definition file with flag values and
// validates the result.
func resolveDefinition(flags *createFlags, cmdArgs []string, lookup func(string) (string, bool)) (containerdef.Definition, error) {
	var base containerdef.Definition
	if flags.file != "" {
		loaded, err := containerdef.Load(flags.file)
		if err != nil {
			return containerdef.Definition{}, err
		}
		base = *loaded
	}

	env, err := containerdef.ParseKeyValues(flags.env, lookup)
	if err != nil {
		return containerdef.Definition{}, model.WrapCLIError(model.ExitInvalidDefinition, "invalid --env value", err)
	}
	labels, err := containerdef.ParseKeyValues(flags.labels, func(string) (string, bool) { return "", true })
	if err != nil {
		return containerdef.Definition{}, model.WrapCLIError(model.ExitInvalidDefinition, "invalid --label value", err)
	}

	def := base.Merge(containerdef.Definition{
		Image:      flags.image,
		Name:       flags.name,
		Hostname:   flags.hostname,
		WorkingDir: flags.workdir,
		Cmd:        cmdArgs,
		Ports:      flags.ports,
		Env:        env,
		Labels:     labels,
	})

	if err := def.Validate(); err != nil {
		return containerdef.Definition{}, model.WrapCLIError(model.ExitInvalidDefinition, "invalid container definition", err)
	}
	return def, nil
}

// startAndRecord starts a container, captures its state and attaches the
// resulting record to the build.
func startAndRecord(ctx context.Context, sess *session, cli *docker.Client, containerID string) (model.ContainerInfoRecord, error) {
	logger.Debug("Starting container", "container", model.ShortID(containerID))
	if err := docker.StartContainer(ctx, cli, containerID); err != nil {
		return model.ContainerInfoRecord{}, err
	}

	rec, err := docker.InspectContainer(ctx, cli, containerID)
	if err != nil {
		return model.ContainerInfoRecord{}, err
	}

	if err := sess.attach(rec); err != nil {
		return model.ContainerInfoRecord{}, err
	}
	return rec, nil
}

// printCreateResult outputs the created container ID, plus the start
// record when the container was started.
func printCreateResult(w io.Writer, id string, started *model.ContainerInfoRecord) error {
	if IsJSONOutput() {
		result := map[string]interface{}{
			"id":      id,
			"started": started != nil,
		}
		if started != nil {
			result["container"] = started
		}
		return printJSON(w, result)
	}

	_, err := fmt.Fprintln(w, id)
	return err
}
