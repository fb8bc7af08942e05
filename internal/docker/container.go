// container.go implements container lifecycle operations for build steps:
// create, start, inspect, stop, remove, and listing the containers a build
// created.
//
// Start is the point where a container becomes visible to later steps: the
// caller turns the inspect response into a model.ContainerInfoRecord and
// appends it to the build's record store.
package docker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"

	"github.com/shinji-kodama/docker-build-step/internal/containerdef"
	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// CreateResult is the outcome of CreateContainer.
type CreateResult struct {
	// ID is the full container ID.
	ID string

	// Warnings are non-fatal messages returned by the daemon.
	Warnings []string
}

// CreateContainer creates (but does not start) a container from def,
// labelled for the given build.
func CreateContainer(ctx context.Context, cli *Client, def containerdef.Definition, labels map[string]string) (CreateResult, error) {
	cfg, hostCfg, err := buildCreateConfig(def, labels)
	if err != nil {
		return CreateResult{}, model.WrapCLIError(
			model.ExitInvalidDefinition,
			"invalid container definition",
			err,
		)
	}

	resp, err := cli.Inner().ContainerCreate(ctx, cfg, hostCfg, nil, nil, def.Name)
	if err != nil {
		return CreateResult{}, wrapDaemonError(err, fmt.Sprintf("failed to create container from image %q", def.Image))
	}

	return CreateResult{ID: resp.ID, Warnings: resp.Warnings}, nil
}

// buildCreateConfig translates a definition into the Docker API create
// structs. It is a pure function so it can be tested without a daemon.
func buildCreateConfig(def containerdef.Definition, labels map[string]string) (*container.Config, *container.HostConfig, error) {
	if err := def.Validate(); err != nil {
		return nil, nil, err
	}

	exposed, bindings, err := def.PortSpecs()
	if err != nil {
		return nil, nil, err
	}

	cfg := &container.Config{
		Image:        def.Image,
		Hostname:     def.Hostname,
		Cmd:          def.Cmd,
		Env:          def.EnvList(),
		WorkingDir:   def.WorkingDir,
		Labels:       labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
	}
	return cfg, hostCfg, nil
}

// StartContainer starts a created or stopped container by its ID.
func StartContainer(ctx context.Context, cli *Client, containerID string) error {
	err := cli.Inner().ContainerStart(ctx, containerID, container.StartOptions{})
	if err != nil {
		return wrapDaemonError(err, fmt.Sprintf("failed to start container %q", containerID))
	}
	return nil
}

// InspectContainer returns the record describing a container as it is
// now. Call it right after StartContainer so that published ports have
// been assigned.
func InspectContainer(ctx context.Context, cli *Client, containerID string) (model.ContainerInfoRecord, error) {
	resp, err := cli.Inner().ContainerInspect(ctx, containerID)
	if err != nil {
		return model.ContainerInfoRecord{}, wrapDaemonError(err, fmt.Sprintf("failed to inspect container %q", containerID))
	}
	return inspectToRecord(containerID, resp), nil
}

// inspectToRecord maps an inspect response to a ContainerInfoRecord.
//
// The IP address is the default bridge address when there is one;
// otherwise the address on the alphabetically first attached network, so
// that containers on user-defined networks still report an address.
func inspectToRecord(requestedID string, resp container.InspectResponse) model.ContainerInfoRecord {
	rec := model.ContainerInfoRecord{ID: requestedID}
	if resp.ContainerJSONBase != nil && resp.ID != "" {
		rec.ID = resp.ID
	}
	if resp.Config != nil {
		rec.HostName = resp.Config.Hostname
	}

	ns := resp.NetworkSettings
	if ns == nil {
		return rec
	}

	rec.IPAddress = ns.IPAddress
	if rec.IPAddress == "" && len(ns.Networks) > 0 {
		names := make([]string, 0, len(ns.Networks))
		for name := range ns.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if ep := ns.Networks[name]; ep != nil && ep.IPAddress != "" {
				rec.IPAddress = ep.IPAddress
				break
			}
		}
	}

	if ns.Ports != nil {
		rec.PortBindings = ns.Ports
	}
	return rec
}

// StopContainer stops a running container. The daemon sends SIGTERM and
// kills the container after timeout. A zero timeout uses the daemon's
// default.
func StopContainer(ctx context.Context, cli *Client, containerID string, timeout time.Duration) error {
	opts := container.StopOptions{Timeout: stopTimeoutSeconds(timeout)}

	err := cli.Inner().ContainerStop(ctx, containerID, opts)
	if err != nil {
		return wrapDaemonError(err, fmt.Sprintf("failed to stop container %q", containerID))
	}
	return nil
}

// stopTimeoutSeconds converts timeout to the whole seconds the API takes,
// rounding up so a positive timeout never becomes 0 (kill immediately).
// Nil leaves the choice to the daemon.
func stopTimeoutSeconds(timeout time.Duration) *int {
	if timeout <= 0 {
		return nil
	}
	secs := int((timeout + time.Second - 1) / time.Second)
	return &secs
}

// RemoveContainer removes a container. With force a running container is
// killed first; with volumes its anonymous volumes are removed too.
func RemoveContainer(ctx context.Context, cli *Client, containerID string, force, volumes bool) error {
	err := cli.Inner().ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: volumes,
	})
	if err != nil {
		return wrapDaemonError(err, fmt.Sprintf("failed to remove container %q", containerID))
	}
	return nil
}

// ListBuildContainers returns the IDs of all containers (running or not)
// labelled with buildID, oldest first.
func ListBuildContainers(ctx context.Context, cli *Client, buildID string) ([]string, error) {
	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: BuildFilter(buildID),
	})
	if err != nil {
		return nil, wrapDaemonError(err, "failed to list Docker containers")
	}
	return summariesToIDs(containers, buildID), nil
}

// summariesToIDs keeps the containers that really carry the build labels
// and orders them by creation time.
func summariesToIDs(containers []container.Summary, buildID string) []string {
	kept := make([]container.Summary, 0, len(containers))
	for _, c := range containers {
		if IsBuildContainer(c.Labels, buildID) {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Created < kept[j].Created
	})

	ids := make([]string, 0, len(kept))
	for _, c := range kept {
		ids = append(ids, c.ID)
	}
	return ids
}

// IsNotFound reports whether err means the container or exec instance
// does not exist on the daemon.
func IsNotFound(err error) bool {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) && cliErr.Code == model.ExitContainerNotFound {
		return true
	}
	return cerrdefs.IsNotFound(err)
}

// wrapDaemonError classifies a Docker API error into a CLIError.
func wrapDaemonError(err error, message string) error {
	switch {
	case cerrdefs.IsNotFound(err):
		return model.WrapCLIError(model.ExitContainerNotFound, message, err)
	case isConnectionError(err):
		return model.WrapCLIError(model.ExitDockerNotRunning, message, err)
	default:
		return model.WrapCLIError(model.ExitGeneralError, message, err)
	}
}

// isConnectionError detects errors raised before the daemon answered.
func isConnectionError(err error) bool {
	if cerrdefs.IsUnavailable(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Cannot connect to the Docker daemon") ||
		strings.Contains(msg, "connection refused")
}
