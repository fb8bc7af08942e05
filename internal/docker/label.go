package docker

import (
	"fmt"
	"time"

	"github.com/docker/docker/api/types/filters"
)

// Label keys put on every container created by docker-build-step.
// All keys share the "docker-build-step." prefix to avoid collisions with
// labels set by other tools or by the user's definition.
const (
	// LabelPrefix is the common prefix for all docker-build-step labels.
	LabelPrefix = "docker-build-step."

	// LabelManagedBy identifies containers created by this tool.
	// Key: "docker-build-step.managed-by", Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelBuildID ties a container to the build whose step created it.
	// Key: "docker-build-step.build-id", Value: the build ID.
	LabelBuildID = LabelPrefix + "build-id"

	// LabelCreatedAt stores the RFC3339 creation timestamp.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "docker-build-step"

// BuildLabels returns the labels for a container created during buildID.
// User labels are copied first so that the management labels cannot be
// overridden by a definition file.
func BuildLabels(buildID string, user map[string]string, now time.Time) map[string]string {
	labels := make(map[string]string, len(user)+3)
	for k, v := range user {
		labels[k] = v
	}
	labels[LabelManagedBy] = ManagedByValue
	labels[LabelBuildID] = buildID
	labels[LabelCreatedAt] = now.UTC().Format(time.RFC3339)
	return labels
}

// IsBuildContainer reports whether labels mark a container of buildID.
func IsBuildContainer(labels map[string]string, buildID string) bool {
	return labels[LabelManagedBy] == ManagedByValue && labels[LabelBuildID] == buildID
}

// BuildFilter returns a server-side list filter matching the containers
// created during buildID.
func BuildFilter(buildID string) filters.Args {
	return filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
		filters.Arg("label", fmt.Sprintf("%s=%s", LabelBuildID, buildID)),
	)
}
