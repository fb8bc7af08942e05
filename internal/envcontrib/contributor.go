// Package envcontrib turns the records attached to a build into environment
// variables for later build steps.
//
// Three families of variables are produced:
//
//	DOCKER_CONTAINER_IDS               comma-joined IDs of started containers
//	DOCKER_HOST_BIND_PORT_<PROTO>_<N>  first host port bound to exposed port N/proto
//	DOCKER_EXEC_ID_<containerId>       exec command ID created in that container
//
// The names are read by user build scripts and must stay stable.
package envcontrib

import (
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

const (
	// ContainerIDsVar holds the comma-separated, duplicate-free list of
	// container IDs started during the build, in first-seen order.
	ContainerIDsVar = "DOCKER_CONTAINER_IDS"

	// PortBindingPrefix prefixes one variable per exposed port, e.g.
	// DOCKER_HOST_BIND_PORT_TCP_1234.
	PortBindingPrefix = "DOCKER_HOST_BIND_PORT_"

	// ExecCommandIDPrefix prefixes one variable per container that had an
	// exec instance created in it, e.g. DOCKER_EXEC_ID_<containerId>.
	ExecCommandIDPrefix = "DOCKER_EXEC_ID_"

	// idSeparator joins entries of ContainerIDsVar.
	idSeparator = ","
)

// Contributor computes environment variables from a build's records.
// The zero value is ready to use and holds no state, so a single value
// may be shared between concurrent builds.
type Contributor struct{}

// New returns a Contributor.
func New() *Contributor {
	return &Contributor{}
}

// Contribute merges the variables derived from records into env.
//
// The existing ContainerIDsVar value is kept as the head of the ID list and
// IDs from container records are appended in attachment order, skipping
// ones already present. Port and exec variables are written as records are
// visited, so for two exec records against the same container the later
// one wins. Keys unrelated to this package are never touched, and when no
// container ID is known at all ContainerIDsVar is left unset.
func (c *Contributor) Contribute(env map[string]string, records []model.Record) {
	Contribute(env, records)
}

// Contribute is the package-level form of Contributor.Contribute.
func Contribute(env map[string]string, records []model.Record) {
	ids := newIDList(SplitContainerIDs(env[ContainerIDsVar]))

	for _, r := range records {
		switch rec := r.(type) {
		case model.ContainerInfoRecord:
			ids.add(rec.ID)
			if rec.HasPortBindings() {
				contributePorts(env, rec.PortBindings)
			}
		case model.ExecInfoRecord:
			// Only the most recent exec per container survives. Callers that
			// need every exec ID must read the record store directly.
			env[ExecVariable(rec.ContainerID)] = rec.ExecCommandID
		}
	}

	if ids.len() > 0 {
		env[ContainerIDsVar] = JoinContainerIDs(ids.items)
	}
}

// contributePorts writes one variable per exposed port that has at least
// one binding with a host port. Only the first binding is surfaced.
func contributePorts(env map[string]string, bindings nat.PortMap) {
	for port, list := range bindings {
		if len(list) == 0 || list[0].HostPort == "" {
			continue
		}
		env[PortVariable(port)] = list[0].HostPort
	}
}

// PortVariable returns the variable name for an exposed port:
// "1234/tcp" becomes DOCKER_HOST_BIND_PORT_TCP_1234.
func PortVariable(port nat.Port) string {
	return PortBindingPrefix + strings.ToUpper(port.Proto()) + "_" + port.Port()
}

// ExecVariable returns the variable name that carries the exec command ID
// for containerID.
func ExecVariable(containerID string) string {
	return ExecCommandIDPrefix + containerID
}

// SplitContainerIDs parses a ContainerIDsVar value. Empty entries (from a
// missing value, doubled or trailing commas) are dropped and order is kept.
// Duplicates are not removed here.
func SplitContainerIDs(value string) []string {
	var ids []string
	for _, id := range strings.Split(value, idSeparator) {
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// JoinContainerIDs renders ids as a ContainerIDsVar value.
func JoinContainerIDs(ids []string) string {
	return strings.Join(ids, idSeparator)
}

// MergeContainerIDs returns the order-preserving, duplicate-free union of
// the given ID lists, first occurrence winning.
func MergeContainerIDs(lists ...[]string) []string {
	merged := newIDList(nil)
	for _, list := range lists {
		for _, id := range list {
			merged.add(id)
		}
	}
	return merged.items
}

// idList is an insertion-ordered set of container IDs.
type idList struct {
	items []string
	seen  map[string]struct{}
}

func newIDList(initial []string) *idList {
	l := &idList{seen: make(map[string]struct{}, len(initial))}
	for _, id := range initial {
		l.add(id)
	}
	return l
}

func (l *idList) add(id string) {
	if id == "" {
		return
	}
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.items = append(l.items, id)
}

func (l *idList) len() int {
	return len(l.items)
}
