package model

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"
)

// RecordKind discriminates the variants of the Record sum type.
// It is also the tag written to the record store file, so the values are
// part of the on-disk format and must not change.
type RecordKind string

const (
	// KindContainer marks a ContainerInfoRecord.
	KindContainer RecordKind = "container"

	// KindExec marks an ExecInfoRecord.
	KindExec RecordKind = "exec"
)

// String returns the string representation of RecordKind.
func (k RecordKind) String() string {
	return string(k)
}

// IsValid checks whether the RecordKind value is one of the
// predefined kinds.
func (k RecordKind) IsValid() bool {
	switch k {
	case KindContainer, KindExec:
		return true
	default:
		return false
	}
}

// ParseRecordKind converts a string to a RecordKind.
// Returns an error if the string does not match any valid kind.
func ParseRecordKind(s string) (RecordKind, error) {
	kind := RecordKind(strings.ToLower(s))
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid record kind: %q (valid: container, exec)", s)
	}
	return kind, nil
}

// Record is an immutable fact attached to a build by an earlier build step.
//
// Record is a closed sum type: the unexported isRecord method means only
// ContainerInfoRecord and ExecInfoRecord (both in this package) implement
// it. Consumers switch on the concrete type and can rely on there being no
// third variant.
type Record interface {
	// Kind returns the variant tag of the record.
	Kind() RecordKind

	isRecord()
}

// ContainerInfoRecord describes a container that was started by a build
// step. It is captured from the daemon's inspect response at the moment
// the container starts.
type ContainerInfoRecord struct {
	// ID is the full Docker container identifier. Never empty.
	ID string `json:"id" yaml:"id"`

	// HostName is the container's configured host name. May be empty.
	HostName string `json:"hostName,omitempty" yaml:"hostName,omitempty"`

	// IPAddress is the container's address on the default bridge network.
	// May be empty (e.g. host networking or a user-defined network only).
	IPAddress string `json:"ipAddress,omitempty" yaml:"ipAddress,omitempty"`

	// PortBindings maps an exposed port ("1234/tcp") to the host ports it
	// was bound to. A nil map means the container reported no bindings at
	// all; an empty map means bindings were reported but none exist. The
	// record store keeps the two apart; JSON output omits both.
	PortBindings nat.PortMap `json:"portBindings,omitempty" yaml:"portBindings,omitempty"`
}

// Kind returns KindContainer.
func (ContainerInfoRecord) Kind() RecordKind { return KindContainer }

func (ContainerInfoRecord) isRecord() {}

// HasPortBindings reports whether the record carries a port binding map.
func (r ContainerInfoRecord) HasPortBindings() bool {
	return r.PortBindings != nil
}

// Validate checks that the record has the fields every consumer relies on.
func (r ContainerInfoRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("container record: id must not be empty")
	}
	return nil
}

// ExecInfoRecord describes an exec instance created inside a container by
// a build step. One record exists per exec invocation, so several records
// may share a ContainerID.
type ExecInfoRecord struct {
	// ContainerID is the container the exec instance belongs to. It is not
	// required to match a ContainerInfoRecord of the same build.
	ContainerID string `json:"containerId" yaml:"containerId"`

	// ExecCommandID is the identifier the daemon returned for the exec.
	ExecCommandID string `json:"execCommandId" yaml:"execCommandId"`
}

// Kind returns KindExec.
func (ExecInfoRecord) Kind() RecordKind { return KindExec }

func (ExecInfoRecord) isRecord() {}

// Validate checks that both identifiers are present.
func (r ExecInfoRecord) Validate() error {
	if r.ContainerID == "" {
		return fmt.Errorf("exec record: container id must not be empty")
	}
	if r.ExecCommandID == "" {
		return fmt.Errorf("exec record: exec command id must not be empty")
	}
	return nil
}

// ValidateRecord dispatches to the Validate method of the concrete record.
func ValidateRecord(r Record) error {
	switch rec := r.(type) {
	case ContainerInfoRecord:
		return rec.Validate()
	case ExecInfoRecord:
		return rec.Validate()
	case nil:
		return fmt.Errorf("record must not be nil")
	default:
		return fmt.Errorf("unsupported record type %T", r)
	}
}

// ShortID truncates a Docker identifier to the 12-character form shown by
// the docker CLI. Shorter identifiers are returned unchanged.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
