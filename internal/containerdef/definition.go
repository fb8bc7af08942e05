// Package containerdef loads container definitions used by the create
// command.
//
// A definition can come from a JSONC file (JSON with comments and trailing
// commas, stripped with github.com/tidwall/jsonc before decoding), from
// command-line flags, or both, with flags taking precedence. Port specs use
// the docker run -p syntax and are parsed with
// github.com/docker/go-connections/nat.
package containerdef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// Definition describes a container to create.
type Definition struct {
	// Image is the image reference to create the container from. Required.
	Image string `json:"image"`

	// Name is the container name. Empty lets the daemon pick one.
	Name string `json:"name,omitempty"`

	// Hostname is the container's host name.
	Hostname string `json:"hostname,omitempty"`

	// Cmd overrides the image's default command.
	Cmd []string `json:"cmd,omitempty"`

	// Env sets environment variables inside the container.
	Env map[string]string `json:"env,omitempty"`

	// WorkingDir overrides the image's working directory.
	WorkingDir string `json:"workingDir,omitempty"`

	// Ports publishes container ports, in docker run -p syntax:
	// "8080:80", "127.0.0.1:5432:5432/tcp", "53/udp".
	Ports []string `json:"ports,omitempty"`

	// Labels are added to the container next to the build labels.
	Labels map[string]string `json:"labels,omitempty"`
}

// Load reads a JSONC definition file.
//
// Returns a CLIError with ExitInvalidDefinition if the file is missing or
// cannot be parsed.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.WrapCLIError(
				model.ExitInvalidDefinition,
				fmt.Sprintf("container definition not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read container definition: %w", err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitInvalidDefinition,
			fmt.Sprintf("failed to parse container definition %s", path),
			err,
		)
	}
	return def, nil
}

// Parse decodes a JSONC document. Unknown fields are rejected so that a
// misspelt key does not silently drop configuration.
func Parse(data []byte) (*Definition, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Merge returns a copy of d with every non-empty field of override applied
// on top. Maps are merged key by key; slices are replaced.
func (d Definition) Merge(override Definition) Definition {
	out := d
	if override.Image != "" {
		out.Image = override.Image
	}
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Hostname != "" {
		out.Hostname = override.Hostname
	}
	if len(override.Cmd) > 0 {
		out.Cmd = override.Cmd
	}
	if override.WorkingDir != "" {
		out.WorkingDir = override.WorkingDir
	}
	if len(override.Ports) > 0 {
		out.Ports = override.Ports
	}
	out.Env = mergeMaps(d.Env, override.Env)
	out.Labels = mergeMaps(d.Labels, override.Labels)
	return out
}

// Validate checks the definition is complete and its port specs parse.
func (d Definition) Validate() error {
	if d.Image == "" {
		return fmt.Errorf("container definition: image must not be empty")
	}
	for k := range d.Env {
		if k == "" || strings.Contains(k, "=") {
			return fmt.Errorf("container definition: invalid environment variable name %q", k)
		}
	}
	if _, _, err := d.PortSpecs(); err != nil {
		return err
	}
	return nil
}

// PortSpecs parses Ports into the exposed port set and binding map the
// Docker API expects.
func (d Definition) PortSpecs() (nat.PortSet, nat.PortMap, error) {
	if len(d.Ports) == 0 {
		return nil, nil, nil
	}
	exposed, bindings, err := nat.ParsePortSpecs(d.Ports)
	if err != nil {
		return nil, nil, fmt.Errorf("container definition: invalid port spec: %w", err)
	}
	return exposed, bindings, nil
}

// EnvList renders Env as sorted KEY=value pairs.
func (d Definition) EnvList() []string {
	if len(d.Env) == 0 {
		return nil
	}
	list := make([]string, 0, len(d.Env))
	for k, v := range d.Env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// ParseKeyValues turns repeated KEY=value flag values into a map. A bare
// KEY is looked up with lookup (os.LookupEnv in production), mirroring
// docker run -e KEY.
func ParseKeyValues(pairs []string, lookup func(string) (string, bool)) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, found := strings.Cut(p, "=")
		if key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", p)
		}
		if !found {
			v, ok := lookup(key)
			if !ok {
				continue
			}
			value = v
		}
		out[key] = value
	}
	return out, nil
}

func mergeMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
