package containerdef

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// writeDefinition writes content to a temp file and returns its path.
func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoad_JSONC verifies that comments and trailing commas are accepted.
func TestLoad_JSONC(t *testing.T) {
	path := writeDefinition(t, `{
		// database used by the integration tests
		"image": "postgres:16",
		"name": "it-db",
		/* published for the test runner */
		"ports": ["15432:5432", "53/udp",],
		"env": {"POSTGRES_PASSWORD": "secret"},
		"cmd": ["postgres", "-c", "fsync=off"],
	}`)

	def, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres:16", def.Image)
	assert.Equal(t, "it-db", def.Name)
	assert.Equal(t, []string{"15432:5432", "53/udp"}, def.Ports)
	assert.Equal(t, map[string]string{"POSTGRES_PASSWORD": "secret"}, def.Env)
	assert.Equal(t, []string{"postgres", "-c", "fsync=off"}, def.Cmd)
	require.NoError(t, def.Validate())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.jsonc"))
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitInvalidDefinition, cliErr.Code)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", `{"image": `},
		{"unknown field", `{"image": "alpine", "imgae": "typo"}`},
		{"wrong type", `{"image": "alpine", "cmd": "sh -c true"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeDefinition(t, tt.content))
			require.Error(t, err)

			var cliErr *model.CLIError
			require.True(t, errors.As(err, &cliErr))
			assert.Equal(t, model.ExitInvalidDefinition, cliErr.Code)
		})
	}
}

// TestDefinition_Merge verifies flag values override file values.
func TestDefinition_Merge(t *testing.T) {
	base := Definition{
		Image:  "alpine:3",
		Name:   "from-file",
		Cmd:    []string{"sleep", "60"},
		Env:    map[string]string{"A": "1", "B": "2"},
		Ports:  []string{"80"},
		Labels: map[string]string{"team": "ci"},
	}
	override := Definition{
		Name: "from-flag",
		Env:  map[string]string{"B": "override", "C": "3"},
	}

	got := base.Merge(override)

	assert.Equal(t, "alpine:3", got.Image)
	assert.Equal(t, "from-flag", got.Name)
	assert.Equal(t, []string{"sleep", "60"}, got.Cmd)
	assert.Equal(t, map[string]string{"A": "1", "B": "override", "C": "3"}, got.Env)
	assert.Equal(t, []string{"80"}, got.Ports)
	assert.Equal(t, map[string]string{"team": "ci"}, got.Labels)

	// The receiver must not be modified.
	assert.Equal(t, "2", base.Env["B"])
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{"minimal", Definition{Image: "alpine"}, false},
		{"no image", Definition{Name: "x"}, true},
		{"bad env key", Definition{Image: "alpine", Env: map[string]string{"A=B": "c"}}, true},
		{"bad port", Definition{Image: "alpine", Ports: []string{"not-a-port:80"}}, true},
		{"good ports", Definition{Image: "alpine", Ports: []string{"127.0.0.1:5432:5432/tcp"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestDefinition_PortSpecs checks the docker -p syntax is translated into
// exposed ports and bindings.
func TestDefinition_PortSpecs(t *testing.T) {
	def := Definition{Ports: []string{"15432:5432", "127.0.0.1:8080:80/tcp", "53/udp"}}

	exposed, bindings, err := def.PortSpecs()
	require.NoError(t, err)

	assert.Contains(t, exposed, nat.Port("5432/tcp"))
	assert.Contains(t, exposed, nat.Port("80/tcp"))
	assert.Contains(t, exposed, nat.Port("53/udp"))

	require.Len(t, bindings["5432/tcp"], 1)
	assert.Equal(t, "15432", bindings["5432/tcp"][0].HostPort)
	require.Len(t, bindings["80/tcp"], 1)
	assert.Equal(t, "127.0.0.1", bindings["80/tcp"][0].HostIP)
	assert.Equal(t, "8080", bindings["80/tcp"][0].HostPort)

	exposed, bindings, err = Definition{}.PortSpecs()
	require.NoError(t, err)
	assert.Nil(t, exposed)
	assert.Nil(t, bindings)
}

func TestDefinition_EnvList(t *testing.T) {
	def := Definition{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, def.EnvList())
	assert.Nil(t, Definition{}.EnvList())
}

func TestParseKeyValues(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "FROM_HOST" {
			return "host-value", true
		}
		return "", false
	}

	got, err := ParseKeyValues([]string{"A=1", "B=", "C=x=y", "FROM_HOST", "MISSING"}, lookup)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"A":         "1",
		"B":         "",
		"C":         "x=y",
		"FROM_HOST": "host-value",
	}, got)

	_, err = ParseKeyValues([]string{"=oops"}, lookup)
	assert.Error(t, err)

	got, err = ParseKeyValues(nil, lookup)
	require.NoError(t, err)
	assert.Nil(t, got)
}
