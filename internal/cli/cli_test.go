// Package cli: cli_test.go drives the root command end to end for the
// commands that only touch the record store (env, records) and checks the
// shared helpers. No Docker daemon is needed.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/docker-build-step/internal/envcontrib"
	"github.com/shinji-kodama/docker-build-step/internal/model"
	"github.com/shinji-kodama/docker-build-step/internal/record"
)

// isolate runs the test in an empty directory with no configuration
// leaking in from the process environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{
		"BUILD_TAG",
		envcontrib.ContainerIDsVar,
		"DOCKER_BUILD_STEP_BUILD_ID",
		"DOCKER_BUILD_STEP_STATE_DIR",
		"DOCKER_BUILD_STEP_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return dir
}

// seedStore writes records for build into stateDir.
func seedStore(t *testing.T, stateDir, build string, records ...model.Record) {
	t.Helper()
	store, err := record.NewFileStore(stateDir, build)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, store.Append(r))
	}
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func sampleRecords() []model.Record {
	return []model.Record{
		model.ContainerInfoRecord{
			ID:        "aaa111",
			HostName:  "db",
			IPAddress: "172.17.0.2",
			PortBindings: nat.PortMap{
				"5432/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "15432"}},
			},
		},
		model.ExecInfoRecord{ContainerID: "aaa111", ExecCommandID: "exec-1"},
		model.ContainerInfoRecord{ID: "bbb222"},
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"create", "start", "exec", "exec-start", "stop", "rm", "env", "records"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	for _, flag := range []string{"json", "verbose", "config", "build", "state-dir", "docker-host", "api-version", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag --%s", flag)
	}
}

func TestEnvCommand_Dotenv(t *testing.T) {
	dir := isolate(t)
	stateDir := filepath.Join(dir, "state")
	seedStore(t, stateDir, "b1", sampleRecords()...)

	out, err := run(t, "--state-dir", stateDir, "--build", "b1", "env")
	require.NoError(t, err)

	assert.Equal(t,
		"DOCKER_CONTAINER_IDS=aaa111,bbb222\n"+
			"DOCKER_EXEC_ID_aaa111=exec-1\n"+
			"DOCKER_HOST_BIND_PORT_TCP_5432=15432\n",
		out)
}

func TestEnvCommand_InheritsContainerIDs(t *testing.T) {
	dir := isolate(t)
	stateDir := filepath.Join(dir, "state")
	seedStore(t, stateDir, "b1", model.ContainerInfoRecord{ID: "bbb222"})
	t.Setenv(envcontrib.ContainerIDsVar, "zzz999,bbb222")

	out, err := run(t, "--state-dir", stateDir, "--build", "b1", "env", "--format", "shell")
	require.NoError(t, err)
	assert.Equal(t, "export DOCKER_CONTAINER_IDS=zzz999,bbb222\n", out)
}

func TestEnvCommand_ShellSkipsContainerNames(t *testing.T) {
	dir := isolate(t)
	stateDir := filepath.Join(dir, "state")
	seedStore(t, stateDir, "b1",
		model.ContainerInfoRecord{ID: "aaa111"},
		model.ExecInfoRecord{ContainerID: "my-db", ExecCommandID: "e1"},
	)

	out, err := run(t, "--state-dir", stateDir, "--build", "b1", "env", "--format", "shell")
	require.NoError(t, err)
	assert.Equal(t, "export DOCKER_CONTAINER_IDS=aaa111\n", out)
}

func TestEnvCommand_JSONToFile(t *testing.T) {
	dir := isolate(t)
	stateDir := filepath.Join(dir, "state")
	seedStore(t, stateDir, "b1", sampleRecords()...)
	target := filepath.Join(dir, "env.json")

	out, err := run(t, "--state-dir", stateDir, "--build", "b1", "env", "--format", "json", "--output", target)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var env map[string]string
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "aaa111,bbb222", env[envcontrib.ContainerIDsVar])
	assert.Equal(t, "15432", env["DOCKER_HOST_BIND_PORT_TCP_5432"])
}

func TestEnvCommand_NoRecords(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "--state-dir", filepath.Join(dir, "state"), "env")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEnvCommand_InvalidFormat(t *testing.T) {
	isolate(t)

	_, err := run(t, "env", "--format", "xml")
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitGeneralError, cliErr.Code)
}

func TestRecordsCommand(t *testing.T) {
	dir := isolate(t)
	stateDir := filepath.Join(dir, "state")

	out, err := run(t, "--state-dir", stateDir, "--build", "b1", "records")
	require.NoError(t, err)
	assert.Equal(t, "No records for this build.\n", out)

	seedStore(t, stateDir, "b1", sampleRecords()...)

	out, err = run(t, "--state-dir", stateDir, "--build", "b1", "records")
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "host=db ip=172.17.0.2 ports=5432/tcp->15432")
	assert.Contains(t, out, "exec=exec-1")

	out, err = run(t, "--state-dir", stateDir, "--build", "b1", "--json", "records")
	require.NoError(t, err)

	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 3)
	assert.Equal(t, "container", items[0]["kind"])
	assert.Equal(t, "exec", items[1]["kind"])
	assert.Equal(t, "container", items[2]["kind"])
}

func TestRecordsCommand_InvalidBuildID(t *testing.T) {
	isolate(t)

	_, err := run(t, "--build", "../escape", "records")
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitRecordStore, cliErr.Code)
}

func TestComputeEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		records []model.Record
		want    map[string]string
	}{
		{
			name: "nothing inherited, no records",
			want: map[string]string{},
		},
		{
			name: "empty inherited value is not seeded",
			env:  map[string]string{envcontrib.ContainerIDsVar: ""},
			want: map[string]string{},
		},
		{
			name:    "inherited IDs come first",
			env:     map[string]string{envcontrib.ContainerIDsVar: "x"},
			records: []model.Record{model.ContainerInfoRecord{ID: "y"}},
			want:    map[string]string{envcontrib.ContainerIDsVar: "x,y"},
		},
		{
			name:    "unrelated variables are ignored",
			env:     map[string]string{"PATH": "/bin"},
			records: []model.Record{model.ExecInfoRecord{ContainerID: "c", ExecCommandID: "e"}},
			want:    map[string]string{"DOCKER_EXEC_ID_c": "e"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			}
			assert.Equal(t, tt.want, computeEnvironment(lookup, tt.records))
		})
	}
}

func TestRecordedContainerIDs(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == envcontrib.ContainerIDsVar {
			return "old,aaa111", true
		}
		return "", false
	}

	assert.Equal(t, []string{"old", "aaa111", "bbb222"}, recordedContainerIDs(lookup, sampleRecords()))
	assert.Empty(t, recordedContainerIDs(func(string) (string, bool) { return "", false }, nil))
}

func TestForEachContainer(t *testing.T) {
	notFound := model.NewCLIError(model.ExitContainerNotFound, "gone")
	fn := func(id string) error {
		switch id {
		case "gone":
			return notFound
		case "bad":
			return errors.New("boom")
		}
		return nil
	}

	done, err := forEachContainer([]string{"a", "gone", "b"}, false, fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, done)

	done, err = forEachContainer([]string{"a", "gone", "b"}, true, fn)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, done)

	done, err = forEachContainer([]string{"a", "bad", "b"}, false, fn)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, done)
}

func TestResolveDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// database for integration tests
		"image": "postgres:16",
		"ports": ["5432"],
		"env": {"POSTGRES_PASSWORD": "file"},
	}`), 0o600))

	lookup := func(key string) (string, bool) {
		if key == "FROM_HOST" {
			return "host-value", true
		}
		return "", false
	}

	def, err := resolveDefinition(&createFlags{
		file:   path,
		name:   "db",
		ports:  []string{"15432:5432"},
		env:    []string{"POSTGRES_PASSWORD=flag", "FROM_HOST", "MISSING"},
		labels: []string{"team=ci", "marker"},
	}, []string{"postgres", "-c", "fsync=off"}, lookup)
	require.NoError(t, err)

	assert.Equal(t, "postgres:16", def.Image)
	assert.Equal(t, "db", def.Name)
	assert.Equal(t, []string{"postgres", "-c", "fsync=off"}, def.Cmd)
	assert.Equal(t, "flag", def.Env["POSTGRES_PASSWORD"])
	assert.Equal(t, "host-value", def.Env["FROM_HOST"])
	assert.NotContains(t, def.Env, "MISSING")
	assert.Equal(t, map[string]string{"team": "ci", "marker": ""}, def.Labels)
}

func TestResolveDefinition_Errors(t *testing.T) {
	none := func(string) (string, bool) { return "", false }

	tests := []struct {
		name  string
		flags *createFlags
	}{
		{name: "no image", flags: &createFlags{}},
		{name: "missing file", flags: &createFlags{file: filepath.Join(t.TempDir(), "absent.jsonc")}},
		{name: "bad env", flags: &createFlags{image: "alpine", env: []string{"=x"}}},
		{name: "bad label", flags: &createFlags{image: "alpine", labels: []string{"=x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveDefinition(tt.flags, nil, none)
			require.Error(t, err)

			var cliErr *model.CLIError
			require.True(t, errors.As(err, &cliErr))
			assert.Equal(t, model.ExitInvalidDefinition, cliErr.Code)
		})
	}
}

func TestBuildExecSpec(t *testing.T) {
	spec, err := buildExecSpec(&execFlags{
		tty:     true,
		env:     []string{"B=2", "A=1"},
		workdir: "/src",
		user:    "ci",
	}, []string{"make", "test"}, func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	assert.Equal(t, []string{"make", "test"}, spec.Cmd)
	assert.Equal(t, []string{"A=1", "B=2"}, spec.Env)
	assert.Equal(t, "/src", spec.WorkingDir)
	assert.Equal(t, "ci", spec.User)
	assert.True(t, spec.Tty)
}

func TestFormatPortMap(t *testing.T) {
	tests := []struct {
		name     string
		bindings nat.PortMap
		want     string
	}{
		{name: "nil", bindings: nil, want: ""},
		{name: "unbound port skipped", bindings: nat.PortMap{"80/tcp": nil}, want: ""},
		{
			name: "sorted by container port",
			bindings: nat.PortMap{
				"80/tcp":   []nat.PortBinding{{HostPort: "8080"}},
				"5432/tcp": []nat.PortBinding{{HostPort: "15432"}},
				"53/udp":   []nat.PortBinding{{HostPort: ""}},
			},
			want: "5432/tcp->15432,80/tcp->8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatPortMap(tt.bindings))
		})
	}
}

func TestContainerDetails(t *testing.T) {
	assert.Equal(t, "-", containerDetails(model.ContainerInfoRecord{ID: "c"}))
	assert.Equal(t, "host=web", containerDetails(model.ContainerInfoRecord{ID: "c", HostName: "web"}))
}

func TestPrintError(t *testing.T) {
	jsonOutput = false
	var buf bytes.Buffer
	printError(&buf, "cannot stop", errors.New("timeout"))
	assert.Equal(t, "Error: cannot stop: timeout\n", buf.String())

	jsonOutput = true
	defer func() { jsonOutput = false }()
	buf.Reset()
	printError(&buf, "cannot stop", nil)

	var obj map[string]map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &obj))
	assert.Equal(t, "cannot stop", obj["error"]["message"])
}

func TestPrintContainerIDs(t *testing.T) {
	jsonOutput = false
	var buf bytes.Buffer
	require.NoError(t, printContainerIDs(&buf, "stopped", []string{"a", "b"}))
	assert.Equal(t, "a\nb\n", buf.String())

	jsonOutput = true
	defer func() { jsonOutput = false }()
	buf.Reset()
	require.NoError(t, printContainerIDs(&buf, "removed", nil))
	assert.JSONEq(t, `{"removed": []}`, buf.String())
}
