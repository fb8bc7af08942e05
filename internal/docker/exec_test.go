package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

func TestBuildExecOptions(t *testing.T) {
	opts := buildExecOptions(ExecSpec{
		Cmd:        []string{"make", "test"},
		Env:        []string{"CI=true"},
		WorkingDir: "/src",
		User:       "build",
		Tty:        true,
	})

	assert.Equal(t, []string{"make", "test"}, opts.Cmd)
	assert.Equal(t, []string{"CI=true"}, opts.Env)
	assert.Equal(t, "/src", opts.WorkingDir)
	assert.Equal(t, "build", opts.User)
	assert.True(t, opts.Tty)
	assert.True(t, opts.AttachStdout)
	assert.True(t, opts.AttachStderr)
	assert.False(t, opts.AttachStdin)
}

// TestCreateExec_EmptyCommand fails before any daemon call, so a nil
// client is never dereferenced.
func TestCreateExec_EmptyCommand(t *testing.T) {
	_, err := CreateExec(context.Background(), nil, "c1", ExecSpec{})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitGeneralError, cliErr.Code)
}

func TestWriterOrDiscard(t *testing.T) {
	assert.Equal(t, io.Discard, writerOrDiscard(nil))

	var buf bytes.Buffer
	assert.Equal(t, &buf, writerOrDiscard(&buf))
}
