// Package cli: env.go implements the "docker-build-step env" command.
//
// The env command is how later build steps consume what earlier steps
// did: it runs the environment contributor over the build's records,
// starting from the DOCKER_CONTAINER_IDS value inherited from the process
// environment, and prints (or writes) the resulting variables.
package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/moby/sys/atomicwriter"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/envcontrib"
	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// envFlags holds the flag values for the env command.
type envFlags struct {
	format string
	output string
}

// NewEnvCommand creates the "env" cobra command.
func NewEnvCommand() *cobra.Command {
	flags := &envFlags{}

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the environment variables contributed by the build's records",
		Long: `Print the environment variables derived from the build's records.

  DOCKER_CONTAINER_IDS                     comma-separated IDs of started containers
  DOCKER_HOST_BIND_PORT_<PROTO>_<PORT>     host port bound to a container port
  DOCKER_EXEC_ID_<container>               last exec instance created in a container

Examples:
  docker-build-step env > build.env
  eval "$(docker-build-step env --format shell)"
  docker-build-step env --format json --output env.json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnv(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.format, "format", string(envcontrib.FormatDotenv), "Output format: dotenv, shell, json")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write to this file instead of stdout")

	return cmd
}

// runEnv is the main logic function for the env command.
func runEnv(cmd *cobra.Command, flags *envFlags) error {
	format, err := envcontrib.ParseFormat(flags.format)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid --format value", err)
	}
	if IsJSONOutput() {
		format = envcontrib.FormatJSON
	}

	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	records, err := sess.records()
	if err != nil {
		return err
	}

	env := computeEnvironment(os.LookupEnv, records)
	logger.Debug("Contributed environment", "records", len(records), "variables", len(env))

	if format == envcontrib.FormatShell {
		for _, key := range envcontrib.InvalidShellNames(env) {
			logger.Warn("Skipping variable that is not a valid shell name", "variable", key)
		}
	}

	var buf bytes.Buffer
	if err := envcontrib.Render(&buf, env, format); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "cannot render environment", err)
	}

	if flags.output == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}

	if err := atomicwriter.WriteFile(flags.output, buf.Bytes(), 0o644); err != nil {
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("cannot write %s", flags.output), err)
	}
	logger.Info("Wrote environment", "file", flags.output, "variables", len(env))
	return nil
}

// computeEnvironment seeds the map with the inherited DOCKER_CONTAINER_IDS
// (when set and non-empty) and lets the contributor add the variables for records.
func computeEnvironment(lookupEnv func(string) (string, bool), records []model.Record) map[string]string {
	env := map[string]string{}
	if v, ok := lookupEnv(envcontrib.ContainerIDsVar); ok && v != "" {
		env[envcontrib.ContainerIDsVar] = v
	}
	envcontrib.New().Contribute(env, records)
	return env
}
