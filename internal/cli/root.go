// Package cli implements the cobra-based CLI commands for docker-build-step.
//
// Each subcommand (create, start, exec, exec-start, stop, rm, env, records)
// is defined in its own file within this package. This file defines the
// root command that serves as the parent for all subcommands and handles
// global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose forces debug logging regardless of the configured level.
	verbose bool

	// configFile is an explicit configuration file path.
	configFile string
)

// logger writes diagnostics to stderr so that stdout stays reserved for
// command results (IDs, env assignments) that build scripts capture.
var logger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix: "docker-build-step",
})

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docker-build-step",
		Short: "Drive Docker containers from build steps",
		Long: `docker-build-step lets the steps of a CI build create, start, exec into,
stop and remove Docker containers.

Every started container and every created exec instance is recorded for
the build. The "env" command turns those records into environment
variables (DOCKER_CONTAINER_IDS, DOCKER_HOST_BIND_PORT_<PROTO>_<PORT>,
DOCKER_EXEC_ID_<container>) for later steps.`,

		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVar(&configFile, "config", "", "Path to a configuration file (default: ./docker-build-step.yaml)")
	pf.String("build", "", "Build ID that scopes recorded containers (default: $BUILD_TAG or \"local\")")
	pf.String("state-dir", "", "Directory holding the build's record file")
	pf.String("docker-host", "", "Docker daemon address (default: $DOCKER_HOST or auto-detect)")
	pf.String("api-version", "", "Pin the Docker API version instead of negotiating")
	pf.String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(NewCreateCommand())
	rootCmd.AddCommand(NewStartCommand())
	rootCmd.AddCommand(NewExecCommand())
	rootCmd.AddCommand(NewExecStartCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewRemoveCommand())
	rootCmd.AddCommand(NewEnvCommand())
	rootCmd.AddCommand(NewRecordsCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// CLIError types carry their own exit codes; other errors exit with 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(os.Stderr, err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// configureLogger applies the configured level; --verbose wins.
func configureLogger(level string) {
	if verbose {
		logger.SetLevel(log.DebugLevel)
		return
	}
	parsed, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = log.InfoLevel
	}
	logger.SetLevel(parsed)
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
