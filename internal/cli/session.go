package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/config"
	"github.com/shinji-kodama/docker-build-step/internal/docker"
	"github.com/shinji-kodama/docker-build-step/internal/envcontrib"
	"github.com/shinji-kodama/docker-build-step/internal/model"
	"github.com/shinji-kodama/docker-build-step/internal/record"
)

// session bundles what every subcommand needs: the resolved configuration
// and the build's record store.
type session struct {
	cfg   *config.Config
	store *record.FileStore
}

// loadSession resolves configuration (flags bound on top) and opens the
// record store of the configured build.
func loadSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "invalid configuration", err)
	}
	configureLogger(cfg.LogLevel)

	stateDir, err := cfg.StatePath()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRecordStore, "invalid state directory", err)
	}
	store, err := record.NewFileStore(stateDir, cfg.BuildID)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRecordStore, "cannot open record store", err)
	}

	logger.Debug("Session ready", "build", cfg.BuildID, "records", store.Path())
	return &session{cfg: cfg, store: store}, nil
}

// connect opens a Docker client and verifies the daemon answers.
// The caller must Close the client.
func (s *session) connect(ctx context.Context) (*docker.Client, error) {
	cli, err := docker.NewClient(docker.ClientOptions{
		Host:       s.cfg.DockerHost,
		APIVersion: s.cfg.APIVersion,
	})
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	logger.Debug("Connected to Docker daemon", "host", cli.Host())
	return cli, nil
}

// records loads the build's records, mapping failures to ExitRecordStore.
func (s *session) records() ([]model.Record, error) {
	records, err := s.store.Records()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRecordStore, "cannot read build records", err)
	}
	return records, nil
}

// attach appends a record to the build, mapping failures to ExitRecordStore.
func (s *session) attach(r model.Record) error {
	if err := s.store.Append(r); err != nil {
		return model.WrapCLIError(model.ExitRecordStore, "cannot record result for later steps", err)
	}
	logger.Debug("Recorded", "kind", r.Kind(), "store", s.store.Path())
	return nil
}

// recordedContainerIDs returns the container IDs known to the build: the
// ones in the inherited DOCKER_CONTAINER_IDS followed by the recorded ones,
// without duplicates. It is the same list the env command publishes.
func recordedContainerIDs(lookupEnv func(string) (string, bool), records []model.Record) []string {
	env := computeEnvironment(lookupEnv, records)
	return envcontrib.SplitContainerIDs(env[envcontrib.ContainerIDsVar])
}
