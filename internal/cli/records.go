package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-build-step/internal/model"
	"github.com/shinji-kodama/docker-build-step/internal/record"
)

// NewRecordsCommand creates the "records" cobra command.
func NewRecordsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List the build's records",
		Long: `List the container and exec records attached to the build, in the
order they were attached.

Examples:
  docker-build-step records
  docker-build-step records --build nightly-42 --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd)
			if err != nil {
				return err
			}
			records, err := sess.records()
			if err != nil {
				return err
			}
			logger.Debug("Loaded records", "build", sess.cfg.BuildID,
				"containers", len(record.ContainerIDs(records)), "total", len(records))

			if IsJSONOutput() {
				return printRecordsJSON(cmd.OutOrStdout(), records)
			}
			printRecordsTable(cmd.OutOrStdout(), records)
			return nil
		},
	}

	return cmd
}

// recordJSON is the JSON shape of one record: its kind plus the record's
// own fields.
type recordJSON struct {
	Kind      model.RecordKind           `json:"kind"`
	Container *model.ContainerInfoRecord `json:"container,omitempty"`
	Exec      *model.ExecInfoRecord      `json:"exec,omitempty"`
}

// printRecordsJSON outputs the records as a JSON array.
func printRecordsJSON(w io.Writer, records []model.Record) error {
	out := make([]recordJSON, 0, len(records))
	for _, r := range records {
		item := recordJSON{Kind: r.Kind()}
		switch rec := r.(type) {
		case model.ContainerInfoRecord:
			item.Container = &rec
		case model.ExecInfoRecord:
			item.Exec = &rec
		}
		out = append(out, item)
	}
	return printJSON(w, out)
}

// printRecordsTable outputs the records as a human-readable table.
func printRecordsTable(w io.Writer, records []model.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records for this build.")
		return
	}

	fmt.Fprintf(w, "%-4s %-10s %-14s %s\n", "#", "KIND", "CONTAINER", "DETAILS")
	for i, r := range records {
		switch rec := r.(type) {
		case model.ContainerInfoRecord:
			fmt.Fprintf(w, "%-4d %-10s %-14s %s\n",
				i+1, rec.Kind(), model.ShortID(rec.ID), containerDetails(rec))
		case model.ExecInfoRecord:
			fmt.Fprintf(w, "%-4d %-10s %-14s exec=%s\n",
				i+1, rec.Kind(), model.ShortID(rec.ContainerID), model.ShortID(rec.ExecCommandID))
		}
	}
}

// containerDetails summarises a container record's host name, IP and
// published ports.
func containerDetails(rec model.ContainerInfoRecord) string {
	var parts []string
	if rec.HostName != "" {
		parts = append(parts, "host="+rec.HostName)
	}
	if rec.IPAddress != "" {
		parts = append(parts, "ip="+rec.IPAddress)
	}
	if ports := formatPortMap(rec.PortBindings); ports != "" {
		parts = append(parts, "ports="+ports)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// formatPortMap renders bindings as "5432/tcp->15432,80/tcp->8080", sorted
// by container port. Unbound ports are omitted.
func formatPortMap(bindings nat.PortMap) string {
	keys := make([]string, 0, len(bindings))
	for port, list := range bindings {
		if len(list) == 0 || list[0].HostPort == "" {
			continue
		}
		keys = append(keys, string(port))
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, k+"->"+bindings[nat.Port(k)][0].HostPort)
	}
	return strings.Join(entries, ",")
}
