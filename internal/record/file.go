package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/docker/go-connections/nat"
	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// fileHeader is prepended to every store file so that someone finding it
// in a workspace knows where it came from.
const fileHeader = "# Records attached by docker-build-step. Do not edit while the build is running.\n"

// buildIDRegex restricts build IDs to characters that are safe in a file
// name. CI systems produce tags like "jenkins-my-job-42" or "main.17".
var buildIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateBuildID checks that id can be used to name a store file.
func ValidateBuildID(id string) error {
	if id == "" {
		return fmt.Errorf("build id must not be empty")
	}
	if !buildIDRegex.MatchString(id) {
		return fmt.Errorf("invalid build id %q: must contain only letters, digits, '.', '_' and '-'", id)
	}
	return nil
}

// document is the YAML layout of a store file.
type document struct {
	Build   string  `yaml:"build"`
	Records []entry `yaml:"records"`
}

// entry is the tagged encoding of one model.Record. Exactly one of
// Container and Exec is set, matching Kind.
type entry struct {
	Kind      model.RecordKind      `yaml:"kind"`
	Container *containerEntry       `yaml:"container,omitempty"`
	Exec      *model.ExecInfoRecord `yaml:"exec,omitempty"`
}

// containerEntry stores a ContainerInfoRecord. PortBindings is a pointer so
// that an absent map (key omitted) and an empty one ("{}") survive the
// round trip as nil and empty respectively.
type containerEntry struct {
	ID           string       `yaml:"id"`
	HostName     string       `yaml:"hostName,omitempty"`
	IPAddress    string       `yaml:"ipAddress,omitempty"`
	PortBindings *nat.PortMap `yaml:"portBindings,omitempty"`
}

// FileStore persists a build's records in a YAML file under a state
// directory. Every Append rewrites the whole file atomically, so a reader
// never sees a half-written record.
//
// Build steps running in parallel are separate processes sharing the file,
// so every read-modify-write holds an exclusive flock on a sidecar
// "<file>.lock". The mutex only orders goroutines of one process.
type FileStore struct {
	mu      sync.Mutex
	path    string
	buildID string
}

// NewFileStore returns the store for buildID inside stateDir. The file is
// created lazily on the first Append.
func NewFileStore(stateDir, buildID string) (*FileStore, error) {
	if err := ValidateBuildID(buildID); err != nil {
		return nil, err
	}
	return &FileStore{
		path:    filepath.Join(stateDir, buildID+".yaml"),
		buildID: buildID,
	}, nil
}

// Path returns the location of the store file.
func (s *FileStore) Path() string {
	return s.path
}

// Append adds r to the end of the store file.
func (s *FileStore) Append(r model.Record) error {
	if err := model.ValidateRecord(r); err != nil {
		return fmt.Errorf("refusing to append record: %w", err)
	}

	e, err := encodeRecord(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile(true)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Records = append(doc.Records, e)

	return s.save(doc)
}

// Records returns the stored records in attachment order. A store whose
// file does not exist yet is empty.
func (s *FileStore) Records() ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile(false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	records := make([]model.Record, 0, len(doc.Records))
	for i, e := range doc.Records {
		r, err := decodeRecord(e)
		if err != nil {
			return nil, fmt.Errorf("record store %s: entry %d: %w", s.path, i, err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Clear deletes the store file. A missing file is not an error. The lock
// file is left in place for processes that may be waiting on it.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile(true)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove record store %s: %w", s.path, err)
	}
	return nil
}

// lockFile takes the cross-process lock, exclusive for writers and shared
// for readers, and returns the function releasing it. A reader of a state
// directory that does not exist yet has nothing to lock.
func (s *FileStore) lockFile(exclusive bool) (func(), error) {
	dir := filepath.Dir(s.path)
	if !exclusive {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			return func() {}, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	fl := flock.New(s.path + ".lock")
	lock := fl.RLock
	if exclusive {
		lock = fl.Lock
	}
	if err := lock(); err != nil {
		return nil, fmt.Errorf("failed to lock record store %s: %w", s.path, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (s *FileStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &document{Build: s.buildID}, nil
		}
		return nil, fmt.Errorf("failed to read record store %s: %w", s.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse record store %s: %w", s.path, err)
	}
	if doc.Build != "" && doc.Build != s.buildID {
		return nil, fmt.Errorf("record store %s belongs to build %q, not %q", s.path, doc.Build, s.buildID)
	}
	doc.Build = s.buildID
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode record store: %w", err)
	}

	if err := atomicwriter.WriteFile(s.path, append([]byte(fileHeader), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write record store %s: %w", s.path, err)
	}
	return nil
}

func encodeRecord(r model.Record) (entry, error) {
	switch rec := r.(type) {
	case model.ContainerInfoRecord:
		c := &containerEntry{ID: rec.ID, HostName: rec.HostName, IPAddress: rec.IPAddress}
		if rec.PortBindings != nil {
			bindings := rec.PortBindings
			c.PortBindings = &bindings
		}
		return entry{Kind: model.KindContainer, Container: c}, nil
	case model.ExecInfoRecord:
		return entry{Kind: model.KindExec, Exec: &rec}, nil
	default:
		return entry{}, fmt.Errorf("unsupported record type %T", r)
	}
}

func decodeRecord(e entry) (model.Record, error) {
	kind, err := model.ParseRecordKind(string(e.Kind))
	if err != nil {
		return nil, err
	}

	var r model.Record
	switch kind {
	case model.KindContainer:
		if e.Container == nil {
			return nil, fmt.Errorf("container entry has no container data")
		}
		rec := model.ContainerInfoRecord{
			ID:        e.Container.ID,
			HostName:  e.Container.HostName,
			IPAddress: e.Container.IPAddress,
		}
		if e.Container.PortBindings != nil {
			rec.PortBindings = *e.Container.PortBindings
			if rec.PortBindings == nil {
				rec.PortBindings = nat.PortMap{}
			}
		}
		r = rec
	case model.KindExec:
		if e.Exec == nil {
			return nil, fmt.Errorf("exec entry has no exec data")
		}
		r = *e.Exec
	}

	if err := model.ValidateRecord(r); err != nil {
		return nil, err
	}
	return r, nil
}
