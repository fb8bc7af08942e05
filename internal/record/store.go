// Package record implements the build's record store: an append-only,
// ordered list of records attached by build steps.
//
// Each step of a build runs as its own process, so the store that steps
// share is a YAML file (FileStore) named after the build. MemoryStore has
// the same semantics without persistence and backs tests and in-process
// callers.
package record

import (
	"fmt"
	"sync"

	"github.com/shinji-kodama/docker-build-step/internal/model"
)

// Store is an append-only, ordered collection of records scoped to a
// single build. Records returns them in the order they were appended.
type Store interface {
	Append(r model.Record) error
	Records() ([]model.Record, error)
}

// MemoryStore keeps records in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records []model.Record
}

// NewMemoryStore returns a MemoryStore seeded with records.
func NewMemoryStore(records ...model.Record) *MemoryStore {
	return &MemoryStore{records: append([]model.Record(nil), records...)}
}

// Append validates r and adds it to the end of the store.
func (s *MemoryStore) Append(r model.Record) error {
	if err := model.ValidateRecord(r); err != nil {
		return fmt.Errorf("refusing to append record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// Records returns a snapshot of the stored records.
func (s *MemoryStore) Records() ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Record(nil), s.records...), nil
}

// ContainerIDs returns the IDs of container records in attachment order,
// duplicates included.
func ContainerIDs(records []model.Record) []string {
	var ids []string
	for _, r := range records {
		if c, ok := r.(model.ContainerInfoRecord); ok {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
