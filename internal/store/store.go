// Package store holds the RecordStore: the process-wide, mutex-guarded map
// of per-record task results that every concurrently running task reads and
// writes. It is a direct translation of the source implementation's
// TaskChainDistributor class attributes (results, output_data_to_pickle),
// which used a module-level threading.Lock to guard the same two maps; here
// both maps live behind a single sync.RWMutex on an explicit type instead of
// class-level state.
package store

import (
	"sync"

	"pipeflow/internal/pipeline"
)

// RecordStore holds every task result produced so far, keyed by record ID
// and task name, plus the finalized ("pickled") output labels destined for
// the results directory and the run catalog.
type RecordStore struct {
	mu        sync.RWMutex
	results   map[string]map[string]pipeline.TaskResult
	finalized map[string]map[string]pipeline.OutputValue
}

// New builds an empty RecordStore.
func New() *RecordStore {
	return &RecordStore{
		results:   make(map[string]map[string]pipeline.TaskResult),
		finalized: make(map[string]map[string]pipeline.OutputValue),
	}
}

// EnsureRecord initializes empty result and finalized-output maps for a
// record ID, if it doesn't already have one.
func (s *RecordStore) EnsureRecord(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[recordID]; !ok {
		s.results[recordID] = make(map[string]pipeline.TaskResult)
	}
	if _, ok := s.finalized[recordID]; !ok {
		s.finalized[recordID] = make(map[string]pipeline.OutputValue)
	}
}

// Put records a task's result for a record.
func (s *RecordStore) Put(result pipeline.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.RecordID]; !ok {
		s.results[result.RecordID] = make(map[string]pipeline.TaskResult)
	}
	s.results[result.RecordID][result.TaskName] = result
}

// Get fetches one task's result for a record.
func (s *RecordStore) Get(recordID, taskName string) (pipeline.TaskResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.results[recordID]
	if !ok {
		return pipeline.TaskResult{}, false
	}
	r, ok := rec[taskName]
	return r, ok
}

// PutFinal records a finalized output label's value for a record.
func (s *RecordStore) PutFinal(recordID, label string, v pipeline.OutputValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.finalized[recordID]; !ok {
		s.finalized[recordID] = make(map[string]pipeline.OutputValue)
	}
	s.finalized[recordID][label] = v
}

// Finalized returns a copy of a record's finalized outputs.
func (s *RecordStore) Finalized(recordID string) map[string]pipeline.OutputValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]pipeline.OutputValue, len(s.finalized[recordID]))
	for k, v := range s.finalized[recordID] {
		out[k] = v
	}
	return out
}

// Snapshot returns a deep copy of every record's results, suitable as the
// AllResults view handed to an Aggregate task's RunContext: the task must
// not be able to mutate live state it observes mid-run.
func (s *RecordStore) Snapshot() map[string]map[string]pipeline.TaskResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]pipeline.TaskResult, len(s.results))
	for recordID, tasks := range s.results {
		copied := make(map[string]pipeline.TaskResult, len(tasks))
		for name, res := range tasks {
			copied[name] = res
		}
		out[recordID] = copied
	}
	return out
}

// RecordIDs returns the currently tracked record IDs, in no particular
// order.
func (s *RecordStore) RecordIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	return ids
}

// Remap replaces the entire result set, used by an Aggregate task's
// deaggregate hook in "remap mode": records absent from newResults are
// dropped entirely, along with their finalized outputs, matching the source
// implementation's _finalize_output behavior of deleting any results key
// not present in the aggregate's returned keys.
func (s *RecordStore) Remap(newResults map[string]map[string]pipeline.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = newResults
	kept := make(map[string]map[string]pipeline.OutputValue, len(newResults))
	for id := range newResults {
		if existing, ok := s.finalized[id]; ok {
			kept[id] = existing
		} else {
			kept[id] = make(map[string]pipeline.OutputValue)
		}
	}
	s.finalized = kept
}

