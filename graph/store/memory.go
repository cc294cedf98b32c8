// Package store provides CheckpointStore implementations: an in-memory
// reference store plus SQLite- and MySQL-backed durable stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowforge/graphcore/graph"
)

// MemoryStore is the in-memory reference CheckpointStore implementation,
// It is safe for concurrent use: a single RWMutex guards
// the primary map and both indexes, so a checkpoint is always observed
// either present in all three or absent from all three.
type MemoryStore struct {
	mu           sync.RWMutex
	checkpoints  map[string]graph.Checkpoint
	byRun        map[string]map[string]struct{}
	byGraph      map[string]map[string]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]graph.Checkpoint),
		byRun:       make(map[string]map[string]struct{}),
		byGraph:     make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Save(ctx context.Context, cp graph.Checkpoint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.checkpoints[cp.ID]; ok {
		s.removeFromIndexesLocked(existing)
	}

	s.checkpoints[cp.ID] = cp
	s.indexLocked(cp)
	return cp.ID, nil
}

func (s *MemoryStore) indexLocked(cp graph.Checkpoint) {
	if s.byRun[cp.RunID] == nil {
		s.byRun[cp.RunID] = make(map[string]struct{})
	}
	s.byRun[cp.RunID][cp.ID] = struct{}{}

	if s.byGraph[cp.GraphID] == nil {
		s.byGraph[cp.GraphID] = make(map[string]struct{})
	}
	s.byGraph[cp.GraphID][cp.ID] = struct{}{}
}

func (s *MemoryStore) removeFromIndexesLocked(cp graph.Checkpoint) {
	if ids, ok := s.byRun[cp.RunID]; ok {
		delete(ids, cp.ID)
		if len(ids) == 0 {
			delete(s.byRun, cp.RunID)
		}
	}
	if ids, ok := s.byGraph[cp.GraphID]; ok {
		delete(ids, cp.ID)
		if len(ids) == 0 {
			delete(s.byGraph, cp.GraphID)
		}
	}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return graph.Checkpoint{}, &graph.CheckpointError{Message: "not found", CheckpointID: id, Cause: graph.ErrCheckpointNotFound}
	}
	return cp, nil
}

func (s *MemoryStore) ListByRun(ctx context.Context, runID string) ([]graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(s.byRun[runID]), nil
}

func (s *MemoryStore) ListByGraph(ctx context.Context, graphID string) ([]graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(s.byGraph[graphID]), nil
}

func (s *MemoryStore) listLocked(ids map[string]struct{}) []graph.Checkpoint {
	out := make([]graph.Checkpoint, 0, len(ids))
	for id := range ids {
		out = append(out, s.checkpoints[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return nil
	}
	delete(s.checkpoints, id)
	s.removeFromIndexesLocked(cp)
	return nil
}

func (s *MemoryStore) DeleteByRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byRun[runID]
	for id := range ids {
		if cp, ok := s.checkpoints[id]; ok {
			delete(s.checkpoints, id)
			if graphIDs, ok := s.byGraph[cp.GraphID]; ok {
				delete(graphIDs, id)
				if len(graphIDs) == 0 {
					delete(s.byGraph, cp.GraphID)
				}
			}
		}
	}
	delete(s.byRun, runID)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, cp := range s.checkpoints {
		if cp.IsExpired(now) {
			delete(s.checkpoints, id)
			s.removeFromIndexesLocked(cp)
			count++
		}
	}
	return count, nil
}

// Size returns the number of checkpoints currently stored, for tests.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}

// Clear removes all checkpoints and indexes, for tests.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = make(map[string]graph.Checkpoint)
	s.byRun = make(map[string]map[string]struct{})
	s.byGraph = make(map[string]map[string]struct{})
}

var _ graph.CheckpointStore = (*MemoryStore)(nil)
