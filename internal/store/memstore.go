package store

import (
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests and ledger-less runs. Safe
// for concurrent use. Returned records are copies.
type MemStore struct {
	mu        sync.Mutex
	runs      []Run
	steps     map[int64][]Step
	artifacts map[int64][]Artifact
	nextStep  int64
	nextArt   int64
}

// NewMemStore returns an empty in-memory ledger.
func NewMemStore() *MemStore {
	return &MemStore{
		steps:     make(map[int64][]Step),
		artifacts: make(map[int64][]Artifact),
	}
}

func (m *MemStore) CreateRun(name, event, workdir string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.runs) + 1)
	m.runs = append(m.runs, Run{
		ID: id, Name: name, Event: event, WorkDir: workdir,
		Status: RunRunning, StartedAt: nowUTC(),
	})
	return id, nil
}

func (m *MemStore) FinishRun(runID int64, status string, exitCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := int(runID) - 1
	if i < 0 || i >= len(m.runs) {
		return fmt.Errorf("finish run: run %d not found", runID)
	}
	m.runs[i].Status = status
	m.runs[i].ExitCode = exitCode
	m.runs[i].FinishedAt = nowUTC()
	return nil
}

func (m *MemStore) RecordStep(runID int64, step Step) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.steps[runID] {
		if st.Seq == step.Seq {
			return 0, fmt.Errorf("insert step: duplicate seq %d for run %d", step.Seq, runID)
		}
	}
	m.nextStep++
	step.ID = m.nextStep
	step.RunID = runID
	m.steps[runID] = append(m.steps[runID], step)
	return step.ID, nil
}

func (m *MemStore) RecordArtifact(runID int64, a Artifact) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextArt++
	a.ID = m.nextArt
	a.RunID = runID
	m.artifacts[runID] = append(m.artifacts[runID], a)
	return a.ID, nil
}

func (m *MemStore) GetRun(runID int64) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := int(runID) - 1
	if i < 0 || i >= len(m.runs) {
		return nil, nil
	}
	r := m.runs[i]
	return &r, nil
}

func (m *MemStore) LastRun() (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, nil
	}
	r := m.runs[len(m.runs)-1]
	return &r, nil
}

func (m *MemStore) ListRuns(limit int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(list) == limit {
			break
		}
		r := m.runs[i]
		list = append(list, &r)
	}
	return list, nil
}

func (m *MemStore) StepsForRun(runID int64) ([]*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*Step
	for _, st := range m.steps[runID] {
		list = append(list, &st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

func (m *MemStore) ArtifactsForRun(runID int64) ([]*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*Artifact
	for _, a := range m.artifacts[runID] {
		list = append(list, &a)
	}
	return list, nil
}

// Close is a no-op for the in-memory ledger.
func (m *MemStore) Close() error { return nil }
