package journal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "tokenflow/internal/errors"
)

// Store persists run records.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Transition(ctx context.Context, id string, step Step) error
	Finish(ctx context.Context, id string, done Completion) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func validateRun(run *Run) error {
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run must not be nil")
	}
	if strings.TrimSpace(run.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run ID must not be empty")
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if !IsValidStatus(run.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown run status "+string(run.Status))
	}
	return nil
}

// MemoryStore keeps runs in memory. It backs the default configuration and
// the tests.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrRunConflict
	}
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// Transition appends step and moves the run to step.To.
func (m *MemoryStore) Transition(_ context.Context, id string, step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if step.At == 0 {
		step.At = time.Now().Unix()
	}
	step.Attributes = cloneAttributes(step.Attributes)
	run.Steps = append(run.Steps, step)
	run.State = step.To
	run.Attributes = mergeAttributes(run.Attributes, step.Attributes)
	run.UpdatedAt = time.Now().Unix()
	return nil
}

// Finish records the outcome of the run.
func (m *MemoryStore) Finish(_ context.Context, id string, done Completion) error {
	if !IsValidStatus(done.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown run status "+string(done.Status))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = done.Status
	if done.State != "" {
		run.State = done.State
	}
	run.ErrorCode = string(done.ErrorCode)
	run.LastError = done.LastError
	run.Attributes = mergeAttributes(run.Attributes, done.Attributes)
	run.UpdatedAt = time.Now().Unix()
	return nil
}

// Get returns a copy of the run.
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// List returns the most recently updated runs first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = normalizeLimit(limit)
	results := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		results = append(results, cloneRun(run))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID > results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
