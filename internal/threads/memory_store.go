package threads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaplan/backend/internal/mediaplan"
)

// MemoryStore keeps threads in process. It stores clones, so callers never
// share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]mediaplan.ConversationState
	archived map[string]bool
	files    map[string][]File
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  map[string]mediaplan.ConversationState{},
		archived: map[string]bool{},
		files:    map[string][]File{},
	}
}

func (m *MemoryStore) Create(_ context.Context, state mediaplan.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[state.ThreadID]; ok {
		return ErrExists
	}
	m.threads[state.ThreadID] = state.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, threadID string) (mediaplan.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.threads[threadID]
	if !ok {
		return mediaplan.ConversationState{}, ErrNotFound
	}
	if m.archived[threadID] {
		return mediaplan.ConversationState{}, ErrArchived
	}
	return state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state mediaplan.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.archived[state.ThreadID] {
		return ErrArchived
	}
	m.threads[state.ThreadID] = state.Clone()
	return nil
}

func (m *MemoryStore) Archive(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok || m.archived[threadID] {
		return ErrNotFound
	}
	m.archived[threadID] = true
	return nil
}

func (m *MemoryStore) ListActive(_ context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	out := make([]Summary, 0, len(m.threads))
	for id, state := range m.threads {
		if m.archived[id] {
			continue
		}
		out = append(out, Summary{ID: id, Stage: state.Stage, UpdatedAt: state.UpdatedAt})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AddFile(_ context.Context, file File) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.ThreadID] = append(m.files[file.ThreadID], file)
	return nil
}

func (m *MemoryStore) ListFiles(_ context.Context, threadID string) ([]File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]File{}, m.files[threadID]...), nil
}
