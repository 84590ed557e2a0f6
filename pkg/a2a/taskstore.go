package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// TaskStore persists tasks between requests. Implementations return
// ErrTaskNotFound (possibly wrapped) for unknown ids.
type TaskStore interface {
	Save(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)
}

type TaskFilter struct {
	SessionID string
	Limit     int
}

type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*Task)}
}

func (s *MemoryTaskStore) Save(_ context.Context, task *Task) error {
	cp, err := cloneTask(task)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cp
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	t, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	return cloneTask(t)
}

func (s *MemoryTaskStore) List(_ context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	result := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.SessionID != "" && t.SessionID != filter.SessionID {
			continue
		}
		cp, err := cloneTask(t)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		result = append(result, cp)
	}
	s.mu.RUnlock()

	SortTasks(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// SortTasks orders tasks newest first by status timestamp.
func SortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Status.Timestamp.After(tasks[j].Status.Timestamp)
	})
}

func cloneTask(t *Task) (*Task, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("copying task: %w", err)
	}
	var cp Task
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("copying task: %w", err)
	}
	return &cp, nil
}
