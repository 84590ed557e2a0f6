package a2a

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryTaskStore_SaveAndGet(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	task := &Task{ID: "t1", SessionID: "s1", Status: TaskStatus{State: TaskStateSubmitted}}
	if err := s.Save(ctx, task); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("ID = %q, want %q", got.ID, "t1")
	}
	if got.Status.State != TaskStateSubmitted {
		t.Errorf("State = %q, want %q", got.Status.State, TaskStateSubmitted)
	}
}

func TestMemoryTaskStore_GetNotFound(t *testing.T) {
	s := NewMemoryTaskStore()
	_, err := s.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestMemoryTaskStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	task := &Task{ID: "t1", History: []Message{TextMessage(RoleUser, "hi")}}
	_ = s.Save(ctx, task)

	task.History = append(task.History, TextMessage(RoleAgent, "mutated"))
	got, _ := s.Get(ctx, "t1")
	if len(got.History) != 1 {
		t.Errorf("History len = %d, want 1", len(got.History))
	}

	got.Status.State = TaskStateFailed
	again, _ := s.Get(ctx, "t1")
	if again.Status.State == TaskStateFailed {
		t.Error("mutating a returned task changed the stored task")
	}
}

func TestMemoryTaskStore_SaveOverwrites(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	_ = s.Save(ctx, &Task{ID: "t1", Status: TaskStatus{State: TaskStateSubmitted}})
	_ = s.Save(ctx, &Task{ID: "t1", Status: TaskStatus{State: TaskStateCompleted}})

	got, _ := s.Get(ctx, "t1")
	if got.Status.State != TaskStateCompleted {
		t.Errorf("State = %q, want %q", got.Status.State, TaskStateCompleted)
	}
}

func TestMemoryTaskStore_ListFilterAndOrder(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sess := "a"
		if i%2 == 1 {
			sess = "b"
		}
		_ = s.Save(ctx, &Task{
			ID:        fmt.Sprintf("t%d", i),
			SessionID: sess,
			Status:    TaskStatus{State: TaskStateCompleted, Timestamp: base.Add(time.Duration(i) * time.Minute)},
		})
	}

	all, err := s.List(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	if all[0].ID != "t4" {
		t.Errorf("first = %q, want newest t4", all[0].ID)
	}

	onlyA, _ := s.List(ctx, TaskFilter{SessionID: "a"})
	if len(onlyA) != 3 {
		t.Errorf("session a len = %d, want 3", len(onlyA))
	}

	limited, _ := s.List(ctx, TaskFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}
}

func TestMemoryTaskStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", n)
			_ = s.Save(ctx, &Task{ID: id, Status: TaskStatus{State: TaskStateSubmitted}})
			_, _ = s.Get(ctx, id)
			_, _ = s.List(ctx, TaskFilter{})
		}(i)
	}
	wg.Wait()

	tasks, _ := s.List(ctx, TaskFilter{})
	if len(tasks) != 50 {
		t.Errorf("List len = %d, want 50", len(tasks))
	}
}
