package sqlagent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/audit"
	"github.com/igorsilveira/sqlagent/pkg/config"
)

func TestOpenBackendSQLite(t *testing.T) {
	t.Setenv("SQLAGENT_DATA_DIR", t.TempDir())
	ctx := context.Background()

	be, err := openBackend(ctx, config.StoreConfig{
		Driver: config.StoreSQLite,
		DSN:    filepath.Join(t.TempDir(), "tasks.db"),
	})
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer be.Close()

	if be.sql == nil || be.audit == nil {
		t.Fatal("sqlite backend should carry the task store and audit log")
	}
	if err := be.ready["sqlite"](ctx); err != nil {
		t.Errorf("ready check: %v", err)
	}

	task := &a2a.Task{ID: "t1", SessionID: "s1", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}}
	if err := be.tasks.Save(ctx, task); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := be.audit.Log(ctx, audit.EventA2ATaskDone, "s1", a2a.SkillSQLAgent, "a2a", "task_id=t1"); err != nil {
		t.Fatalf("audit Log: %v", err)
	}
	entries, err := be.audit.Query(ctx, audit.Filter{SessionID: "s1"})
	if err != nil || len(entries) != 1 {
		t.Errorf("audit entries = %d, err = %v", len(entries), err)
	}
}

func TestOpenBackendMemory(t *testing.T) {
	be, err := openBackend(context.Background(), config.StoreConfig{Driver: config.StoreMemory})
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if be.audit != nil || be.sql != nil {
		t.Error("memory backend has no sqlite parts")
	}
	if err := be.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	if _, err := openBackend(context.Background(), config.StoreConfig{Driver: "postgres"}); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT *\n  FROM t", "SELECT * FROM t"},
		{"abcdefghijkl", "abcdefg..."},
	}
	for _, tt := range tests {
		if got := summarize(tt.in, 10); got != tt.want {
			t.Errorf("summarize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
