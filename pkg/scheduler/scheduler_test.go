package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"@hourly", time.Hour, false},
		{"@daily", 24 * time.Hour, false},
		{"@weekly", 7 * 24 * time.Hour, false},
		{"@every 5m", 5 * time.Minute, false},
		{"@every 1h30m", 90 * time.Minute, false},
		{"30s", 30 * time.Second, false},
		{"invalid", 0, true},
		{"@every -1m", 0, true},
		{"0s", 0, true},
	}

	for _, tt := range tests {
		d, err := ParseSchedule(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if d != tt.expected {
			t.Errorf("ParseSchedule(%q) = %v, want %v", tt.input, d, tt.expected)
		}
	}
}

func TestAddInvalidSchedule(t *testing.T) {
	s := New()
	err := s.Add(Job{
		Name:     "bad",
		Schedule: "not-a-schedule",
		Func:     func(ctx context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunFiresJobs(t *testing.T) {
	s := New()
	s.tick = 10 * time.Millisecond

	var count atomic.Int32
	if err := s.Add(Job{
		Name:     "counter",
		Schedule: "@every 20ms",
		Func: func(ctx context.Context) error {
			count.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if count.Load() < 2 {
		t.Errorf("job ran %d times, want at least 2", count.Load())
	}
}

func TestRunDoesNotOverlap(t *testing.T) {
	s := New()
	s.tick = 5 * time.Millisecond

	var active, maxActive atomic.Int32
	if err := s.Add(Job{
		Name:     "slow",
		Schedule: "@every 5ms",
		Func: func(ctx context.Context) error {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(30 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxActive.Load())
	}
	if active.Load() != 0 {
		t.Error("Run returned while a job was still running")
	}
}

type fakePruner struct {
	before time.Time
	n      int64
	err    error
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, f.err
}

func TestPruneJob(t *testing.T) {
	p := &fakePruner{n: 3}
	job := PruneJob(p, "@hourly", 24*time.Hour)

	if job.Name != "prune_tasks" || job.Schedule != "@hourly" {
		t.Errorf("job = %+v", job)
	}
	if err := job.Func(context.Background()); err != nil {
		t.Fatalf("Func: %v", err)
	}
	age := time.Since(p.before)
	if age < 24*time.Hour || age > 24*time.Hour+time.Minute {
		t.Errorf("cutoff age = %v, want about 24h", age)
	}

	p.err = errors.New("disk full")
	if err := job.Func(context.Background()); !errors.Is(err, p.err) {
		t.Errorf("err = %v, want wrapped %v", err, p.err)
	}
}
