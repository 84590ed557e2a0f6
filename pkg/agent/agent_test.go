package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunTurn_RunsStepsInOrder(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"<query_plan>count customers</query_plan>",
		"SELECT COUNT(*) FROM customers",
		"```sql\nSELECT COUNT(id) FROM customers\n```",
	}}
	rt := NewRuntime(RuntimeConfig{Provider: p, Schema: StaticSchema("CREATE TABLE customers (id INT);")})

	events, err := rt.RunTurn(context.Background(), "sess-1", "how many customers?")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	got := collect(events)

	if len(got) != 4 {
		t.Fatalf("events = %d, want 4", len(got))
	}
	wantSteps := []string{"sql_schema_analyzer", "sql_writer", "sql_refactor"}
	for i, name := range wantSteps {
		if got[i].Type != TurnStepDone || got[i].Step != name {
			t.Errorf("event %d = %+v, want step %s", i, got[i], name)
		}
	}
	done := got[3]
	if done.Type != TurnDone {
		t.Fatalf("last event type = %v, want TurnDone", done.Type)
	}
	if done.Message != "SELECT COUNT(id) FROM customers" {
		t.Errorf("Message = %q", done.Message)
	}
	if done.Usage == nil || done.Usage.InputTokens != 30 {
		t.Errorf("Usage = %+v, want 30 input tokens", done.Usage)
	}

	reqs := p.seen()
	if !strings.Contains(reqs[0].System, "CREATE TABLE customers") {
		t.Error("first step prompt should include the schema")
	}
	if strings.Contains(reqs[1].System, "CREATE TABLE customers") {
		t.Error("second step prompt should not include the schema")
	}
	if !strings.Contains(reqs[1].System, "<query_plan>count customers</query_plan>") {
		t.Error("second step prompt should include the query plan")
	}
	if !strings.Contains(reqs[2].System, "SELECT COUNT(*) FROM customers") {
		t.Error("third step prompt should include the drafted sql")
	}
	for i, req := range reqs {
		if len(req.Messages) != 1 || req.Messages[0].Content != "how many customers?" {
			t.Errorf("request %d messages = %+v", i, req.Messages)
		}
	}
}

func TestRunTurn_StepErrorStopsPipeline(t *testing.T) {
	p := &scriptedProvider{
		replies: []string{"plan"},
		errAt:   1,
		err:     errors.New("rate limited"),
	}
	rt := NewRuntime(RuntimeConfig{Provider: p})

	events, err := rt.RunTurn(context.Background(), "sess-1", "q")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	got := collect(events)

	last := got[len(got)-1]
	if last.Type != TurnError {
		t.Fatalf("last event = %+v, want TurnError", last)
	}
	if last.Step != "sql_writer" {
		t.Errorf("Step = %q, want sql_writer", last.Step)
	}
	if !strings.Contains(last.Error.Error(), "rate limited") {
		t.Errorf("Error = %v", last.Error)
	}
	if n := len(p.seen()); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
}

func TestRunTurn_EmptyOutputIsError(t *testing.T) {
	p := &scriptedProvider{replies: []string{"  "}}
	rt := NewRuntime(RuntimeConfig{Provider: p})

	events, _ := rt.RunTurn(context.Background(), "s", "q")
	got := collect(events)
	if len(got) != 1 || got[0].Type != TurnError {
		t.Fatalf("events = %+v, want single TurnError", got)
	}
}

func TestRunTurn_EmptyMessage(t *testing.T) {
	rt := NewRuntime(RuntimeConfig{Provider: &scriptedProvider{}})
	if _, err := rt.RunTurn(context.Background(), "s", "   "); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestRunTurn_CanceledContext(t *testing.T) {
	rt := NewRuntime(RuntimeConfig{Provider: &scriptedProvider{replies: []string{"a", "b", "c"}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := rt.RunTurn(ctx, "s", "q")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	got := collect(events)
	if len(got) != 1 || !errors.Is(got[0].Error, context.Canceled) {
		t.Fatalf("events = %+v, want context.Canceled", got)
	}
}

func TestRunTurn_RemembersOutputsPerSession(t *testing.T) {
	p := &scriptedProvider{replies: []string{"plan-1", "sql-1", "final-1"}}
	rt := NewRuntime(RuntimeConfig{Provider: p})

	events, _ := rt.RunTurn(context.Background(), "sess-a", "q")
	collect(events)

	vars := rt.SessionVars("sess-a")
	if vars[VarQueryPlan] != "plan-1" || vars[VarSQL] != "sql-1" || vars[VarRefinedSQL] != "final-1" {
		t.Errorf("vars = %v", vars)
	}
	if _, ok := vars[VarSchema]; ok {
		t.Error("schema should not be persisted in session vars")
	}
	if other := rt.SessionVars("sess-b"); len(other) != 0 {
		t.Errorf("unrelated session vars = %v, want empty", other)
	}
}

func TestRunTurn_SchemaFileMissing(t *testing.T) {
	rt := NewRuntime(RuntimeConfig{
		Provider: &scriptedProvider{},
		Schema:   FileSchema{Path: filepath.Join(t.TempDir(), "missing.sql")},
	})
	if _, err := rt.RunTurn(context.Background(), "s", "q"); err == nil {
		t.Error("expected error for missing schema file")
	}
}

func TestFileSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.sql")
	if err := os.WriteFile(path, []byte("\nCREATE TABLE t (id INT);\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := NewSchemaSource(path).Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if got != "CREATE TABLE t (id INT);" {
		t.Errorf("Schema = %q", got)
	}

	empty := filepath.Join(t.TempDir(), "empty.sql")
	_ = os.WriteFile(empty, []byte("  \n"), 0o600)
	if _, err := (FileSchema{Path: empty}).Schema(context.Background()); err == nil {
		t.Error("expected error for empty schema file")
	}
}

func TestNewSchemaSource_DefaultsToSample(t *testing.T) {
	got, err := NewSchemaSource("").Schema(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != SampleSchema {
		t.Error("empty path should yield the sample schema")
	}
}
