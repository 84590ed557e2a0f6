package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/llm"
	"github.com/igorsilveira/sqlagent/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type TurnEvent struct {
	Type    TurnEventType
	Step    string
	Output  string
	Message string
	Error   error
	Usage   *llm.Usage
}

type TurnEventType int

const (
	TurnStepDone TurnEventType = iota
	TurnDone
	TurnError
)

// Runtime runs the step pipeline for each turn. Step outputs are kept per
// session so later turns can refer to earlier plans and queries.
type Runtime struct {
	provider        llm.Provider
	model           string
	maxOutputTokens int
	steps           []Step
	schema          SchemaSource

	stateMu sync.Mutex
	state   map[string]map[string]string
}

type RuntimeConfig struct {
	Provider        llm.Provider
	Model           string
	MaxOutputTokens int
	Steps           []Step
	Schema          SchemaSource
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 2048
	}
	if len(cfg.Steps) == 0 {
		cfg.Steps = DefaultSteps()
	}
	if cfg.Schema == nil {
		cfg.Schema = StaticSchema(SampleSchema)
	}
	return &Runtime{
		provider:        cfg.Provider,
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
		steps:           cfg.Steps,
		schema:          cfg.Schema,
		state:           make(map[string]map[string]string),
	}
}

func (r *Runtime) RunTurn(ctx context.Context, sessionID, userMessage string) (<-chan TurnEvent, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, errors.New("empty message")
	}

	schema, err := r.schema.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	telemetry.FromContext(ctx).Debug("running sql pipeline",
		slog.String("session_id", sessionID),
		slog.Int("steps", len(r.steps)),
	)

	out := make(chan TurnEvent, len(r.steps)+1)
	go r.runPipeline(ctx, sessionID, userMessage, schema, out)
	return out, nil
}

func (r *Runtime) runPipeline(ctx context.Context, sessionID, question, schema string, out chan<- TurnEvent) {
	defer close(out)
	logger := telemetry.FromContext(ctx)

	ctx, span := telemetry.StartSpan(ctx, "agent.pipeline", attribute.String("session_id", sessionID))
	defer span.End()

	vars := r.sessionVars(sessionID)
	vars[VarQuestion] = question
	vars[VarSchema] = schema

	var total llm.Usage
	var last string
	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			out <- TurnEvent{Type: TurnError, Error: err}
			return
		}

		output, usage, err := r.runStep(ctx, step, vars)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			telemetry.Metrics.ErrorsTotal.WithLabelValues("agent").Inc()
			logger.Warn("pipeline step failed",
				slog.String("session_id", sessionID),
				slog.String("step", step.Name),
				slog.String("err", err.Error()),
			)
			out <- TurnEvent{Type: TurnError, Step: step.Name, Error: fmt.Errorf("step %s: %w", step.Name, err)}
			return
		}
		if usage != nil {
			total.InputTokens += usage.InputTokens
			total.OutputTokens += usage.OutputTokens
		}

		vars[step.OutputKey] = output
		last = output
		out <- TurnEvent{Type: TurnStepDone, Step: step.Name, Output: output, Usage: usage}
	}

	r.saveSessionVars(sessionID, vars)
	out <- TurnEvent{Type: TurnDone, Message: ExtractSQL(last), Usage: &total}
}

func (r *Runtime) runStep(ctx context.Context, step Step, vars map[string]string) (string, *llm.Usage, error) {
	ctx, span := telemetry.StartSpan(ctx, "agent.step", attribute.String("step", step.Name))
	defer span.End()

	start := time.Now()
	defer func() {
		telemetry.Metrics.PipelineStepDuration.WithLabelValues(step.Name).Observe(time.Since(start).Seconds())
	}()

	model := r.model
	if model == "" {
		if models := r.provider.Models(); len(models) > 0 {
			model = models[0].ID
		}
	}
	telemetry.Metrics.LLMRequestsTotal.WithLabelValues(r.provider.Name(), model).Inc()

	events, err := r.provider.Chat(ctx, llm.ChatRequest{
		Model:     r.model,
		System:    step.Prompt(vars),
		Messages:  []llm.ChatMessage{{Role: llm.RoleUser, Content: vars[VarQuestion]}},
		MaxTokens: r.maxOutputTokens,
		Stream:    r.provider.SupportsStreaming(),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", nil, fmt.Errorf("calling LLM: %w", err)
	}

	text, usage, err := llm.Collect(events)
	telemetry.Metrics.LLMLatency.WithLabelValues(r.provider.Name(), model).Observe(time.Since(start).Seconds())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	if usage != nil {
		telemetry.Metrics.TokensUsed.WithLabelValues("input", model).Add(float64(usage.InputTokens))
		telemetry.Metrics.TokensUsed.WithLabelValues("output", model).Add(float64(usage.OutputTokens))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", usage, errors.New("model returned no output")
	}
	return text, usage, nil
}

func (r *Runtime) sessionVars(sessionID string) map[string]string {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	vars := make(map[string]string, len(r.steps)+2)
	for k, v := range r.state[sessionID] {
		vars[k] = v
	}
	return vars
}

func (r *Runtime) saveSessionVars(sessionID string, vars map[string]string) {
	saved := make(map[string]string, len(r.steps))
	for _, step := range r.steps {
		saved[step.OutputKey] = vars[step.OutputKey]
	}
	r.stateMu.Lock()
	r.state[sessionID] = saved
	r.stateMu.Unlock()
}

// SessionVars returns a copy of the step outputs remembered for sessionID.
func (r *Runtime) SessionVars(sessionID string) map[string]string {
	return r.sessionVars(sessionID)
}
