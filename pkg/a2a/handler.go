package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/igorsilveira/sqlagent/pkg/agent"
	"github.com/igorsilveira/sqlagent/pkg/audit"
	"github.com/igorsilveira/sqlagent/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Runner executes one agent turn for a session.
type Runner interface {
	RunTurn(ctx context.Context, sessionID, userMessage string) (<-chan agent.TurnEvent, error)
}

const artifactName = "sql"

var errTaskCanceled = errors.New("task canceled")

type Handler struct {
	router    chi.Router
	card      *AgentCard
	store     TaskStore
	runner    Runner
	auditLog  *audit.Logger
	logger    *slog.Logger
	authToken string

	taskMu   sync.Mutex
	inflight map[string]context.CancelFunc
}

type HandlerConfig struct {
	Card      *AgentCard
	Store     TaskStore
	Runner    Runner
	AuditLog  *audit.Logger
	Logger    *slog.Logger
	AuthToken string
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryTaskStore()
	}
	h := &Handler{
		card:      cfg.Card,
		store:     cfg.Store,
		runner:    cfg.Runner,
		auditLog:  cfg.AuditLog,
		logger:    cfg.Logger,
		authToken: cfg.AuthToken,
		inflight:  make(map[string]context.CancelFunc),
	}
	h.buildRouter()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) buildRouter() {
	r := chi.NewRouter()
	r.Get(AgentCardPath, h.handleAgentCard)

	r.Group(func(r chi.Router) {
		if h.authToken != "" {
			r.Use(h.authMiddleware)
		}
		r.Post("/", h.handleJSONRPC)
	})
	h.router = r
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != h.authToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.card)
}

func (h *Handler) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(nil, ErrCodeParse, "parse error"))
		return
	}
	if req.JSONRPC != jsonrpcVersion {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidReq, "invalid jsonrpc version"))
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "a2a.handle", attribute.String("method", req.Method))
	defer span.End()
	r = r.WithContext(ctx)

	switch req.Method {
	case MethodSend:
		h.rpcSend(w, r, req)
	case MethodSendSubscribe:
		h.rpcSendSubscribe(w, r, req)
	case MethodGet:
		h.rpcGetTask(w, r, req)
	case MethodCancel:
		h.rpcCancelTask(w, r, req)
	default:
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}
}

func (h *Handler) rpcSend(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	start := time.Now()
	params, text, ok := h.decodeSendParams(w, req)
	if !ok {
		return
	}

	turnCtx, done, ok := h.track(r.Context(), params.ID)
	if !ok {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidReq,
			fmt.Sprintf("task %s already has a turn in progress", params.ID)))
		return
	}
	defer done()

	task, err := h.beginTask(r.Context(), params)
	if err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInternal, err.Error()))
		return
	}

	final, runErr := h.drain(turnCtx, task, text, nil)
	task, err = h.finishTask(r.Context(), task.ID, final, runErr)
	h.observe(MethodSend, task, start)
	if task == nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInternal, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
}

func (h *Handler) rpcSendSubscribe(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	start := time.Now()
	params, text, ok := h.decodeSendParams(w, req)
	if !ok {
		return
	}

	turnCtx, done, ok := h.track(r.Context(), params.ID)
	if !ok {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidReq,
			fmt.Sprintf("task %s already has a turn in progress", params.ID)))
		return
	}
	defer done()

	task, err := h.beginTask(r.Context(), params)
	if err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInternal, err.Error()))
		return
	}

	telemetry.Metrics.ActiveStreams.Inc()
	defer telemetry.Metrics.ActiveStreams.Dec()

	sw := newSSEWriter(w)
	stream := &taskStream{sw: sw, id: req.ID, logger: h.logger}
	stream.status(task.ID, &TaskStatus{State: TaskStateWorking, Timestamp: now()}, false)

	final, runErr := h.drain(turnCtx, task, text, func(step, output string) {
		msg := TextMessage(RoleAgent, output)
		stream.status(task.ID, &TaskStatus{State: TaskStateWorking, Message: &msg, Timestamp: now()}, false)
	})

	task, err = h.finishTask(r.Context(), task.ID, final, runErr)
	h.observe(MethodSendSubscribe, task, start)
	if err != nil {
		stream.fail(err)
		return
	}

	for i := range task.Artifacts {
		stream.artifact(task.ID, &task.Artifacts[i])
	}
	stream.status(task.ID, &task.Status, true)
}

func (h *Handler) rpcGetTask(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
		return
	}

	task, err := h.store.Get(r.Context(), params.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, h.storeError(req.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
}

func (h *Handler) rpcCancelTask(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
		return
	}

	var cancelable bool
	task, err := h.update(r.Context(), params.ID, func(t *Task) {
		if t.Status.State.Terminal() {
			return
		}
		cancelable = true
		t.Status = TaskStatus{State: TaskStateCanceled, Timestamp: now()}
	})
	if err != nil {
		writeJSON(w, http.StatusOK, h.storeError(req.ID, err))
		return
	}
	if !cancelable {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeTaskNotCancel,
			fmt.Sprintf("task is already %s", task.Status.State)))
		return
	}

	h.taskMu.Lock()
	if cancel, ok := h.inflight[task.ID]; ok {
		cancel()
	}
	h.taskMu.Unlock()

	h.auditLogEvent(r.Context(), audit.EventA2ATaskCancel, task)
	writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
}

func (h *Handler) decodeSendParams(w http.ResponseWriter, req JSONRPCRequest) (TaskSendParams, string, bool) {
	var params TaskSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
		return params, "", false
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.SessionID == "" {
		params.SessionID = params.ID
	}
	text := params.Message.JoinedText()
	if text == "" {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "message has no text parts"))
		return params, "", false
	}
	return params, text, true
}

// beginTask creates the task or, for a known id, appends the message to its
// history. Either way the task ends up working.
func (h *Handler) beginTask(ctx context.Context, params TaskSendParams) (*Task, error) {
	msg := params.Message
	if msg.Role == "" {
		msg.Role = RoleUser
	}

	h.taskMu.Lock()
	defer h.taskMu.Unlock()

	task, err := h.store.Get(ctx, params.ID)
	switch {
	case err == nil:
		task.History = append(task.History, msg)
	case errors.Is(err, ErrTaskNotFound):
		task = &Task{
			ID:        params.ID,
			SessionID: params.SessionID,
			History:   []Message{msg},
		}
		h.auditLogEvent(ctx, audit.EventA2ATaskNew, task)
	default:
		return nil, fmt.Errorf("loading task: %w", err)
	}

	task.Status = TaskStatus{State: TaskStateWorking, Timestamp: now()}
	if err := h.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("saving task: %w", err)
	}
	return task, nil
}

// drain runs the turn and consumes its events. onStep is called for every
// completed pipeline step.
func (h *Handler) drain(ctx context.Context, task *Task, text string, onStep func(step, output string)) (string, error) {
	logger := telemetry.FromContext(ctx)

	events, err := h.runner.RunTurn(ctx, task.SessionID, text)
	if err != nil {
		return "", fmt.Errorf("agent turn: %w", err)
	}

	var (
		final  string
		runErr error
	)
	for ev := range events {
		switch ev.Type {
		case agent.TurnStepDone:
			logger.Debug("pipeline step done",
				slog.String("task_id", task.ID),
				slog.String("step", ev.Step),
			)
			if onStep != nil {
				onStep(ev.Step, ev.Output)
			}
		case agent.TurnDone:
			final = ev.Message
		case agent.TurnError:
			runErr = ev.Error
		}
	}
	if runErr != nil {
		return "", fmt.Errorf("agent error: %w", runErr)
	}
	return final, nil
}

// finishTask records the outcome of a turn. The returned error is what the
// caller reports to the client; the task is nil only when the store failed.
func (h *Handler) finishTask(ctx context.Context, id, final string, runErr error) (*Task, error) {
	ctx = context.WithoutCancel(ctx)
	task, err := h.update(ctx, id, func(t *Task) {
		switch {
		case t.Status.State == TaskStateCanceled:
		case runErr != nil:
			msg := TextMessage(RoleAgent, runErr.Error())
			t.Status = TaskStatus{State: TaskStateFailed, Message: &msg, Timestamp: now()}
		default:
			msg := TextMessage(RoleAgent, final)
			t.Status = TaskStatus{State: TaskStateCompleted, Message: &msg, Timestamp: now()}
			t.History = append(t.History, msg)
			t.Artifacts = append(t.Artifacts, Artifact{
				Name:      artifactName,
				Parts:     msg.Parts,
				Index:     len(t.Artifacts),
				LastChunk: true,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("saving task: %w", err)
	}

	switch {
	case task.Status.State == TaskStateCanceled:
		return task, errTaskCanceled
	case runErr != nil:
		h.logger.Error("task failed",
			slog.String("task_id", id),
			slog.String("err", runErr.Error()),
		)
		telemetry.Metrics.ErrorsTotal.WithLabelValues("a2a").Inc()
		h.auditLogEvent(ctx, audit.EventA2ATaskFail, task)
		return task, runErr
	}
	h.auditLogEvent(ctx, audit.EventA2ATaskDone, task)
	return task, nil
}

func (h *Handler) update(ctx context.Context, id string, fn func(*Task)) (*Task, error) {
	h.taskMu.Lock()
	defer h.taskMu.Unlock()

	task, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(task)
	if err := h.store.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// track derives the turn context and registers its cancel func so that
// tasks/cancel can stop the turn. It runs before the task is saved as
// working, so a cancel never sees a working task without a cancel func.
// A task runs one turn at a time; ok is false while another is in flight.
func (h *Handler) track(ctx context.Context, id string) (turnCtx context.Context, done func(), ok bool) {
	h.taskMu.Lock()
	defer h.taskMu.Unlock()
	if _, busy := h.inflight[id]; busy {
		return nil, nil, false
	}

	turnCtx, cancel := context.WithCancel(ctx)
	h.inflight[id] = cancel
	return turnCtx, func() {
		h.taskMu.Lock()
		delete(h.inflight, id)
		h.taskMu.Unlock()
		cancel()
	}, true
}

func (h *Handler) storeError(id any, err error) JSONRPCResponse {
	if errors.Is(err, ErrTaskNotFound) {
		return NewJSONRPCError(id, ErrCodeTaskNotFound, err.Error())
	}
	return NewJSONRPCError(id, ErrCodeInternal, err.Error())
}

func (h *Handler) observe(method string, task *Task, start time.Time) {
	state := "unknown"
	if task != nil {
		state = string(task.Status.State)
	}
	telemetry.Metrics.TasksTotal.WithLabelValues(method, state).Inc()
	telemetry.Metrics.TaskDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (h *Handler) auditLogEvent(ctx context.Context, eventType string, task *Task) {
	if h.auditLog == nil {
		return
	}
	_ = h.auditLog.Log(ctx, eventType, task.SessionID, SkillSQLAgent, "a2a", fmt.Sprintf("task_id=%s", task.ID))
}

// taskStream writes JSON-RPC responses as SSE events. After the first
// write failure the client is considered gone and later writes are dropped.
type taskStream struct {
	sw     *sseWriter
	id     any
	logger *slog.Logger
	gone   bool
}

func (s *taskStream) status(taskID string, status *TaskStatus, final bool) {
	s.send("status", NewJSONRPCResponse(s.id, TaskStatusUpdate{ID: taskID, Status: status, Final: final}))
}

func (s *taskStream) artifact(taskID string, a *Artifact) {
	s.send("artifact", NewJSONRPCResponse(s.id, TaskStatusUpdate{ID: taskID, Artifact: a}))
}

func (s *taskStream) fail(err error) {
	s.send("error", NewJSONRPCError(s.id, ErrCodeInternal, err.Error()))
}

func (s *taskStream) send(event string, payload JSONRPCResponse) {
	if s.gone {
		return
	}
	if err := s.sw.write(event, payload); err != nil {
		s.gone = true
		s.logger.Debug("sse client gone", slog.String("err", err.Error()))
	}
}

func now() time.Time {
	return time.Now().UTC()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
