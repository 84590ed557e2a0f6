package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/igorsilveira/sqlagent/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	AgentCardPath = "/.well-known/agent.json"

	defaultClientTimeout = 5 * time.Minute
	maxErrorBody         = 4096
)

var errHeaderTimeout = errors.New("a2a: no response within client timeout")

// Session identifies the conversation a request belongs to and the server
// it is sent to. The client keeps no session state of its own.
type Session struct {
	ID       string
	Endpoint string
}

func NewSession(endpoint string) Session {
	return Session{ID: uuid.NewString(), Endpoint: endpoint}
}

type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	authToken  string
	logger     *slog.Logger
	observer   func(Outcome)
	newID      func() string
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds how long a request may wait for response headers. The
// body of an event stream is not bounded; it is read until the server closes
// it or a terminal event arrives. Zero disables the limit.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithAuthToken(token string) ClientOption {
	return func(c *Client) { c.authToken = token }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithObserver registers fn to receive the outcome after every reduced
// event of a streaming turn.
func WithObserver(fn func(Outcome)) ClientOption {
	return func(c *Client) { c.observer = fn }
}

func WithIDGenerator(fn func() string) ClientOption {
	return func(c *Client) { c.newID = fn }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    defaultClientTimeout,
		logger:     slog.Default(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage sends text as a new task over tasks/sendSubscribe and folds
// the event stream until a terminal outcome or the end of the stream. A
// stream that ends early yields an incomplete outcome and a nil error.
func (c *Client) SendMessage(ctx context.Context, sess Session, text string) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "a2a.client.send",
		attribute.String("mode", "stream"),
		attribute.String("session_id", sess.ID),
	)
	defer span.End()

	taskID := c.newID()
	req, err := NewTaskRequest(MethodSendSubscribe, taskID, sess, text)
	if err != nil {
		return NewOutcome(), err
	}

	resp, err := c.post(ctx, sess.Endpoint, req, "text/event-stream")
	if err != nil {
		c.finish(span, "stream", NewOutcome(), err)
		return NewOutcome(), err
	}
	defer resp.Body.Close()

	var outcome Outcome
	if isJSON(resp.Header.Get("Content-Type")) {
		outcome, err = c.consumeSingle(resp.Body)
	} else {
		outcome, err = c.consumeStream(ctx, resp.Body)
	}

	c.logger.Debug("a2a turn finished",
		slog.String("task_id", taskID),
		slog.String("session_id", sess.ID),
		slog.String("status", string(outcome.Status)),
	)
	c.finish(span, "stream", outcome, err)
	return outcome, err
}

// SendOnce sends text over tasks/send and waits for the single response.
func (c *Client) SendOnce(ctx context.Context, sess Session, text string) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "a2a.client.send",
		attribute.String("mode", "once"),
		attribute.String("session_id", sess.ID),
	)
	defer span.End()

	req, err := NewTaskRequest(MethodSend, c.newID(), sess, text)
	if err != nil {
		return NewOutcome(), err
	}

	resp, err := c.post(ctx, sess.Endpoint, req, "application/json")
	if err != nil {
		c.finish(span, "once", NewOutcome(), err)
		return NewOutcome(), err
	}
	defer resp.Body.Close()

	outcome, err := decodeTaskResponse(resp.Body)
	c.finish(span, "once", outcome, err)
	return outcome, err
}

// FetchAgentCard retrieves the agent card published under endpoint.
func (c *Client) FetchAgentCard(ctx context.Context, endpoint string) (*AgentCard, error) {
	cardURL, err := url.JoinPath(endpoint, AgentCardPath)
	if err != nil {
		return nil, fmt.Errorf("a2a: building agent card url: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("a2a: creating request: %w", err)
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("a2a: decoding agent card: %w", err)
	}
	return &card, nil
}

func (c *Client) consumeStream(ctx context.Context, body io.Reader) (Outcome, error) {
	reader := NewEventReader(body)
	outcome := NewOutcome()
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return outcome, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcome, ctxErr
			}
			return outcome, fmt.Errorf("a2a: reading event stream: %w", err)
		}
		if len(bytes.TrimSpace(ev.Data)) == 0 {
			continue
		}

		parsed, err := ParseEvent(ev.Data)
		if err != nil {
			return outcome, err
		}
		outcome = Reduce(outcome, parsed)
		if c.observer != nil {
			c.observer(outcome)
		}
		if outcome.Terminal() {
			return outcome, nil
		}
	}
}

// consumeSingle handles servers that reject a streaming request with a plain
// JSON-RPC response instead of an event stream.
func (c *Client) consumeSingle(body io.Reader) (Outcome, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return NewOutcome(), fmt.Errorf("a2a: reading response: %w", err)
	}
	parsed, err := ParseEvent(data)
	if err != nil {
		return NewOutcome(), err
	}
	outcome := Reduce(NewOutcome(), parsed)
	if c.observer != nil {
		c.observer(outcome)
	}
	return outcome, nil
}

func decodeTaskResponse(body io.Reader) (Outcome, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return NewOutcome(), fmt.Errorf("a2a: reading response: %w", err)
	}

	var rpc struct {
		Result *Task         `json:"result"`
		Error  *JSONRPCError `json:"error"`
	}
	if err := json.Unmarshal(data, &rpc); err != nil {
		return NewOutcome(), &ProtocolError{Data: data, Err: err}
	}
	if rpc.Error != nil {
		return Outcome{Status: OutcomeError, Error: rpc.Error}, nil
	}
	if rpc.Result == nil {
		return NewOutcome(), &ProtocolError{Data: data, Err: errors.New("response has neither result nor error")}
	}

	task := rpc.Result
	content := task.Status.Message.LastText()
	if content == "" {
		for _, a := range task.Artifacts {
			m := Message{Parts: a.Parts}
			if text := m.LastText(); text != "" {
				content = text
			}
		}
	}

	switch task.Status.State {
	case TaskStateFailed, TaskStateCanceled:
		return Outcome{
			Status:  OutcomeError,
			Content: content,
			Error:   &JSONRPCError{Code: ErrCodeInternal, Message: fmt.Sprintf("task %s", task.Status.State)},
		}, nil
	}
	return Outcome{Status: OutcomeComplete, Content: content}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body JSONRPCRequest, accept string) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("a2a: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("a2a: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	return c.do(httpReq)
}

// do sends httpReq. The client timeout covers connecting and waiting for the
// response headers; once they arrive the deadline is dropped and the body
// stays open until it is closed.
func (c *Client) do(httpReq *http.Request) (*http.Response, error) {
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	ctx, cancel := context.WithCancelCause(httpReq.Context())
	httpReq = httpReq.WithContext(ctx)

	var timer *time.Timer
	if c.timeout > 0 {
		timer = time.AfterFunc(c.timeout, func() { cancel(errHeaderTimeout) })
	}
	resp, err := c.httpClient.Do(httpReq)
	if timer != nil && !timer.Stop() && err == nil {
		resp.Body.Close()
		err = errHeaderTimeout
	}
	if err != nil {
		cancel(nil)
		if errors.Is(context.Cause(ctx), errHeaderTimeout) {
			err = errHeaderTimeout
		}
		return nil, fmt.Errorf("a2a: sending request: %w", err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errBody)),
		}
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}

func (c *Client) finish(span trace.Span, mode string, outcome Outcome, err error) {
	status := string(outcome.Status)
	if err != nil {
		status = "failed"
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", status))
	telemetry.Metrics.ClientTurnsTotal.WithLabelValues(mode, status).Inc()
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}
