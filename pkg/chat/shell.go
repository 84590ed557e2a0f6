package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/config"
)

var (
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrTurnInFlight = errors.New("chat: a turn is already in flight")
)

// Sender delivers one user turn to an agent server. *a2a.Client implements it.
type Sender interface {
	SendMessage(ctx context.Context, sess a2a.Session, text string) (a2a.Outcome, error)
	SendOnce(ctx context.Context, sess a2a.Session, text string) (a2a.Outcome, error)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Entry struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Turn is the result of one Submit call.
type Turn struct {
	Outcome a2a.Outcome
	// Answered is true when an assistant entry was appended.
	Answered bool
}

// Shell holds the conversation with one agent: an append-only history, a
// session id fixed for its lifetime and the endpoint turns are sent to.
type Shell struct {
	sender Sender
	stream bool
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	sessionID string
	endpoint  string
	history   []Entry
	busy      bool
}

type Option func(*Shell)

// WithStream selects tasks/sendSubscribe (true, the default) or tasks/send.
func WithStream(stream bool) Option {
	return func(s *Shell) { s.stream = stream }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Shell) { s.logger = l }
}

func WithSessionID(id string) Option {
	return func(s *Shell) { s.sessionID = id }
}

func New(sender Sender, endpoint string, opts ...Option) *Shell {
	s := &Shell{
		sender:    sender,
		stream:    true,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		sessionID: uuid.NewString(),
		endpoint:  endpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends text as one turn. The user entry is appended before the call.
// An assistant entry is appended only when the outcome carries an answer;
// errors leave the history with the user entry alone.
func (s *Shell) Submit(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{Outcome: a2a.NewOutcome()}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Turn{Outcome: a2a.NewOutcome()}, ErrTurnInFlight
	}
	s.busy = true
	s.history = append(s.history, Entry{Role: RoleUser, Content: text, Timestamp: s.now()})
	sess := a2a.Session{ID: s.sessionID, Endpoint: s.endpoint}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	send := s.sender.SendMessage
	if !s.stream {
		send = s.sender.SendOnce
	}
	outcome, err := send(ctx, sess, text)
	turn := Turn{Outcome: outcome}
	if err != nil {
		s.logger.Warn("chat turn failed",
			slog.String("session_id", sess.ID),
			slog.String("endpoint", sess.Endpoint),
			slog.String("err", err.Error()),
		)
		return turn, err
	}
	if err := outcome.Err(); err != nil {
		return turn, err
	}

	if outcome.Status == a2a.OutcomeComplete || outcome.Content != "" {
		s.mu.Lock()
		s.history = append(s.history, Entry{Role: RoleAssistant, Content: outcome.Content, Timestamp: s.now()})
		s.mu.Unlock()
		turn.Answered = true
	}
	return turn, nil
}

// SetEndpoint points later turns at a different server. The session id is
// kept.
func (s *Shell) SetEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if err := config.ValidateURL(endpoint); err != nil {
		return fmt.Errorf("chat: invalid server url: %w", err)
	}
	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()
	return nil
}

func (s *Shell) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *Shell) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Shell) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// Describe renders a turn result for display. Incomplete turns without
// content get a placeholder.
func Describe(turn Turn, err error) string {
	switch {
	case err != nil:
		return "Error: " + err.Error()
	case turn.Outcome.Status == a2a.OutcomeIncomplete && turn.Outcome.Content == "":
		return "(stream ended before the agent answered)"
	case turn.Outcome.Status == a2a.OutcomeIncomplete:
		return turn.Outcome.Content + "\n(stream ended early; answer may be partial)"
	}
	return turn.Outcome.Content
}
