package a2a

import "time"

const (
	MethodSend          = "tasks/send"
	MethodSendSubscribe = "tasks/sendSubscribe"
	MethodGet           = "tasks/get"
	MethodCancel        = "tasks/cancel"
)

const (
	PartTypeText = "text"

	RoleUser  = "user"
	RoleAgent = "agent"
)

type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DefaultInputModes  []string     `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string     `json:"defaultOutputModes,omitempty"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills,omitempty"`
}

type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

// Terminal reports whether no further updates follow this state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

type Task struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId,omitempty"`
	Status    TaskStatus `json:"status"`
	History   []Message  `json:"history,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Artifact struct {
	Name      string `json:"name,omitempty"`
	Parts     []Part `json:"parts"`
	Index     int    `json:"index"`
	LastChunk bool   `json:"lastChunk,omitempty"`
}

// TaskSendParams is the params object of tasks/send and tasks/sendSubscribe.
type TaskSendParams struct {
	ID                  string   `json:"id"`
	SessionID           string   `json:"sessionId"`
	Message             Message  `json:"message"`
	AcceptedOutputModes []string `json:"acceptedOutputModes,omitempty"`
}

type TaskIDParams struct {
	ID string `json:"id"`
}

// TaskStatusUpdate is the result payload of one streamed event.
type TaskStatusUpdate struct {
	ID       string      `json:"id"`
	Status   *TaskStatus `json:"status,omitempty"`
	Artifact *Artifact   `json:"artifact,omitempty"`
	Final    bool        `json:"final,omitempty"`
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartTypeText, Text: text}}}
}

// LastText returns the text of the last textual part, or "" when there is none.
func (m *Message) LastText() string {
	if m == nil {
		return ""
	}
	var text string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			text = p.Text
		}
	}
	return text
}

// JoinedText concatenates every non-empty text part, newline separated.
func (m Message) JoinedText() string {
	var out string
	for _, p := range m.Parts {
		if p.Type != PartTypeText || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}
