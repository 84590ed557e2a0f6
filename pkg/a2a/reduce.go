package a2a

type OutcomeStatus string

const (
	OutcomeIncomplete OutcomeStatus = "incomplete"
	OutcomeComplete   OutcomeStatus = "complete"
	OutcomeError      OutcomeStatus = "error"
)

// Outcome is the state folded from a task's event stream.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Content string        `json:"content"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

func NewOutcome() Outcome {
	return Outcome{Status: OutcomeIncomplete}
}

func (o Outcome) Terminal() bool {
	return o.Status == OutcomeComplete || o.Status == OutcomeError
}

// Err returns a *ServerError for error outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.Status != OutcomeError || o.Error == nil {
		return nil
	}
	return &ServerError{Err: o.Error}
}

// Reduce applies one event to o. Terminal outcomes are returned unchanged.
func Reduce(o Outcome, ev Event) Outcome {
	if o.Status == "" {
		o.Status = OutcomeIncomplete
	}
	if o.Terminal() {
		return o
	}

	switch ev := ev.(type) {
	case *ErrorEvent:
		o.Status = OutcomeError
		o.Error = ev.Err
	case *ResultEvent:
		if ev.Status != nil && ev.Status.Message != nil {
			for _, p := range ev.Status.Message.Parts {
				if p.Type == PartTypeText {
					o.Content = p.Text
				}
			}
		}
		if ev.Final {
			o.Status = OutcomeComplete
		}
	}
	return o
}

// Fold reduces events in order from a fresh outcome, stopping at the first
// terminal state.
func Fold(events []Event) Outcome {
	o := NewOutcome()
	for _, ev := range events {
		o = Reduce(o, ev)
		if o.Terminal() {
			break
		}
	}
	return o
}
