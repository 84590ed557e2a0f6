package agent

import (
	"context"
	"sync"

	"github.com/igorsilveira/sqlagent/pkg/llm"
)

// scriptedProvider answers each Chat call with the next scripted reply and
// records the requests it saw.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	errAt    int
	err      error
	requests []llm.ChatRequest
}

func (p *scriptedProvider) Name() string            { return "fake" }
func (p *scriptedProvider) SupportsStreaming() bool { return true }
func (p *scriptedProvider) Models() []llm.ModelInfo {
	return []llm.ModelInfo{{ID: "fake-1", Name: "Fake", MaxContextTokens: 8192}}
}

func (p *scriptedProvider) Chat(_ context.Context, req llm.ChatRequest) (<-chan llm.ChatEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)

	ch := make(chan llm.ChatEvent, 3)
	if p.err != nil && idx == p.errAt {
		ch <- llm.ChatEvent{Type: llm.EventError, Error: p.err}
		close(ch)
		return ch, nil
	}
	reply := ""
	if idx < len(p.replies) {
		reply = p.replies[idx]
	}
	ch <- llm.ChatEvent{Type: llm.EventToken, Token: reply}
	ch <- llm.ChatEvent{Type: llm.EventDone, Usage: &llm.Usage{InputTokens: 10, OutputTokens: 5}}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) seen() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

func collect(events <-chan TurnEvent) []TurnEvent {
	var out []TurnEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}
