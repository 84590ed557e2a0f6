package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/chat"
	"github.com/igorsilveira/sqlagent/pkg/config"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	inputStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const (
	lineUser      = "user"
	lineAssistant = "assistant"
	lineError     = "error"
	lineNotice    = "notice"
)

// line is one rendered transcript entry. Errors and notices are display
// only and never reach the shell history.
type line struct {
	kind    string
	content string
}

type Model struct {
	ctx      context.Context
	shell    *chat.Shell
	lines    []line
	input    string
	progress string
	width    int
	height   int
	scroll   int
	waiting  bool
}

func NewModel(ctx context.Context, shell *chat.Shell) Model {
	return Model{ctx: ctx, shell: shell}
}

type responseMsg struct {
	turn chat.Turn
	err  error
}

type progressMsg struct {
	outcome a2a.Outcome
}

// Progress forwards streaming outcomes from the client observer into a
// running program.
type Progress struct {
	program atomic.Pointer[tea.Program]
}

func (p *Progress) Observe(o a2a.Outcome) {
	if prog := p.program.Load(); prog != nil {
		prog.Send(progressMsg{outcome: o})
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.waiting || strings.TrimSpace(m.input) == "" {
				return m, nil
			}
			return m.submitInput()
		case tea.KeyBackspace:
			if r := []rune(m.input); len(r) > 0 {
				m.input = string(r[:len(r)-1])
			}
		case tea.KeyPgUp:
			if m.scroll > 0 {
				m.scroll--
			}
		case tea.KeyPgDown:
			m.scroll++
		case tea.KeySpace:
			m.input += " "
		case tea.KeyRunes:
			m.input += string(msg.Runes)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case progressMsg:
		if m.waiting {
			m.progress = msg.outcome.Content
		}

	case responseMsg:
		m.waiting = false
		m.progress = ""
		switch {
		case msg.err != nil:
			m.lines = append(m.lines, line{kind: lineError, content: msg.err.Error()})
		case msg.turn.Answered && msg.turn.Outcome.Status == a2a.OutcomeComplete:
			m.lines = append(m.lines, line{kind: lineAssistant, content: msg.turn.Outcome.Content})
		case msg.turn.Answered:
			m.lines = append(m.lines, line{kind: lineAssistant, content: msg.turn.Outcome.Content})
			m.lines = append(m.lines, line{kind: lineNotice, content: "stream ended early; the answer may be partial"})
		default:
			m.lines = append(m.lines, line{kind: lineNotice, content: chat.Describe(msg.turn, nil)})
		}
	}

	return m, nil
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input)
	m.input = ""

	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}

	m.lines = append(m.lines, line{kind: lineUser, content: text})
	m.waiting = true
	m.progress = ""

	ctx, shell := m.ctx, m.shell
	return m, func() tea.Msg {
		turn, err := shell.Submit(ctx, text)
		return responseMsg{turn: turn, err: err}
	}
}

func (m Model) runCommand(text string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/server":
		if arg == "" {
			m.lines = append(m.lines, line{kind: lineNotice, content: "server: " + m.shell.Endpoint()})
			break
		}
		if err := m.shell.SetEndpoint(arg); err != nil {
			m.lines = append(m.lines, line{kind: lineError, content: err.Error()})
			break
		}
		m.lines = append(m.lines, line{kind: lineNotice, content: "server set to " + m.shell.Endpoint()})
	case "/history":
		m.lines = append(m.lines, line{kind: lineNotice,
			content: fmt.Sprintf("%d messages in session %s", len(m.shell.History()), m.shell.SessionID())})
	case "/help":
		m.lines = append(m.lines, line{kind: lineNotice,
			content: "/server [url]  show or change the agent server\n/history       count messages in this session\n/quit          leave"})
	default:
		m.lines = append(m.lines, line{kind: lineError, content: fmt.Sprintf("unknown command %s (try /help)", name)})
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf("SQL Agent Chat  %s  session %s  (Ctrl+C to quit, /help)",
		m.shell.Endpoint(), shortID(m.shell.SessionID()))
	b.WriteString(dimStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n\n")

	for _, l := range m.lines {
		switch l.kind {
		case lineUser:
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(l.content)
		case lineAssistant:
			b.WriteString(assistantStyle.Render("Agent: "))
			b.WriteString(l.content)
		case lineError:
			b.WriteString(errorStyle.Render("Error: "))
			b.WriteString(l.content)
		case lineNotice:
			b.WriteString(noticeStyle.Render(l.content))
		}
		b.WriteString("\n\n")
	}

	if m.waiting {
		b.WriteString(dimStyle.Render("Thinking..."))
		if m.progress != "" {
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(m.progress))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	prompt := inputStyle.Render("> " + m.input)
	if !m.waiting {
		prompt += dimStyle.Render("█")
	}
	b.WriteString(prompt)

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run starts the chat program. progress may be nil when the client has no
// observer attached. A turn still running when the program exits is canceled.
func Run(ctx context.Context, shell *chat.Shell, progress *Progress) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(ctx, shell), tea.WithAltScreen(), tea.WithContext(ctx))
	if progress != nil {
		progress.program.Store(p)
		defer progress.program.Store(nil)
	}
	_, err := p.Run()
	return err
}

// PromptURL asks for the agent server URL, starting from current.
func PromptURL(current string) (string, error) {
	value := current
	err := huh.NewInput().
		Title("Agent server URL").
		Description("The A2A endpoint tasks are sent to.").
		Placeholder("http://localhost:10002/").
		Value(&value).
		Validate(config.ValidateURL).
		Run()
	if err != nil {
		return "", fmt.Errorf("reading server url: %w", err)
	}
	return strings.TrimSpace(value), nil
}
