// internal/tui/console.go
// Package tui implements the interactive tool console.
package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/mcpdispatch/internal/dispatch"
	"github.com/mwiater/mcpdispatch/internal/tools"
	"github.com/mwiater/mcpdispatch/internal/util"
)

// Caller runs one tool call. *dispatch.Dispatcher satisfies it.
type Caller interface {
	Dispatch(ctx context.Context, name string, args json.RawMessage) dispatch.Result
}

// entry is one finished call in the console history.
type entry struct {
	input   string
	output  string
	kind    dispatch.Kind
	elapsed time.Duration
	local   bool
}

// callResultMsg carries a finished call back into Update.
type callResultMsg struct{ entry entry }

// tickMsg drives the elapsed-time display while a call runs.
type tickMsg time.Time

// model is the Bubble Tea model for the console.
type model struct {
	ctx              context.Context
	caller           Caller
	tools            []tools.Descriptor
	input            textinput.Model
	viewport         viewport.Model
	spinner          spinner.Model
	history          []entry
	isLoading        bool
	pending          string
	err              error
	width, height    int
	requestStartTime time.Time
}

// initialModel creates and initializes a new model with default values.
func initialModel(ctx context.Context, caller Caller, descs []tools.Descriptor) *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = `echo {"message": "hello"}`
	ti.Prompt = "Call: "
	ti.Focus()

	// typing goes to the input, so only paging keys scroll the history
	vp := viewport.New(100, 5)
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}

	return &model{
		ctx:      ctx,
		caller:   caller,
		tools:    descs,
		input:    ti,
		viewport: vp,
		spinner:  s,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// callToolCmd runs the call off the UI goroutine.
func callToolCmd(ctx context.Context, caller Caller, input, name string, args json.RawMessage) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		res := caller.Dispatch(ctx, name, args)
		e := entry{input: input, elapsed: time.Since(start)}
		if res.OK() {
			body, err := json.MarshalIndent(res.Value, "", "  ")
			if err != nil {
				body = []byte(fmt.Sprintf("%v", res.Value))
			}
			e.output = string(body)
		} else {
			e.kind = res.Err.Kind
			e.output = res.Err.Message
		}
		return callResultMsg{entry: e}
	}
}

// parseInput splits "tool {json}" into a tool name and its arguments. Missing
// arguments default to an empty object.
func parseInput(line string) (string, json.RawMessage, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, errors.New("enter a tool name")
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return name, json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(rest)) {
		return "", nil, fmt.Errorf("arguments for %s are not valid JSON", name)
	}
	return name, json.RawMessage(rest), nil
}

// completeToolName returns the single tool name starting with prefix, if any.
func completeToolName(prefix string, descs []tools.Descriptor) (string, bool) {
	if prefix == "" || strings.Contains(prefix, " ") {
		return "", false
	}
	match := ""
	for _, d := range descs {
		if strings.HasPrefix(d.Name, prefix) {
			if match != "" {
				return "", false
			}
			match = d.Name
		}
	}
	return match, match != ""
}

func (m *model) toolListing() string {
	var b strings.Builder
	for _, d := range m.tools {
		fmt.Fprintf(&b, "%-24s %s\n", d.Name, util.Truncate(d.Description, 60))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Init initializes the Bubble Tea model.
func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

// Update is the central update function for the Bubble Tea model.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if name, ok := completeToolName(m.input.Value(), m.tools); ok {
				m.input.SetValue(name + " ")
				m.input.CursorEnd()
			}
			return m, nil
		case "enter":
			if m.isLoading {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.err = nil
			if line == "help" || line == "tools" {
				m.history = append(m.history, entry{input: line, output: m.toolListing(), local: true})
				m.input.Reset()
				m.refreshHistory()
				return m, nil
			}
			name, args, err := parseInput(line)
			if err != nil {
				m.err = err
				return m, nil
			}
			m.input.Reset()
			m.isLoading = true
			m.pending = name
			m.requestStartTime = time.Now()
			return m, tea.Batch(m.spinner.Tick, callToolCmd(m.ctx, m.caller, line, name, args), tickCmd())
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - len(m.input.Prompt) - 2
		headerHeight := 2
		footerHeight := 3
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight, 1)
		m.refreshHistory()

	case callResultMsg:
		m.isLoading = false
		m.pending = ""
		m.history = append(m.history, msg.entry)
		m.refreshHistory()
		return m, nil

	case tickMsg:
		if m.isLoading {
			return m, tickCmd()
		}
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	if m.isLoading {
		m.spinner, cmd = m.spinner.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// refreshHistory renders the history into the viewport and scrolls to the end.
func (m *model) refreshHistory() {
	promptStyle := lipgloss.NewStyle().Bold(true)
	metaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	width := max(m.width-2, 20)

	var b strings.Builder
	for _, e := range m.history {
		b.WriteString(promptStyle.Render("> "+util.Truncate(e.input, width)) + "\n")
		if !e.local {
			b.WriteString(renderOutcomeBadge(e.kind) + metaStyle.Render(fmt.Sprintf(" %s", e.elapsed.Round(time.Millisecond))) + "\n")
		}
		b.WriteString(util.TruncateLines(e.output, width) + "\n\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// View renders the console.
func (m *model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var builder strings.Builder
	headerStyle := lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230")).Padding(0, 1)
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render(" (enter to call, tab to complete, 'tools' to list, esc to quit)")
	builder.WriteString(headerStyle.Render("mcpdispatch console") + renderToolsBadge(len(m.tools)) + help + "\n\n")

	builder.WriteString(m.viewport.View())

	if m.isLoading {
		timer := fmt.Sprintf("%.1f", time.Since(m.requestStartTime).Seconds())
		builder.WriteString(fmt.Sprintf("\n%s Calling %s... %ss", m.spinner.View(), m.pending, timer))
	} else {
		builder.WriteString("\n" + m.input.View())
	}
	if m.err != nil {
		errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
		builder.WriteString("\n" + errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	return builder.String()
}

// StartConsole runs the console until the user quits or ctx is cancelled.
func StartConsole(ctx context.Context, caller Caller, descs []tools.Descriptor) error {
	m := initialModel(ctx, caller, descs)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}
