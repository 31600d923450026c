package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	chainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	responseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const scrollback = 200

type consoleState int

const (
	stateSelectChain consoleState = iota
	statePrompt
)

type consoleModel struct {
	ctx      context.Context
	chains   []namedChain
	selected int
	state    consoleState
	input    textinput.Model
	lines    []string
	err      error
}

type responseMsg struct {
	chain    string
	response string
	err      error
}

func newConsoleModel(ctx context.Context, chains []namedChain) *consoleModel {
	ti := textinput.New()
	ti.Placeholder = `{"jsonrpc":"2.0","id":1,"method":"system_name","params":[]}`
	ti.Prompt = "> "
	ti.Width = 100
	ti.Focus()

	state := stateSelectChain
	if len(chains) == 1 {
		state = statePrompt
	}
	return &consoleModel{
		ctx:    ctx,
		chains: chains,
		state:  state,
		input:  ti,
	}
}

// listen pulls the next response of one chain; Update re-arms it after
// every delivery, so the console streams responses indefinitely.
func (m *consoleModel) listen(nc namedChain) tea.Cmd {
	return func() tea.Msg {
		response, err := nc.chain.NextJSONRPCResponse(m.ctx)
		return responseMsg{chain: nc.name, response: response, err: err}
	}
}

func (m *consoleModel) Init() tea.Cmd {
	cmds := make([]tea.Cmd, len(m.chains))
	for i, nc := range m.chains {
		cmds[i] = m.listen(nc)
	}
	return tea.Batch(cmds...)
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectChain && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectChain && m.selected < len(m.chains)-1 {
				m.selected++
			}

		case "esc":
			if m.state == statePrompt && len(m.chains) > 1 {
				m.state = stateSelectChain
			}

		case "enter":
			switch m.state {
			case stateSelectChain:
				m.state = statePrompt
			case statePrompt:
				request := strings.TrimSpace(m.input.Value())
				if request == "" {
					break
				}
				m.input.SetValue("")
				nc := m.chains[m.selected]
				if err := nc.chain.SendJSONRPC(request); err != nil {
					m.appendLine(errorStyle.Render(fmt.Sprintf("%s: %v", nc.name, err)))
				} else {
					m.appendLine(helpStyle.Render(nc.name + " <- " + request))
				}
			}
		}

	case responseMsg:
		if msg.err != nil {
			m.err = msg.err
			m.appendLine(errorStyle.Render(fmt.Sprintf("%s: %v", msg.chain, msg.err)))
			return m, nil
		}
		m.appendLine(chainStyle.Render(msg.chain+" -> ") + responseStyle.Render(msg.response))
		for _, nc := range m.chains {
			if nc.name == msg.chain {
				return m, m.listen(nc)
			}
		}
	}

	if m.state == statePrompt {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *consoleModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > scrollback {
		m.lines = m.lines[len(m.lines)-scrollback:]
	}
}

func (m *consoleModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("JSON-RPC Console"))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectChain:
		b.WriteString("Select a chain:\n\n")
		for i, nc := range m.chains {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + nc.name))
			} else {
				b.WriteString(cursor + chainStyle.Render(nc.name))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter confirm • ctrl+c quit"))

	case statePrompt:
		for _, line := range m.lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(chainStyle.Render(m.chains[m.selected].name))
		b.WriteString(" ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		help := "enter send • ctrl+c quit"
		if len(m.chains) > 1 {
			help = "enter send • esc switch chain • ctrl+c quit"
		}
		b.WriteString(helpStyle.Render(help))
	}

	return b.String()
}

func runInteractive(ctx context.Context, chains []namedChain) error {
	if len(chains) == 0 {
		return fmt.Errorf("interactive mode needs at least one chain with JSON-RPC enabled")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newConsoleModel(ctx, chains), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
