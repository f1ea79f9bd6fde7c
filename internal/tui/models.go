package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// promptModel is a multi-line editor submitted with ctrl+d.
type promptModel struct {
	title     string
	input     textarea.Model
	submitted bool
	cancelled bool
}

func newPromptModel(title, initial string) promptModel {
	ti := textarea.New()
	ti.Placeholder = "Describe what to build..."
	ti.CharLimit = 0
	ti.SetWidth(80)
	ti.SetHeight(8)
	ti.SetValue(initial)
	ti.Focus()
	return promptModel{title: title, input: ti}
}

func (m promptModel) Init() tea.Cmd { return textarea.Blink }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "ctrl+d":
			if strings.TrimSpace(m.input.Value()) == "" {
				return m, nil
			}
			m.submitted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.input.SetWidth(max(20, msg.Width-4))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	return titleStyle.Render(m.title) + "\n" +
		focusedInputStyle.Render(m.input.View()) + "\n" +
		helpStyle.Render("ctrl+d submit • esc cancel") + "\n"
}

// askModel is a single-line answer submitted with enter.
type askModel struct {
	question  string
	input     textinput.Model
	submitted bool
	cancelled bool
}

func newAskModel(question string) askModel {
	ti := textinput.New()
	ti.Placeholder = "answer, or empty to let the model decide"
	ti.CharLimit = 2000
	ti.Width = 78
	ti.Focus()
	return askModel{question: question, input: ti}
}

func (m askModel) Init() tea.Cmd { return textinput.Blink }

func (m askModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "enter":
			m.submitted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m askModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	return m.question + "\n" + m.input.View() + "\n" + helpStyle.Render("enter submit • esc skip") + "\n"
}

// confirmModel answers a yes/no question with a single key.
type confirmModel struct {
	question string
	value    bool
	done     bool
	aborted  bool
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch strings.ToLower(key.String()) {
	case "y":
		m.value, m.done = true, true
	case "n":
		m.value, m.done = false, true
	case "enter":
		m.done = true
	case "left", "right", "tab", "h", "l":
		m.value = !m.value
	case "ctrl+c", "esc", "q":
		m.value, m.aborted = false, true
	default:
		return m, nil
	}
	if m.done || m.aborted {
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	yes, no := helpStyle.Render("yes"), helpStyle.Render("no")
	if m.value {
		yes = yesStyle.Render("[yes]")
	} else {
		no = noStyle.Render("[no]")
	}
	return m.question + "  " + yes + " / " + no + "\n"
}
