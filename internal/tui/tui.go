// Package tui asks the user for a prompt, clarification answers and
// confirmations. On a terminal it uses bubbletea widgets; otherwise it reads
// plain lines so genie stays scriptable.
package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// ErrCancelled is returned when the user aborts an interactive prompt.
var ErrCancelled = errors.New("cancelled by user")

// Prompter talks to the user. Not safe for concurrent use.
type Prompter struct {
	in          io.Reader
	out         io.Writer
	reader      *bufio.Reader
	interactive bool
	// AssumeYes answers every Confirm with yes.
	AssumeYes bool
}

// New builds a Prompter over in/out. Widgets are used only when both are
// terminals.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:          in,
		out:         out,
		reader:      bufio.NewReader(in),
		interactive: isTerminal(in) && isTerminal(out),
	}
}

// Stdio is New(os.Stdin, os.Stdout).
func Stdio() *Prompter {
	return New(os.Stdin, os.Stdout)
}

func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether widgets are used.
func (p *Prompter) Interactive() bool { return p.interactive }

// Prompt asks for a multi-line task description. Without a terminal the
// whole input is read.
func (p *Prompter) Prompt(title string) (string, error) {
	if !p.interactive {
		data, err := io.ReadAll(p.reader)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	final, err := p.run(newPromptModel(title, ""))
	if err != nil {
		return "", err
	}
	m := final.(promptModel)
	if m.cancelled {
		return "", ErrCancelled
	}
	return strings.TrimSpace(m.input.Value()), nil
}

// Ask reads a single-line answer.
func (p *Prompter) Ask(question string) (string, error) {
	if !p.interactive {
		fmt.Fprintln(p.out, question)
		return p.line()
	}

	final, err := p.run(newAskModel(question))
	if err != nil {
		return "", err
	}
	m := final.(askModel)
	if m.cancelled {
		return "", nil
	}
	return strings.TrimSpace(m.input.Value()), nil
}

// Confirm asks a yes/no question. def is used for an empty answer.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	if p.AssumeYes {
		return true, nil
	}
	if !p.interactive {
		hint := "[y/N]"
		if def {
			hint = "[Y/n]"
		}
		fmt.Fprintf(p.out, "%s %s ", question, hint)
		answer, err := p.line()
		if err != nil {
			return false, err
		}
		return parseYesNo(answer, def), nil
	}

	final, err := p.run(confirmModel{question: question, value: def})
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	if m.aborted {
		return false, ErrCancelled
	}
	return m.value, nil
}

// Answer implements the clarifier contract: an empty answer or "c" lets
// the model make its own assumptions.
func (p *Prompter) Answer(ctx context.Context, question string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	fmt.Fprintln(p.out, strings.TrimSpace(question))
	answer, err := p.Ask(`(answer in text, or "c" to move on)`)
	if err != nil {
		return "", false, err
	}
	if answer == "" || strings.EqualFold(answer, "c") {
		return "", false, nil
	}
	return answer, true, nil
}

func (p *Prompter) line() (string, error) {
	s, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if errors.Is(err, io.EOF) && s == "" {
		return "", io.EOF
	}
	return strings.TrimSpace(s), nil
}

func (p *Prompter) run(m tea.Model) (tea.Model, error) {
	prog := tea.NewProgram(m, tea.WithInput(p.in), tea.WithOutput(p.out))
	final, err := prog.Run()
	if err != nil {
		return nil, fmt.Errorf("run prompt: %w", err)
	}
	return final, nil
}

func parseYesNo(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return def
}
