// Package prompt asks the user yes/no questions. Terminals get a small bubbletea prompt, piped
// input is read line by line.
package prompt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true)
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// ParseAnswer interprets a typed answer. An empty answer selects the default, "n" and "no"
// decline and anything else accepts.
func ParseAnswer(input string, defaultYes bool) bool {
	input = strings.ToLower(strings.TrimSpace(input))
	switch input {
	case "":
		return defaultYes
	case "n", "no":
		return false
	default:
		return true
	}
}

func hint(defaultYes bool) string {
	if defaultYes {
		return "[Y/n]"
	}
	return "[y/N]"
}

// Prompter implements setup.Confirmer
type Prompter struct {
	In  io.Reader
	Out io.Writer
}

// New returns a Prompter reading from stdin and writing to stdout
func New() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) interactive() bool {
	f, ok := p.In.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// Confirm asks question and waits for an answer
func (p *Prompter) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	if !p.interactive() {
		return p.confirmLine(question, defaultYes)
	}

	program := tea.NewProgram(newModel(question, defaultYes),
		tea.WithContext(ctx),
		tea.WithInput(p.In),
		tea.WithOutput(p.Out),
	)

	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, eris.Wrap(err, "prompt failed")
	}

	return final.(model).answer, nil
}

func (p *Prompter) confirmLine(question string, defaultYes bool) (bool, error) {
	_, err := fmt.Fprintf(p.Out, "%s %s: ", question, hint(defaultYes))
	if err != nil {
		return false, eris.Wrap(err, "failed to write prompt")
	}

	line, err := readLine(p.In)
	if err != nil && err != io.EOF {
		return false, eris.Wrap(err, "failed to read answer")
	}

	if err == io.EOF {
		fmt.Fprintln(p.Out)
	}

	return ParseAnswer(line, defaultYes), nil
}

// readLine reads up to and including the next newline one byte at a time. Anything after the
// newline stays in r for the commands that run after the prompt.
func readLine(r io.Reader) (string, error) {
	var line strings.Builder
	buf := make([]byte, 1)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			line.WriteByte(buf[0])
			if buf[0] == '\n' {
				return line.String(), nil
			}
		}

		if err != nil {
			return line.String(), err
		}
	}
}

type model struct {
	question   string
	defaultYes bool
	input      []rune
	done       bool
	answer     bool
}

func newModel(question string, defaultYes bool) model {
	return model{
		question:   question,
		defaultYes: defaultYes,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.Type {
	case tea.KeyEnter:
		m.answer = ParseAnswer(string(m.input), m.defaultYes)
		m.done = true
		return m, tea.Quit
	case tea.KeyCtrlC, tea.KeyEsc:
		m.answer = false
		m.done = true
		return m, tea.Quit
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeySpace:
		m.input = append(m.input, ' ')
	case tea.KeyRunes:
		m.input = append(m.input, keyMsg.Runes...)
	}

	return m, nil
}

func (m model) View() string {
	prefix := questionStyle.Render(m.question) + " " + hintStyle.Render(hint(m.defaultYes)) + ": "
	if m.done {
		answer := "no"
		if m.answer {
			answer = "yes"
		}
		return prefix + answerStyle.Render(answer) + "\n"
	}

	return prefix + string(m.input)
}
