package prompt

import (
	"bytes"
	"context"
	"io/ioutil"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"", true, true},
		{"", false, false},
		{"  \n", true, true},
		{"n", true, false},
		{"N", true, false},
		{"no", true, false},
		{" No ", true, false},
		{"y", false, true},
		{"yes", false, true},
		{"maybe", false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAnswer(tt.input, tt.defaultYes), "input %q default %v", tt.input, tt.defaultYes)
	}
}

func TestConfirmLine(t *testing.T) {
	t.Run("leaves the rest of the input unread", func(t *testing.T) {
		in := strings.NewReader("y\nhello\n")
		p := &Prompter{In: in, Out: &bytes.Buffer{}}

		ok, err := p.Confirm(context.Background(), "Continue anyway?", false)
		require.NoError(t, err)
		assert.True(t, ok)

		rest, err := ioutil.ReadAll(in)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(rest))
	})

	t.Run("answers consecutive prompts", func(t *testing.T) {
		p := &Prompter{In: strings.NewReader("y\nn\n"), Out: &bytes.Buffer{}}

		ok, err := p.Confirm(context.Background(), "First?", false)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = p.Confirm(context.Background(), "Second?", true)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("declines", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := &Prompter{In: strings.NewReader("no\n"), Out: out}

		ok, err := p.Confirm(context.Background(), "Continue anyway?", true)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "Continue anyway? [Y/n]: ", out.String())
	})

	t.Run("empty input uses default", func(t *testing.T) {
		p := &Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}

		ok, err := p.Confirm(context.Background(), "Continue anyway?", true)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = p.Confirm(context.Background(), "Really?", false)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func sendKeys(m tea.Model, msgs ...tea.Msg) (model, tea.Cmd) {
	var cmd tea.Cmd
	for _, msg := range msgs {
		m, cmd = m.Update(msg)
	}
	return m.(model), cmd
}

func TestModel(t *testing.T) {
	t.Run("typed answer", func(t *testing.T) {
		m, cmd := sendKeys(newModel("Continue anyway?", true),
			tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("nx")},
			tea.KeyMsg{Type: tea.KeyBackspace},
			tea.KeyMsg{Type: tea.KeyEnter},
		)

		require.NotNil(t, cmd)
		assert.True(t, m.done)
		assert.False(t, m.answer)
		assert.Contains(t, m.View(), "no")
	})

	t.Run("enter selects default", func(t *testing.T) {
		m, _ := sendKeys(newModel("Continue anyway?", true), tea.KeyMsg{Type: tea.KeyEnter})
		assert.True(t, m.answer)
		assert.Contains(t, m.View(), "yes")
	})

	t.Run("escape declines", func(t *testing.T) {
		m, cmd := sendKeys(newModel("Continue anyway?", true), tea.KeyMsg{Type: tea.KeyEsc})
		require.NotNil(t, cmd)
		assert.True(t, m.done)
		assert.False(t, m.answer)
	})

	t.Run("shows input while typing", func(t *testing.T) {
		m, cmd := sendKeys(newModel("Continue anyway?", false), tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ye")})
		assert.Nil(t, cmd)
		assert.False(t, m.done)
		assert.Contains(t, m.View(), "[y/N]")
		assert.True(t, strings.HasSuffix(m.View(), "ye"))
	})
}
