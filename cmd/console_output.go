package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// ConsoleWriter renders zerolog's JSON events as colored, human readable lines
type ConsoleWriter struct {
	out    io.Writer
	debug  bool
	buffer strings.Builder
	lock   sync.Mutex
}

// NewConsoleWriter returns a writer for out. With debug set, every event field is dumped.
func NewConsoleWriter(out io.Writer, debug bool) *ConsoleWriter {
	return &ConsoleWriter{out: out, debug: debug}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if step, ok := evt["step"].(string); ok {
		w.buffer.WriteString(step + ": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	if dry, ok := evt["dry"].(bool); ok && dry {
		w.buffer.WriteString("[reset][DRY RUN] ")
	}

	if command, ok := evt["command"].(bool); ok && command {
		w.buffer.WriteString("[reset]$ ")
	}

	msg, _ := evt["message"].(string)
	w.buffer.WriteString(msg)

	if argv, ok := evt["argv"].([]interface{}); ok {
		parts := make([]string, len(argv))
		for idx, arg := range argv {
			parts[idx] = fmt.Sprint(arg)
		}
		w.buffer.WriteString(" " + strings.Join(parts, " "))
	}

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if w.debug {
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		w.buffer.WriteString("\n")
		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")
	_, err = colorstring.Fprint(w.out, w.buffer.String())
	if err != nil {
		return 0, err
	}

	return len(p), nil
}
