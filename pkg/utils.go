package pkg

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by FindUpwards if no directory contains the file
var ErrNotFound = eris.New("file not found")

// FindUpwards looks for name in dir and each of its parents and returns the first match
func FindUpwards(dir, name string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve %s", dir)
	}

	for {
		candidate := filepath.Join(dir, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "Error ocurred while searching for %s", name)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", eris.Wrapf(ErrNotFound, "%s", name)
}

func PrintBanner(w io.Writer, msg string) {
	colorstring.Fprintf(w, "[bold]%s[reset]\n", msg)
}

func PrintTask(w io.Writer, msg string) {
	colorstring.Fprintf(w, "[blue][bold]==>[reset] %s\n", msg)
}

func PrintSuccess(w io.Writer, msg string) {
	colorstring.Fprintf(w, "[green][bold]✓[reset] %s\n", msg)
}

func PrintError(w io.Writer, msg string) {
	colorstring.Fprintf(w, "[red][bold]  ->[reset] %s\n", msg)
}
