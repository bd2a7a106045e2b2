package pkg

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUpwards(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, "a", "setup.star"), nil, 0644))

	found, err := FindUpwards(nested, "setup.star")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "setup.star"), found)

	_, err = FindUpwards(nested, "does-not-exist.star")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestPrintHelpers(t *testing.T) {
	buf := &bytes.Buffer{}
	PrintSuccess(buf, "Setup complete!")
	PrintBanner(buf, "A.S.S. - Arch Setup Script")

	assert.Contains(t, buf.String(), "✓")
	assert.Contains(t, buf.String(), "Setup complete!")
	assert.Contains(t, buf.String(), "A.S.S. - Arch Setup Script")
}
