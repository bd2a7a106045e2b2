package setup

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirement(t *testing.T) {
	req, err := ParseRequirement("git")
	require.NoError(t, err)
	assert.Equal(t, "git", req.Program)
	assert.Nil(t, req.Constraint)

	req, err = ParseRequirement("go >= 1.16, < 2")
	require.NoError(t, err)
	assert.Equal(t, "go", req.Program)
	require.NotNil(t, req.Constraint)

	_, err = ParseRequirement(">=1.0")
	assert.Error(t, err)

	_, err = ParseRequirement("git~>banana")
	assert.Error(t, err)
}

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"git version 2.39.1\n", "2.39.1"},
		{"go version go1.16.3 linux/amd64", "1.16.3"},
		{"rustup 1.25.2 (17db695f1 2023-02-01)", "1.25.2"},
		{"paru v1.11", "1.11.0"},
	}

	for _, tt := range tests {
		version, err := ExtractVersion(tt.output)
		require.NoError(t, err, tt.output)
		assert.Equal(t, tt.want, version.String(), tt.output)
	}

	_, err := ExtractVersion("no digits here")
	assert.Error(t, err)
}

func TestLookPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "tool")
	require.NoError(t, ioutil.WriteFile(exe, []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "plain"), []byte("x"), 0644))

	found, err := lookPath("tool", "/nonexistent:"+dir)
	require.NoError(t, err)
	assert.Equal(t, exe, found)

	found, err = lookPath(exe, "")
	require.NoError(t, err)
	assert.Equal(t, exe, found)

	_, err = lookPath("plain", dir)
	assert.True(t, eris.Is(err, ErrMissingRequirement))
}
