package plans_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeebuscrossaint/ass/pkg/setup"
	"github.com/jeebuscrossaint/ass/pkg/setup/plans"
)

func TestDefaultPlan(t *testing.T) {
	dir := t.TempDir()
	plan, err := setup.RunScript(context.Background(), filepath.Join(dir, plans.DefaultName), plans.Default, dir, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"check-deps", "check-connection", "install-paru"}, plan.Order)
	assert.Equal(t, []string{"git"}, plan.Steps["check-deps"].Requires)
	assert.Equal(t, setup.DefaultProbe, plan.Steps["check-connection"].Probe)

	paru := plan.Steps["install-paru"]
	assert.Equal(t, []string{"check-deps", "check-connection"}, paru.Deps)
	assert.Equal(t, []string{"/usr/bin/paru"}, paru.SkipIfExists)

	cmds := make([]string, len(paru.Cmds))
	for idx, cmd := range paru.Cmds {
		cmds[idx] = cmd.String()
	}
	assert.Equal(t, []string{
		"note: Cloning paru AUR repository...",
		"git clone https://aur.archlinux.org/paru.git paru",
		"note: Installing dependencies (rustup, bat, devtools)...",
		"sudo pacman -Syyu --noconfirm rustup bat devtools",
		"note: Setting up Rust stable toolchain...",
		"rustup default stable",
		"note: Building and installing paru...",
		"cd paru && makepkg -si --noconfirm",
	}, cmds)
	assert.Equal(t, "✓ Paru installed successfully!", paru.Success)
}

func TestDefaultPlanOptions(t *testing.T) {
	dir := t.TempDir()
	plan, err := setup.RunScript(context.Background(), filepath.Join(dir, plans.DefaultName), plans.Default, dir, map[string]string{
		"packages": "neovim",
		"aur_url":  "https://aur.example.org",
	})
	require.NoError(t, err)

	assert.Equal(t, "git clone https://aur.example.org/paru.git paru", plan.Steps["install-paru"].Cmds[1].String())
	assert.Equal(t, "note: Installing dependencies (neovim)...", plan.Steps["install-paru"].Cmds[2].String())
	assert.Equal(t, "sudo pacman -Syyu --noconfirm neovim", plan.Steps["install-paru"].Cmds[3].String())
	assert.Equal(t, "rustup bat devtools", plan.Options["packages"].Default())
}
