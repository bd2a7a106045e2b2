package setup

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()

	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)
	return WithLogger(context.Background(), &logger), buf
}

func loadTestPlan(t *testing.T, src string, options map[string]string) (*Plan, error) {
	t.Helper()

	ctx, _ := testContext(t)
	dir := t.TempDir()
	return RunScript(ctx, filepath.Join(dir, "setup.star"), []byte(src), dir, options)
}

func TestRunScriptOrder(t *testing.T) {
	plan, err := loadTestPlan(t, `
def configure():
    step(short = "b", desc = "second")
    helper = step(cmds = ["true"])
    step(short = "a", desc = "first", deps = ["b"], cmds = [helper])
    step(short = "internal", hidden = True)
`, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, plan.Order)
	assert.Len(t, plan.Steps, 4)
	assert.Contains(t, plan.Steps, "internal")
	assert.True(t, plan.Steps["internal"].Hidden)

	ref, ok := plan.Steps["a"].Cmds[0].(StepCmdStepRef)
	require.True(t, ok)
	assert.True(t, ref.Step.Hidden)
	assert.Regexp(t, `^auto#[A-Za-z0-9_-]{21}$`, ref.Step.Short)
	assert.Same(t, ref.Step, plan.Steps[ref.Step.Short])
	assert.NotContains(t, plan.Order, ref.Step.Short)
}

func TestRunScriptAnonymousStepsAreUnique(t *testing.T) {
	plan, err := loadTestPlan(t, `
def configure():
    first = step(cmds = ["true"])
    second = step(cmds = ["true"])
    step(short = "both", cmds = [first, second])
`, nil)
	require.NoError(t, err)

	cmds := plan.Steps["both"].Cmds
	require.Len(t, cmds, 2)
	first := cmds[0].(StepCmdStepRef).Step.Short
	second := cmds[1].(StepCmdStepRef).Step.Short
	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{"both"}, plan.Order)
}

func TestRunScriptNotesAndSuccess(t *testing.T) {
	plan, err := loadTestPlan(t, `
def configure():
    step(short = "a", cmds = [note("Cloning..."), "true"], success = "done")
`, nil)
	require.NoError(t, err)

	step := plan.Steps["a"]
	require.Len(t, step.Cmds, 2)
	assert.Equal(t, StepCmdNote{Message: "Cloning..."}, step.Cmds[0])
	assert.Equal(t, "done", step.Success)
}

func TestRunScriptOptions(t *testing.T) {
	src := `
pkgs = option("packages", "git vim", help = "Packages to install")

def configure():
    step(short = "install", cmds = ["pacman -S " + pkgs])
`

	t.Run("default", func(t *testing.T) {
		plan, err := loadTestPlan(t, src, nil)
		require.NoError(t, err)

		require.Contains(t, plan.Options, "packages")
		assert.Equal(t, "git vim", plan.Options["packages"].Default())
		assert.Equal(t, "Packages to install", plan.Options["packages"].Help)
		assert.Equal(t, "pacman -S git vim", plan.Steps["install"].Cmds[0].String())
	})

	t.Run("override", func(t *testing.T) {
		plan, err := loadTestPlan(t, src, map[string]string{"packages": "htop"})
		require.NoError(t, err)
		assert.Equal(t, "pacman -S htop", plan.Steps["install"].Cmds[0].String())
	})

	t.Run("unknown option", func(t *testing.T) {
		_, err := loadTestPlan(t, src, map[string]string{"colour": "blue"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "option named colour")
	})
}

func TestRunScriptArgvCommands(t *testing.T) {
	plan, err := loadTestPlan(t, `
def configure():
    step(short = "clone", cmds = [
        ("git", "clone", "https://aur.archlinux.org/paru.git", "paru"),
        ["echo", "two words", "it's"],
        ("LANG=C", "make"),
    ])
`, nil)
	require.NoError(t, err)

	cmds := plan.Steps["clone"].Cmds
	require.Len(t, cmds, 3)
	assert.Equal(t, "git clone https://aur.archlinux.org/paru.git paru", cmds[0].String())
	assert.Equal(t, `echo 'two words' $'it\'s'`, cmds[1].String())
	assert.Equal(t, "LANG=C make", cmds[2].String())
}

func TestRunScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{
			name: "missing configure",
			src:  `x = 1`,
			msg:  "did not declare a configure function",
		},
		{
			name: "reserved name",
			src: `
def configure():
    step(short = "configure")
`,
			msg: "reserved",
		},
		{
			name: "duplicate name",
			src: `
def configure():
    step(short = "a")
    step(short = "a")
`,
			msg: "already been declared",
		},
		{
			name: "step outside configure",
			src: `
step(short = "a")

def configure():
    pass
`,
			msg: "inside configure",
		},
		{
			name: "option inside configure",
			src: `
def configure():
    option("late", "x")
`,
			msg: "init phase",
		},
		{
			name: "download without checksum",
			src: `
def configure():
    step(short = "get", cmds = [download("https://example.com/tool.tar.gz", "", "tool")])
`,
			msg: "doesn't have a checksum",
		},
		{
			name: "shell syntax error",
			src: `
def configure():
    step(short = "broken", cmds = ["echo 'unterminated"])
`,
			msg: "failed to parse command",
		},
		{
			name: "invalid requirement",
			src: `
def configure():
    step(short = "a", requires = ["git>=not.a.version"])
`,
			msg: "invalid version constraint",
		},
		{
			name: "script error",
			src: `
def configure():
    error("nope")
`,
			msg: "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTestPlan(t, tt.src, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRunScriptUnknownDependency(t *testing.T) {
	_, err := loadTestPlan(t, `
def configure():
    step(short = "a", deps = ["missing"])
`, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrStepNotFound))
}

func TestRunScriptEnv(t *testing.T) {
	plan, err := loadTestPlan(t, `
setenv("EDITOR", "vim")
prepend_path("//bin")

def configure():
    step(short = "a", env = {"EDITOR": "nano"})
    step(short = "b")
`, nil)
	require.NoError(t, err)

	assert.Equal(t, "nano", plan.Steps["a"].Env["EDITOR"])
	assert.Equal(t, "vim", plan.Steps["b"].Env["EDITOR"])
	assert.True(t, strings.HasPrefix(plan.Steps["b"].Env["PATH"], filepath.Join(plan.WorkDir, "bin")+":"))
}

func TestRunScriptReadYaml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "packages.yml"), []byte(`
base:
  - git
  - vim
aur:
  helper: paru
`), 0644))

	ctx, _ := testContext(t)
	plan, err := RunScript(ctx, filepath.Join(dir, "setup.star"), []byte(`
helper = read_yaml("packages.yml", "aur.helper")
first = read_yaml("packages.yml", "base.0")
missing = read_yaml("packages.yml", "aur.mirror", "none")

def configure():
    step(short = "show", cmds = [("echo", helper, first, missing)])
`), dir, nil)
	require.NoError(t, err)

	assert.Equal(t, "echo paru git none", plan.Steps["show"].Cmds[0].String())
}

func TestRunScriptBuiltins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "sub", "file.txt"), nil, 0644))
	t.Setenv("ASS_TEST_SET", "from env")
	os.Unsetenv("ASS_TEST_UNSET")

	ctx, _ := testContext(t)
	plan, err := RunScript(ctx, filepath.Join(dir, "setup.star"), []byte(`
checks = [
    isdir("sub"),
    isdir("sub/file.txt"),
    isfile("sub/file.txt"),
    isfile("sub"),
    isfile("missing"),
]
sh = which("sh")
missing = which("definitely-not-installed-tool")
text = execute("echo hello")
data = execute("echo '{\"name\": \"paru\", \"deps\": [\"git\"]}'", format = "json")
failed = execute("false")
rel = resolve_path("sub", "file.txt", base = "//")
full = resolve_path("sub")
unset = getenv("ASS_TEST_UNSET", "fallback")
present = getenv("ASS_TEST_SET", "fallback")

def configure():
    step(short = "out", env = {
        "CHECKS": " ".join([str(c) for c in checks]),
        "SH": sh,
        "MISSING": str(missing),
        "TEXT": text,
        "NAME": data["name"],
        "DEP": data["deps"][0],
        "FAILED": str(failed),
        "REL": rel,
        "FULL": full,
        "UNSET": unset,
        "PRESENT": present,
    })
`), dir, nil)
	require.NoError(t, err)

	env := plan.Steps["out"].Env
	assert.Equal(t, "True False True False False", env["CHECKS"])
	assert.Equal(t, "sh", filepath.Base(env["SH"]))
	assert.Equal(t, "None", env["MISSING"])
	assert.Equal(t, "hello\n", env["TEXT"])
	assert.Equal(t, "paru", env["NAME"])
	assert.Equal(t, "git", env["DEP"])
	assert.Equal(t, "False", env["FAILED"])
	assert.Equal(t, filepath.Join("sub", "file.txt"), env["REL"])
	assert.Equal(t, filepath.Join(dir, "sub"), env["FULL"])
	assert.Equal(t, "fallback", env["UNSET"])
	assert.Equal(t, "from env", env["PRESENT"])
}

func TestRunScriptBaseAndPaths(t *testing.T) {
	plan, err := loadTestPlan(t, `
def configure():
    step(short = "a", base = "//sub")
    step(short = "b")
`, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(plan.WorkDir, "sub"), plan.Steps["a"].Base)
	assert.Equal(t, plan.WorkDir, plan.Steps["b"].Base)
}
