package setup

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"
)

var (
	// ErrAborted is returned when the user declines to continue after a failed check
	ErrAborted = eris.New("aborted by user")
	// ErrStepNotFound is returned when a step name can't be resolved
	ErrStepNotFound = eris.New("step not found")
	// ErrMissingRequirement is returned when a program listed in requires is unavailable
	ErrMissingRequirement = eris.New("missing requirement")
)

// StepCmd is a single entry in a step's cmds list
type StepCmd interface {
	// String returns the command as it is shown in dry runs and logs
	String() string
}

// StepCmdScript is a shell snippet
type StepCmdScript struct {
	StepName string
	Content  string
	Index    int
}

func (s StepCmdScript) String() string {
	return s.Content
}

// ToShellStmts parses the snippet into shell statements
func (s StepCmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	reader := strings.NewReader(s.Content)
	result, err := parser.Parse(reader, fmt.Sprintf("%s:%d", s.StepName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// StepCmdStepRef runs another step inline
type StepCmdStepRef struct {
	Step *Step
}

func (t StepCmdStepRef) String() string {
	return "step " + t.Step.Short
}

// StepCmdNote is a progress message that is logged in verbose mode when the run reaches it
type StepCmdNote struct {
	Message string
}

func (n StepCmdNote) String() string {
	return "note: " + n.Message
}

// StepCmdFetch downloads and unpacks an archive
type StepCmdFetch struct {
	Spec *FetchSpec
}

func (f StepCmdFetch) String() string {
	return fmt.Sprintf("download %s -> %s", f.Spec.URL, f.Spec.Dest)
}

// Step contains the processed values passed to step() by the plan script
type Step struct {
	Env          map[string]string
	Short        string
	Desc         string
	Base         string
	Deps         []string
	SkipIfExists []string
	Requires     []string
	Probe        string
	Cmds         []StepCmd
	Hidden       bool
	// Success is logged once the step's commands finished
	Success      string
}

// StepList maps short names to each relevant step
type StepList map[string]*Step

// Plan is the result of evaluating a plan script
type Plan struct {
	Steps   StepList
	Order   []string
	Options map[string]ScriptOption
	// WorkDir is the directory paths starting with // resolve against
	WorkDir string
}

// Lookup returns the step with the given name
func (p *Plan) Lookup(name string) (*Step, error) {
	step, ok := p.Steps[name]
	if !ok {
		return nil, eris.Wrapf(ErrStepNotFound, "step %s", name)
	}

	return step, nil
}

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// Implement starlark.Value for *Step

// String returns a string representation of the step
func (t *Step) String() string {
	return fmt.Sprintf("<Step %s: %s>", t.Short, t.Desc)
}

// Type always returns "step" to indicate this type
func (t *Step) Type() string {
	return "step"
}

// Freeze doesn't do anything since steps are immutable anyway
func (t *Step) Freeze() {}

// Truth always returns true since a step can't be nil or None
func (t *Step) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since step is not hashable
func (t *Step) Hash() (uint32, error) {
	return 0, eris.New("step is not a hashable type")
}

// FetchSpec is the value returned by download()
type FetchSpec struct {
	URL      string
	Sha256   string
	Dest     string
	Strip    int
	MarkExec []string
}

func (f *FetchSpec) String() string {
	return fmt.Sprintf("<Download %s>", f.URL)
}

func (f *FetchSpec) Type() string {
	return "download"
}

func (f *FetchSpec) Freeze() {}

func (f *FetchSpec) Truth() starlark.Bool {
	return starlark.True
}

func (f *FetchSpec) Hash() (uint32, error) {
	return starlark.String(f.URL + "#" + f.Sha256).Hash()
}

// starNote is the value returned by note()
type starNote string

func (n starNote) String() string {
	return starlark.String(n).String()
}

func (n starNote) Type() string {
	return "note"
}

func (n starNote) Freeze() {}

func (n starNote) Truth() starlark.Bool {
	return n != ""
}

func (n starNote) Hash() (uint32, error) {
	return starlark.String(n).Hash()
}

type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

func (p StarlarkPath) Index(i int) starlark.Value {
	return starlark.String(p[i])
}

func (p StarlarkPath) Len() int {
	return len(p)
}

func (p StarlarkPath) Slice(start, end, step int) starlark.Value {
	return starlark.String(p).Slice(start, end, step)
}
