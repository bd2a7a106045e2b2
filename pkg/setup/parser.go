package setup

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	workDir      string
	steps        []*Step
	stepNames    map[string]bool
	initPhase    bool
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		case StarlarkPath:
			result = append(result, string(value))
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

// processCmdParts turns an argv tuple into a shell call. Leading KEY=value items become
// assignments for that call.
func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}

		envVars = append(envVars, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	argCount := len(parts) - len(envVars)
	if argCount < 1 {
		return nil, eris.New("command is empty")
	}

	cmd.Args = make([]*syntax.Word, argCount)
	for a, arg := range parts[len(envVars):] {
		var encodedValue string

		switch value := arg.(type) {
		case starlark.String:
			encodedValue = value.GoString()
		case StarlarkPath:
			encodedValue = string(value)

			if filepath.IsAbs(encodedValue) && base != "" {
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil && !strings.HasPrefix(relValue, "..") {
					encodedValue = relValue
				}
			}
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		var wordPart syntax.WordPart

		if encodedValue == "" || strings.ContainsAny(encodedValue, " \t\n$'\"`\\|&;<>()*?[]#~{}") {
			node := new(syntax.SglQuoted)
			node.Value = encodedValue
			if strings.Contains(encodedValue, "'") {
				node.Dollar = true
				node.Value = strings.ReplaceAll(strings.ReplaceAll(encodedValue, `\`, `\\`), "'", `\'`)
			}

			wordPart = node
		} else {
			node := new(syntax.Lit)
			node.Value = encodedValue

			wordPart = node
		}

		cmd.Args[a] = new(syntax.Word)
		cmd.Args[a].Parts = []syntax.WordPart{wordPart}
	}

	return cmd, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func download(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var markExec *starlark.List
	spec := new(FetchSpec)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "url", &spec.URL, "sha256", &spec.Sha256, "dest", &spec.Dest,
		"strip?", &spec.Strip, "mark_exec?", &markExec)
	if err != nil {
		return nil, err
	}

	if spec.Sha256 == "" {
		return nil, eris.Errorf("download of %s doesn't have a checksum", spec.URL)
	}

	if spec.Strip < 0 {
		return nil, eris.Errorf("strip must not be negative, got %d", spec.Strip)
	}

	spec.Dest = normalizePath(getCtx(thread), spec.Dest)
	spec.MarkExec, err = starlarkIterable2stringSlice(markExec, "mark_exec")
	if err != nil {
		return nil, err
	}

	return spec, nil
}

func note(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "msg", &msg)
	if err != nil {
		return nil, err
	}

	return starNote(msg), nil
}

func step(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps *starlark.List
	var skipIfExists *starlark.List
	var requires *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List
	var probe starlark.Value

	step := new(Step)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short?", &step.Short, "hidden?", &step.Hidden,
		"desc?", &step.Desc, "deps?", &deps, "base?", &step.Base, "skip_if_exists?", &skipIfExists,
		"requires?", &requires, "probe?", &probe, "env?", &env, "cmds?", &cmds, "success?", &step.Success)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.New("steps can only be declared inside configure()")
	}

	if step.Short == "" {
		step.Hidden = true
		step.Short = "auto#" + nanoid.New()
	}

	if step.Short == "configure" {
		return nil, eris.New(`the step name "configure" is reserved, please use a different name`)
	}

	if ctx.stepNames[step.Short] {
		return nil, eris.Errorf("step %s has already been declared", step.Short)
	}
	ctx.stepNames[step.Short] = true

	step.Env = map[string]string{}

	if step.Base == "" {
		step.Base = "//"
	}
	step.Base = normalizePath(ctx, step.Base)

	step.Deps, err = starlarkIterable2stringSlice(deps, "deps")
	if err != nil {
		return nil, err
	}

	step.SkipIfExists, err = starlarkIterable2stringSlice(skipIfExists, "skip_if_exists")
	if err != nil {
		return nil, err
	}

	step.Requires, err = starlarkIterable2stringSlice(requires, "requires")
	if err != nil {
		return nil, err
	}

	for _, req := range step.Requires {
		if _, err := ParseRequirement(req); err != nil {
			return nil, err
		}
	}

	switch value := probe.(type) {
	case nil, starlark.NoneType:
	case starlark.String:
		step.Probe = value.GoString()
	case starlark.Bool:
		if value {
			step.Probe = DefaultProbe
		}
	default:
		return nil, eris.Errorf("probe must be a URL or a bool but got %s", probe.Type())
	}

	if env != nil {
		for _, rawKey := range env.Keys() {
			var key string

			switch value := rawKey.(type) {
			case starlark.String:
				key = value.GoString()
			default:
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", rawKey.Type())
			}

			rawValue, _, err := env.Get(rawKey)
			if err != nil {
				return nil, err
			}
			switch value := rawValue.(type) {
			case starlark.String:
				step.Env[key] = value.GoString()
			case StarlarkPath:
				step.Env[key] = string(value)
			default:
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", rawValue.Type(), key)
			}
		}
	}

	step.Cmds = make([]StepCmd, 0)
	if cmds != nil {
		step.Cmds, err = processCmds(fn, step, cmds)
		if err != nil {
			return nil, err
		}
	}

	ctx.steps = append(ctx.steps, step)
	return step, nil
}

func processCmds(fn *starlark.Builtin, step *Step, cmds *starlark.List) ([]StepCmd, error) {
	result := make([]StepCmd, 0, cmds.Len())
	strBuffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()

	argvToScript := func(idx int, parts starlark.Tuple) (StepCmd, error) {
		cmd, err := processCmdParts(parts, parser, step.Base)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d", idx)
		}

		strBuffer.Reset()
		err = printer.Print(&strBuffer, cmd)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d", idx)
		}

		return StepCmdScript{StepName: step.Short, Content: strBuffer.String(), Index: idx}, nil
	}

	iter := cmds.Iterate()
	defer iter.Done()

	var item starlark.Value
	idx := 0
	for iter.Next(&item) {
		var cmd StepCmd
		var err error

		switch value := item.(type) {
		case starlark.String:
			script := StepCmdScript{StepName: step.Short, Content: value.GoString(), Index: idx}
			// reject syntax errors while the plan is loaded instead of halfway through a run
			if _, err = script.ToShellStmts(parser); err != nil {
				return nil, err
			}
			cmd = script
		case starlark.Tuple:
			cmd, err = argvToScript(idx, value)
		case *starlark.List:
			parts := make(starlark.Tuple, value.Len())
			for subIdx := 0; subIdx < value.Len(); subIdx++ {
				parts[subIdx] = value.Index(subIdx)
			}

			cmd, err = argvToScript(idx, parts)
		case *Step:
			cmd = StepCmdStepRef{Step: value}
		case *FetchSpec:
			cmd = StepCmdFetch{Spec: value}
		case starNote:
			cmd = StepCmdNote{Message: string(value)}
		default:
			return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists, steps, notes and downloads are valid", fn.Name(), item.Type())
		}

		if err != nil {
			return nil, err
		}

		result = append(result, cmd)
		idx++
	}

	return result, nil
}

// RunScript executes a plan script and returns the declared options and steps. If src is nil,
// the script is read from filename. Relative paths inside the script resolve against the
// script's directory, paths starting with // against workDir.
func RunScript(ctx context.Context, filename string, src []byte, workDir string, options map[string]string) (*Plan, error) {
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	if src == nil {
		src, err = ioutil.ReadFile(filename)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read file %s", filename)
		}
	}

	if options == nil {
		options = map[string]string{}
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"which":        starlark.NewBuiltin("which", starWhich),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"download":     starlark.NewBuiltin("download", download),
		"note":         starlark.NewBuiltin("note", note),
		"step":         starlark.NewBuiltin("step", step),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		workDir:      workDir,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		steps:        make([]*Step, 0),
		stepNames:    make(map[string]bool),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	displayName := simplifyPath(&threadCtx, filename)
	globals, err := starlark.ExecFile(thread, displayName, src, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", displayName, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", displayName)
	}

	for name := range options {
		if _, ok := threadCtx.options[name]; !ok {
			return nil, eris.Errorf("%s does not declare an option named %s", displayName, name)
		}
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, eris.Errorf("%s did not declare a configure function", displayName)
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s did declare a configure value but it's not a function", displayName)
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, starlark.Tuple{}, nil)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.New(evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed configure call in %s", displayName)
	}

	plan := &Plan{
		Steps:   StepList{},
		Order:   make([]string, 0, len(threadCtx.steps)),
		Options: threadCtx.options,
		WorkDir: workDir,
	}
	for _, step := range threadCtx.steps {
		plan.Steps[step.Short] = step
		if !step.Hidden {
			plan.Order = append(plan.Order, step.Short)
		}

		for name, value := range threadCtx.envOverrides {
			_, present := step.Env[name]
			if !present {
				step.Env[name] = value
			}
		}
	}

	for _, step := range plan.Steps {
		for _, dep := range step.Deps {
			if _, ok := plan.Steps[dep]; !ok {
				return nil, eris.Wrapf(ErrStepNotFound, "step %s depends on unknown step %s", step.Short, dep)
			}
		}
	}

	return plan, nil
}
