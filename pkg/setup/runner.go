package setup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Confirmer asks the user a yes/no question
type Confirmer interface {
	Confirm(ctx context.Context, question string, defaultYes bool) (bool, error)
}

// RunOptions controls how RunSteps executes a plan
type RunOptions struct {
	// DryRun only logs what would be done
	DryRun bool
	// Force ignores completion stamps and skip_if_exists for the requested steps
	Force bool
	// AssumeYes answers every confirmation with yes
	AssumeYes bool
	// Progress shows progress bars for downloads
	Progress bool
	// ProbeURL replaces DefaultProbeURL for steps declared with probe = True
	ProbeURL string

	Stamps  *Stamps
	Confirm Confirmer
	Prober  Prober

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runSteps map[string]bool
		plan     *Plan
		opts     RunOptions
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func getStepEnv(step *Step) expand.Environ {
	return expand.ListEnviron(mergeEnv(os.Environ(), step.Env)...)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 1 && args[0] == "sudo" && os.Geteuid() == 0 {
		// fresh installs often lack sudo and we don't need it as root anyway
		args = args[1:]
	}

	log(ctx).Debug().Strs("argv", args).Msg("exec")
	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	parserCtx := &parserCtx{
		filepath: "invalid",
		workDir:  getRuntimeCtx(ctx).plan.WorkDir,
	}

	for _, item := range patterns {
		item = normalizePath(parserCtx, base, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// RunSteps executes the named steps and their dependencies. Without names, every visible step
// runs in declaration order.
func RunSteps(ctx context.Context, plan *Plan, names []string, opts RunOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Prober == nil {
		opts.Prober = NewHTTPProber(0)
	}

	rctx := runtimeCtx{
		plan:     plan,
		opts:     opts,
		runSteps: make(map[string]bool),
	}
	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)

	if len(names) == 0 {
		names = plan.Order
	}

	for _, name := range names {
		step, err := plan.Lookup(name)
		if err != nil {
			return err
		}

		err = runStepInternal(ctx, step, opts.Force)
		if err != nil {
			return err
		}
	}

	return nil
}

func runStepInternal(ctx context.Context, step *Step, force bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	opts := rctx.opts
	status, ok := rctx.runSteps[step.Short]
	if ok {
		if status {
			log(ctx).Debug().Str("step", step.Short).Msg("already run")
			return nil
		}

		return eris.Errorf("step %s was called recursively", step.Short)
	}

	rctx.runSteps[step.Short] = false

	for _, dep := range step.Deps {
		depStep, err := rctx.plan.Lookup(dep)
		if err != nil {
			return err
		}

		err = runStepInternal(ctx, depStep, false)
		if err != nil {
			return eris.Wrapf(err, "step %s failed due to its dependency %s", step.Short, dep)
		}
	}

	if step.Desc != "" {
		log(ctx).Info().Str("step", step.Short).Msg(step.Desc)
	}

	fingerprint := step.Fingerprint()
	if !force && opts.Stamps != nil && len(step.Cmds) > 0 && opts.Stamps.Get(step.Short) == fingerprint {
		log(ctx).Info().
			Str("step", step.Short).
			Msg("skipped because it already completed (use --force to run it again)")

		rctx.runSteps[step.Short] = true
		return nil
	}

	if !force && len(step.SkipIfExists) > 0 {
		skipList, err := resolvePatternLists(ctx, step.Base, step.SkipIfExists)
		if err != nil {
			return eris.Wrapf(err, "failed to resolve skip_if_exists list")
		}

		found := 0
		for _, item := range skipList {
			_, err := os.Stat(item)
			if err == nil {
				found++
			} else if !eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(err, "Failed to check %s", item)
			}
		}

		if found > 0 && found == len(skipList) {
			log(ctx).Info().
				Str("step", step.Short).
				Msg("skipped because all skip files exist")

			rctx.runSteps[step.Short] = true
			return nil
		}
	}

	err := checkRequirements(ctx, step)
	if err != nil {
		return err
	}

	err = checkConnection(ctx, step)
	if err != nil {
		return err
	}

	err = runCmds(ctx, step, force)
	if err != nil {
		return err
	}

	rctx.runSteps[step.Short] = true

	if !opts.DryRun && step.Success != "" {
		log(ctx).Info().Str("step", step.Short).Msg(step.Success)
	}

	if !opts.DryRun && opts.Stamps != nil && len(step.Cmds) > 0 && !step.Hidden {
		opts.Stamps.Set(step.Short, fingerprint)
		err = opts.Stamps.Save()
		if err != nil {
			return eris.Wrapf(err, "failed to record completion of step %s", step.Short)
		}
	}
	return nil
}

func runCmds(ctx context.Context, step *Step, force bool) error {
	if len(step.Cmds) == 0 {
		return nil
	}

	opts := getRuntimeCtx(ctx).opts
	parser := syntax.NewParser()
	printer := syntax.NewPrinter()
	strBuffer := strings.Builder{}

	var runner *interp.Runner
	if !opts.DryRun {
		var err error
		runner, err = interp.New(
			interp.Dir(step.Base),
			interp.Env(getStepEnv(step)),
			interp.ExecHandler(execHandler),
			interp.OpenHandler(openHandler),
			interp.StdIO(opts.Stdin, opts.Stdout, opts.Stderr),
			interp.Params("-e"),
		)
		if err != nil {
			return eris.Wrapf(err, "Failed to initialize runner for step %s", step.Short)
		}
	} else {
		log(ctx).Info().Str("step", step.Short).Bool("dry", true).Msg("Would execute:")
	}

	counter := 0
	for _, item := range step.Cmds {
		switch cmd := item.(type) {
		case StepCmdScript:
			stmts, err := cmd.ToShellStmts(parser)
			if err != nil {
				return eris.Wrap(err, "failed to parse shell script")
			}

			for _, stm := range stmts {
				strBuffer.Reset()
				err = printer.Print(&strBuffer, stm)
				if err != nil {
					return eris.Wrap(err, "failed to print shell statement")
				}

				if opts.DryRun {
					counter++
					log(ctx).Info().
						Str("step", step.Short).
						Bool("dry", true).
						Msgf("  %d. %s", counter, strBuffer.String())
					continue
				}

				log(ctx).Info().
					Str("step", step.Short).
					Bool("command", true).
					Msg(strBuffer.String())

				err = runner.Run(ctx, stm)
				if err != nil {
					return eris.Wrapf(err, "step %s: command failed: %s", step.Short, strBuffer.String())
				}

				if runner.Exited() {
					return nil
				}
			}
		case StepCmdFetch:
			if opts.DryRun {
				counter++
				log(ctx).Info().
					Str("step", step.Short).
					Bool("dry", true).
					Msgf("  %d. %s", counter, cmd.String())
				continue
			}

			log(ctx).Info().
				Str("step", step.Short).
				Bool("command", true).
				Msg(cmd.String())

			err := fetch(ctx, cmd.Spec, opts.Progress)
			if err != nil {
				return eris.Wrapf(err, "step %s: download failed", step.Short)
			}
		case StepCmdNote:
			if !opts.DryRun {
				log(ctx).Debug().Str("step", step.Short).Msg(cmd.Message)
			}
		case StepCmdStepRef:
			err := runStepInternal(ctx, cmd.Step, force)
			if err != nil {
				return err
			}
		default:
			return eris.Errorf("unexpected step command %+v", item)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
