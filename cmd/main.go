package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeebuscrossaint/ass/pkg"
	"github.com/jeebuscrossaint/ass/pkg/config"
	"github.com/jeebuscrossaint/ass/pkg/prompt"
	"github.com/jeebuscrossaint/ass/pkg/setup"
	"github.com/jeebuscrossaint/ass/pkg/setup/plans"
)

// ScriptName is the plan file looked for in the current directory and its parents
const ScriptName = "setup.star"

const examples = `  ass                     Run the full setup
  ass --dry-run           Preview what would be executed
  ass -n -v               Dry run with verbose output
  ass list                Show the available steps
  ass install-paru        Run a single step and its dependencies
  ass packages="git vim"  Override a plan option`

type session struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// ctx returns a context carrying the session logger
func (s *session) ctx(parent context.Context) context.Context {
	return setup.WithLogger(parent, &s.logger)
}

type rootFlags struct {
	configFile string
	script     string
	verbose    bool
	dryRun     bool
	force      bool
	yes        bool
}

// NewRootCmd builds the ass command tree
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	sess := &session{}

	rootCmd := &cobra.Command{
		Use:   "ass [flags] [STEP...] [option=value...]",
		Short: "Arch Setup Script",
		Long: `A.S.S. - Arch Setup Script

Bootstraps a fresh Arch Linux install: checks for git, verifies that the AUR is
reachable, builds and installs paru and installs the configured packages.

Steps are declared in a Starlark plan. Without --script, ass looks for ` + ScriptName + `
in the current directory and its parents and falls back to the built-in plan.

Examples:
` + examples,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return sess.init(cmd, flags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, sess, flags, args)
		},
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: unknownOption(err) + "\nUse --help for usage information"}
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file to use instead of the default locations")
	pf.StringVarP(&flags.script, "script", "s", "", "plan script to run")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "show detailed output")

	f := rootCmd.Flags()
	f.BoolVarP(&flags.dryRun, "dry-run", "n", false, "show what would be executed without running anything")
	f.BoolVarP(&flags.force, "force", "f", false, "run steps even if they already completed")
	f.BoolVarP(&flags.yes, "yes", "y", false, "answer yes to all prompts")

	rootCmd.AddCommand(newListCmd(sess, flags))
	rootCmd.AddCommand(newForgetCmd(sess))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// usageError is printed as is, without the error decoration
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

// unknownOption rewrites pflag's unknown flag errors
func unknownOption(err error) string {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "unknown flag: "):
		return "Unknown option: " + strings.TrimPrefix(msg, "unknown flag: ")
	case strings.HasPrefix(msg, "unknown shorthand flag: "):
		if pos := strings.LastIndex(msg, " in "); pos > -1 {
			return "Unknown option: " + msg[pos+4:]
		}
	}

	return msg
}

func (s *session) init(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return err
	}
	s.cfg = cfg

	level := cfg.LogLevel()
	if flags.verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = cmd.ErrOrStderr()
	if !cfg.Log.JSON {
		out = NewConsoleWriter(out, cfg.Debug)
		zerolog.ErrorMarshalFunc = func(err error) interface{} {
			return eris.ToString(err, cfg.Debug)
		}
	} else {
		zerolog.ErrorMarshalFunc = func(err error) interface{} {
			return eris.ToJSON(err, cfg.Debug)
		}
	}

	s.logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

// splitArgs separates option=value pairs from step names
func splitArgs(args []string) ([]string, map[string]string) {
	steps := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) == 2 {
			options[parts[0]] = parts[1]
		} else {
			steps = append(steps, arg)
		}
	}

	return steps, options
}

func loadPlan(ctx context.Context, cfg *config.Config, script string, options map[string]string) (*setup.Plan, error) {
	if script == "" {
		script = cfg.Script
	}

	if script == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, eris.Wrap(err, "failed to determine working directory")
		}

		found, err := pkg.FindUpwards(wd, ScriptName)
		if err == nil {
			script = found
		} else if !eris.Is(err, pkg.ErrNotFound) {
			return nil, err
		}
	}

	if script == "" {
		return setup.RunScript(ctx, filepath.Join(cfg.WorkDir, plans.DefaultName), plans.Default, cfg.WorkDir, options)
	}

	return setup.RunScript(ctx, script, nil, cfg.WorkDir, options)
}

func runSetup(cmd *cobra.Command, sess *session, flags *rootFlags, args []string) error {
	ctx := sess.ctx(cmd.Context())
	out := cmd.OutOrStdout()
	steps, options := splitArgs(args)

	plan, err := loadPlan(ctx, sess.cfg, flags.script, options)
	if err != nil {
		return err
	}

	stamps, err := setup.LoadStamps(sess.cfg.StateFile)
	if err != nil {
		return err
	}

	if flags.dryRun {
		pkg.PrintBanner(out, "=== DRY RUN MODE ===")
		fmt.Fprintln(out, "No actual changes will be made")
		fmt.Fprintln(out)
	}
	pkg.PrintBanner(out, "A.S.S. - Arch Setup Script")

	err = setup.RunSteps(ctx, plan, steps, setup.RunOptions{
		DryRun:    flags.dryRun,
		Force:     flags.force,
		AssumeYes: flags.yes || sess.cfg.AssumeYes,
		Progress:  os.Getenv("CI") != "true",
		ProbeURL:  sess.cfg.Connection.URL,
		Stamps:    stamps,
		Confirm:   &prompt.Prompter{In: cmd.InOrStdin(), Out: out},
		Prober:    setup.NewHTTPProber(sess.cfg.Connection.Timeout),
		Stdin:     cmd.InOrStdin(),
		Stdout:    out,
		Stderr:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	if flags.dryRun {
		pkg.PrintBanner(out, "=== DRY RUN COMPLETE ===")
	} else {
		pkg.PrintSuccess(out, "Setup complete!")
	}

	return nil
}

// Execute runs the root command and exits with a non-zero status on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()

	os.Exit(reportError(os.Stdout, os.Stderr, err))
}

// reportError prints err and returns the exit code for it
func reportError(stdout, stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}

	if eris.Is(err, setup.ErrAborted) {
		fmt.Fprintln(stdout, "Aborted.")
		return 0
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(stderr, usage.Error())
		return 1
	}

	pkg.PrintError(stderr, err.Error())
	return 1
}
