package setup

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// Requirement is a parsed entry of a step's requires list, i.e. "git" or "git>=2.30"
type Requirement struct {
	Program    string
	Constraint *semver.Constraints
	Raw        string
}

// ParseRequirement splits a requirement into the program name and an optional version constraint
func ParseRequirement(raw string) (Requirement, error) {
	req := Requirement{Raw: raw}
	trimmed := strings.TrimSpace(raw)

	pos := strings.IndexAny(trimmed, "<>=!~^ ")
	if pos == -1 {
		req.Program = trimmed
	} else {
		req.Program = trimmed[:pos]
		constraint, err := semver.NewConstraint(strings.TrimSpace(trimmed[pos:]))
		if err != nil {
			return req, eris.Wrapf(err, "invalid version constraint in requirement %s", raw)
		}
		req.Constraint = constraint
	}

	if req.Program == "" {
		return req, eris.Errorf("requirement %q doesn't name a program", raw)
	}

	return req, nil
}

// ExtractVersion returns the first version-looking token in the output of prog --version
func ExtractVersion(output string) (*semver.Version, error) {
	match := versionPattern.FindString(output)
	if match == "" {
		return nil, eris.Errorf("no version found in %q", strings.TrimSpace(output))
	}

	return semver.NewVersion(match)
}

// lookPath searches pathList (formatted like $PATH) for an executable named name
func lookPath(name, pathList string) (string, error) {
	if strings.Contains(name, "/") {
		if isExecutable(name) {
			return name, nil
		}
		return "", eris.Wrapf(ErrMissingRequirement, "%s is not executable", name)
	}

	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			dir = "."
		}

		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", eris.Wrapf(ErrMissingRequirement, "%s not found in PATH", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0111 != 0
}

func programVersion(ctx context.Context, path string, env []string) (*semver.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to run %s --version", path)
	}

	return ExtractVersion(string(output))
}

func checkRequirements(ctx context.Context, step *Step) error {
	if len(step.Requires) == 0 {
		return nil
	}

	opts := getRuntimeCtx(ctx).opts
	log(ctx).Debug().Str("step", step.Short).Msg("Checking for required dependencies...")

	env := mergeEnv(os.Environ(), step.Env)
	pathList := ""
	for _, item := range env {
		if strings.HasPrefix(item, "PATH=") {
			pathList = item[5:]
		}
	}

	for _, raw := range step.Requires {
		req, err := ParseRequirement(raw)
		if err != nil {
			return err
		}

		if opts.DryRun {
			log(ctx).Info().
				Str("step", step.Short).
				Bool("dry", true).
				Msgf("Would check for %s installation", req.Raw)
			continue
		}

		program := req.Program
		if strings.Contains(program, "/") && !filepath.IsAbs(program) {
			program = filepath.Join(step.Base, program)
		}

		path, err := lookPath(program, pathList)
		if err != nil {
			return eris.Wrapf(err, "step %s requires %s", step.Short, req.Raw)
		}

		log(ctx).Debug().Str("step", step.Short).Msgf("Path to %s: %s", req.Program, path)

		if req.Constraint == nil {
			continue
		}

		version, err := programVersion(ctx, path, env)
		if err != nil {
			return eris.Wrapf(ErrMissingRequirement, "could not determine the version of %s: %s", req.Program, err)
		}

		if !req.Constraint.Check(version) {
			return eris.Wrapf(ErrMissingRequirement, "step %s requires %s but found version %s", step.Short, req.Raw, version)
		}

		log(ctx).Debug().Str("step", step.Short).Msgf("%s %s satisfies %s", req.Program, version, req.Raw)
	}

	return nil
}
