package build

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ToolchainEnv holds the external-toolchain knobs passed to every make
// invocation. All of it is explicit configuration; nothing is read from
// implicit per-user state.
type ToolchainEnv struct {
	// Make is the build entry point: "make" or a cross-build wrapper script.
	Make string

	// Compiler and CompilerInstall are exported as COMPILER and
	// COMPILER_INSTALL_PATH for wrapper scripts that select toolchains.
	Compiler        string
	CompilerInstall string
}

// Orchestrator drives one external kernel build per descriptor: configure,
// build, classify, then optional artifact steps. It assumes single-writer
// access to each descriptor's output directory for the duration of a Run.
type Orchestrator struct {
	Launcher  Launcher
	Tree      string // kernel source tree the toolchain runs in
	BuildRoot string // parent of per-descriptor output directories
	Jobs      int    // default -j level when the descriptor has none
	Env       ToolchainEnv
	Tools     PackageTools

	// Tree identity propagated onto every Outcome. Best effort; may be empty.
	TreeSHA    string
	TreeBranch string

	// Out receives command banners between toolchain invocations.
	Out io.Writer
}

// Run drives one build to completion and classifies it. It blocks until the
// external process and any artifact steps finish; cancellation of ctx kills
// the in-flight child process group. Nothing is retried.
func (o *Orchestrator) Run(ctx context.Context, d Descriptor) Outcome {
	out := Outcome{
		Name:       d.Name,
		Target:     d.Target,
		Strategy:   d.Strategy,
		TreeSHA:    o.TreeSHA,
		TreeBranch: o.TreeBranch,
		Start:      time.Now(),
	}

	o.run(ctx, d, &out)
	out.End = time.Now()
	return out
}

// run validates and delegates; split out so every return path stamps End. The
// error is already recorded on the Outcome, callers read it from there.
func (o *Orchestrator) run(ctx context.Context, d Descriptor, out *Outcome) error {
	if err := d.Validate(); err != nil {
		out.Status = StatusConfigError
		out.Err = err
		return err
	}

	filter, err := NewStderrFilter(d.StderrIgnore)
	if err != nil {
		out.Status = StatusConfigError
		out.Err = &ConfigError{Name: d.Name, Reason: err.Error()}
		return err
	}

	outDir := d.OutputDir(o.BuildRoot)
	out.OutputDir = outDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		out.Status = StatusConfigError
		out.Err = fmt.Errorf("creating output dir: %w", err)
		return err
	}

	return o.execute(ctx, d, filter, outDir, out)
}

// execute runs the resolved command sequence and the post-build steps.
func (o *Orchestrator) execute(ctx context.Context, d Descriptor, filter *StderrFilter, outDir string, out *Outcome) error {
	cmds, err := resolveStrategy(d)
	if err != nil {
		out.Status = StatusConfigError
		out.Err = err
		return err
	}

	if d.ConfigFile != "" {
		if err := copyConfig(d.ConfigFile, filepath.Join(outDir, ".config")); err != nil {
			out.Status = StatusConfigError
			out.Err = err
			return err
		}
	}

	var diag strings.Builder
	for _, p := range cmds {
		res, err := o.runMake(ctx, d, outDir, p)
		if res != nil {
			diag.Write(res.Stderr)
		}
		out.Diagnostic = diag.String()
		if err != nil {
			out.Status = StatusToolchainFailure
			out.Step = p.Phase
			out.Err = err
			return err
		}
		if res.ExitCode != 0 {
			out.Status = StatusToolchainFailure
			out.Step = p.Phase
			out.Err = fmt.Errorf("%s exited with code %d", o.makePath(), res.ExitCode)
			return out.Err
		}
	}

	// A zero exit from the toolchain does not imply a clean build: the kernel
	// build emits warnings on stderr while still exiting 0. When the
	// descriptor asks for it, any surviving stderr line fails the build.
	if d.FailOnStderr {
		if kept := filter.Apply(out.Diagnostic); len(kept) > 0 {
			out.Status = StatusStderrFailure
			out.Step = PhaseBuild
			out.Err = fmt.Errorf("%d diagnostic line(s) on stderr", len(kept))
			return out.Err
		}
	}

	if err := o.runInstalls(ctx, d, outDir, out); err != nil {
		return err
	}

	out.Status = StatusSuccess
	out.Completion = d.CompletionText

	if d.CompileDB {
		entries, path, err := o.generateCompileDB(ctx, outDir)
		if err != nil {
			// The build itself passed; report the downgraded status but keep
			// both the build diagnostics and the extraction error.
			out.Status = StatusArtifactFailure
			out.Step = PhaseCompileDB
			out.Err = err
			return err
		}
		out.CompileDBEntries = entries
		out.Artifacts = append(out.Artifacts, path)
	}

	if d.Package {
		artifacts, err := o.runPackage(ctx, d, outDir)
		if err != nil {
			out.Status = StatusArtifactFailure
			out.Step = PhasePackage
			out.Err = err
			return err
		}
		out.Artifacts = append(out.Artifacts, artifacts...)
	}

	return nil
}

// runInstalls performs the optional modules/headers install passes. These are
// toolchain invocations, so their failures classify as toolchain failures.
func (o *Orchestrator) runInstalls(ctx context.Context, d Descriptor, outDir string, out *Outcome) error {
	type install struct {
		env    map[string]string
		target string
	}
	var steps []install
	if d.InstallModules {
		steps = append(steps, install{
			env:    map[string]string{"INSTALL_MOD_PATH": filepath.Join(outDir, "installed_modules")},
			target: "modules_install",
		})
	}
	if d.InstallHeaders {
		steps = append(steps, install{
			env:    map[string]string{"INSTALL_HDR_PATH": filepath.Join(outDir, "headers")},
			target: "headers_install",
		})
	}

	for _, s := range steps {
		res, err := o.runMake(ctx, d, outDir, planned{Phase: PhaseInstall, Targets: []string{s.target}, Env: s.env})
		if res != nil && len(res.Stderr) > 0 {
			out.Diagnostic += string(res.Stderr)
		}
		if err != nil {
			out.Status = StatusToolchainFailure
			out.Step = PhaseInstall
			out.Err = err
			return err
		}
		if res.ExitCode != 0 {
			out.Status = StatusToolchainFailure
			out.Step = PhaseInstall
			out.Err = fmt.Errorf("%s exited with code %d", s.target, res.ExitCode)
			return out.Err
		}
	}
	return nil
}

// Plan returns the make invocations a descriptor resolves to, without running
// anything. Used for dry-run display; post-build artifact commands are not
// included since they depend on the build's results.
func (o *Orchestrator) Plan(d Descriptor) ([]Command, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	planned, err := resolveStrategy(d)
	if err != nil {
		return nil, err
	}
	outDir := d.OutputDir(o.BuildRoot)
	cmds := make([]Command, 0, len(planned))
	for _, p := range planned {
		cmds = append(cmds, o.makeCommand(d, outDir, p))
	}
	return cmds, nil
}

// makeCommand assembles one make invocation. The kernel Makefile is
// inconsistent about which settings work as environment variables, so every
// assignment goes on the command line instead.
func (o *Orchestrator) makeCommand(d Descriptor, outDir string, p planned) Command {
	args := []string{
		"ARCH=" + d.Target,
		"O=" + outDir,
	}
	for _, k := range slices.Sorted(maps.Keys(p.Env)) {
		args = append(args, k+"="+p.Env[k])
	}
	args = append(args, fmt.Sprintf("-j%d", o.jobs(d)))
	args = append(args, p.Targets...)

	cmd := Command{
		Path: o.makePath(),
		Args: args,
		Dir:  o.Tree,
	}
	if o.Env.Compiler != "" {
		cmd.Env = append(cmd.Env, "COMPILER="+o.Env.Compiler)
	}
	if o.Env.CompilerInstall != "" {
		cmd.Env = append(cmd.Env, "COMPILER_INSTALL_PATH="+o.Env.CompilerInstall)
	}
	return cmd
}

func (o *Orchestrator) runMake(ctx context.Context, d Descriptor, outDir string, p planned) (*LaunchResult, error) {
	cmd := o.makeCommand(d, outDir, p)
	o.banner(cmd)
	return o.Launcher.Launch(ctx, cmd)
}

func (o *Orchestrator) makePath() string {
	if o.Env.Make != "" {
		return o.Env.Make
	}
	return "make"
}

func (o *Orchestrator) jobs(d Descriptor) int {
	if d.Jobs > 0 {
		return d.Jobs
	}
	if o.Jobs > 0 {
		return o.Jobs
	}
	return 1
}

// banner prints the command about to run, mirroring live progress on stdout.
func (o *Orchestrator) banner(cmd Command) {
	if o.Out == nil {
		return
	}
	fmt.Fprintf(o.Out, "\n# %s\n", cmd.String())
}

// copyConfig places an out-of-tree config file into the build directory.
func copyConfig(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
