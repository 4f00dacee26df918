package build

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLauncher records every command and answers from respond, so the full
// orchestrator path runs without a compiler installed.
type fakeLauncher struct {
	calls   []Command
	respond func(Command) (*LaunchResult, error)
}

func (f *fakeLauncher) Launch(ctx context.Context, cmd Command) (*LaunchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, cmd)
	if f.respond != nil {
		return f.respond(cmd)
	}
	return &LaunchResult{}, nil
}

func newTestOrchestrator(t *testing.T, fake *fakeLauncher) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Launcher:  fake,
		Tree:      t.TempDir(),
		BuildRoot: t.TempDir(),
		Jobs:      4,
		Out:       io.Discard,
	}
}

func firstTarget(cmd Command) string {
	for _, a := range cmd.Args {
		if !strings.Contains(a, "=") && !strings.HasPrefix(a, "-j") {
			return a
		}
	}
	return ""
}

func TestRunDefconfigSuccess(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name:      "arm64",
		Target:    "arm64",
		Strategy:  StrategyDefconfig,
		Defconfig: "defconfig",
	})

	require.Equal(t, StatusSuccess, out.Status)
	require.Len(t, fake.calls, 2)
	assert.Equal(t, "defconfig", firstTarget(fake.calls[0]))
	assert.Equal(t, "all", firstTarget(fake.calls[1]))

	// Every make setting rides the command line, not the environment.
	assert.Contains(t, fake.calls[1].Args, "ARCH=arm64")
	assert.Contains(t, fake.calls[1].Args, "O="+out.OutputDir)
	assert.Contains(t, fake.calls[1].Args, "-j4")
	assert.False(t, out.End.Before(out.Start))
}

func TestRunHtmldocsSkipsConfigure(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name:     "docs",
		Target:   "docs",
		Strategy: StrategyHtmldocs,
	})

	require.Equal(t, StatusSuccess, out.Status)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "htmldocs", firstTarget(fake.calls[0]))
	assert.Contains(t, out.OutputDir, ".htmldocs_docs-htmldocs")
}

func TestRunInvalidDescriptorNeverLaunches(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{Name: "broken", Target: "arm64"})

	assert.Equal(t, StatusConfigError, out.Status)
	assert.Error(t, out.Err)
	assert.Empty(t, fake.calls)
}

func TestRunNonZeroExitIsToolchainFailure(t *testing.T) {
	fake := &fakeLauncher{
		respond: func(cmd Command) (*LaunchResult, error) {
			if firstTarget(cmd) == "all" {
				return &LaunchResult{ExitCode: 2, Stderr: []byte("undefined reference to `foo'\n")}, nil
			}
			return &LaunchResult{}, nil
		},
	}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name: "x86", Target: "x86_64", Strategy: StrategyAllmodconfig,
		FailOnStderr: false,
	})

	assert.Equal(t, StatusToolchainFailure, out.Status)
	assert.Equal(t, PhaseBuild, out.Step)
	assert.Contains(t, out.Diagnostic, "undefined reference")
}

func TestRunConfigureFailureReportsConfigurePhase(t *testing.T) {
	fake := &fakeLauncher{
		respond: func(cmd Command) (*LaunchResult, error) {
			return &LaunchResult{ExitCode: 1, Stderr: []byte("no such defconfig\n")}, nil
		},
	}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name: "bad", Target: "arm", Strategy: StrategyDefconfig, Defconfig: "nope_defconfig",
	})

	assert.Equal(t, StatusToolchainFailure, out.Status)
	assert.Equal(t, PhaseConfigure, out.Step)
	// Fail-fast within the sequence: the build phase never ran.
	assert.Len(t, fake.calls, 1)
}

func TestRunStderrPolicy(t *testing.T) {
	cases := []struct {
		name         string
		failOnStderr bool
		stderr       string
		want         Status
	}{
		{"clean build passes", true, "", StatusSuccess},
		{"warnings fail strict builds", true, "drivers/gpu/drm/foo.c:10: warning: unused variable\n", StatusStderrFailure},
		{"warnings tolerated when disabled", false, "drivers/gpu/drm/foo.c:10: warning: unused variable\n", StatusSuccess},
		{"known-noisy warnings ignored", true, "#warning syscall io_pgetevents not implemented\n#warning syscall rseq not implemented\n", StatusSuccess},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeLauncher{
				respond: func(cmd Command) (*LaunchResult, error) {
					if firstTarget(cmd) == "all" {
						return &LaunchResult{Stderr: []byte(tc.stderr)}, nil
					}
					return &LaunchResult{}, nil
				},
			}
			o := newTestOrchestrator(t, fake)

			out := o.Run(context.Background(), Descriptor{
				Name: "t", Target: "arm64", Strategy: StrategyAllyesconfig,
				FailOnStderr: tc.failOnStderr,
			})

			assert.Equal(t, tc.want, out.Status)
			// The raw diagnostic is preserved even when ignored.
			assert.Equal(t, tc.stderr, out.Diagnostic)
		})
	}
}

func TestRunDescriptorIgnorePatterns(t *testing.T) {
	fake := &fakeLauncher{
		respond: func(cmd Command) (*LaunchResult, error) {
			if firstTarget(cmd) == "all" {
				return &LaunchResult{Stderr: []byte("vmlinux.o: harmless relocation note\n")}, nil
			}
			return &LaunchResult{}, nil
		},
	}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyAllmodconfig,
		FailOnStderr: true,
		StderrIgnore: []string{`harmless relocation`},
	})

	assert.Equal(t, StatusSuccess, out.Status)
}

func TestRunBadIgnorePatternIsConfigError(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyAllmodconfig,
		StderrIgnore: []string{`([`},
	})

	assert.Equal(t, StatusConfigError, out.Status)
	assert.Empty(t, fake.calls)
}

func TestRunConfigFileCopiedAndRefreshed(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	cfgPath := filepath.Join(t.TempDir(), "chromiumos-arm64.flavour.config")
	require.NoError(t, os.WriteFile(cfgPath, []byte("CONFIG_DRM=y\n"), 0o644))

	out := o.Run(context.Background(), Descriptor{
		Name: "cros", Target: "arm64", Strategy: StrategyDefconfig,
		ConfigFile: cfgPath,
	})

	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "olddefconfig", firstTarget(fake.calls[0]))

	copied, err := os.ReadFile(filepath.Join(out.OutputDir, ".config"))
	require.NoError(t, err)
	assert.Equal(t, "CONFIG_DRM=y\n", string(copied))
}

func TestRunCompileDBSuccess(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	script := filepath.Join(o.Tree, "scripts", "gen_compile_commands.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, []byte("#!/usr/bin/env python3\n"), 0o755))

	fake.respond = func(cmd Command) (*LaunchResult, error) {
		if cmd.Path == script {
			db := []compileDBEntry{
				{Directory: "/b", Command: "gcc -c init/main.c", File: "init/main.c"},
				{Directory: "/b", Command: "gcc -c kernel/fork.c", File: "kernel/fork.c"},
			}
			data, _ := json.Marshal(db)
			outDir := cmd.Args[1]
			require.NoError(t, os.WriteFile(filepath.Join(outDir, "compile_commands.json"), data, 0o644))
		}
		return &LaunchResult{}, nil
	}

	out := o.Run(context.Background(), Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyAllmodconfig,
		CompileDB: true,
	})

	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 2, out.CompileDBEntries)
	require.Len(t, out.Artifacts, 1)
	assert.Equal(t, "compile_commands.json", filepath.Base(out.Artifacts[0]))
}

func TestRunCompileDBFailureDowngradesOutcome(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	script := filepath.Join(o.Tree, "scripts", "clang-tools", "gen_compile_commands.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, []byte(""), 0o755))

	fake.respond = func(cmd Command) (*LaunchResult, error) {
		if cmd.Path == script {
			return &LaunchResult{ExitCode: 1}, nil
		}
		if firstTarget(cmd) == "all" {
			return &LaunchResult{Stderr: []byte("#warning syscall rseq not implemented\n")}, nil
		}
		return &LaunchResult{}, nil
	}

	out := o.Run(context.Background(), Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyAllmodconfig,
		CompileDB: true, FailOnStderr: true,
	})

	assert.Equal(t, StatusArtifactFailure, out.Status)
	assert.Equal(t, PhaseCompileDB, out.Step)
	assert.Error(t, out.Err)
	// The build's own diagnostics survive the downgrade.
	assert.Contains(t, out.Diagnostic, "rseq")
}

func TestRunCompileDBScriptMissing(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyAllmodconfig,
		CompileDB: true,
	})

	assert.Equal(t, StatusArtifactFailure, out.Status)
	assert.ErrorContains(t, out.Err, "gen_compile_commands.py")
}

func TestRunPackageDegradesWithMissingTools(t *testing.T) {
	t.Run("deb only", func(t *testing.T) {
		fake := &fakeLauncher{}
		o := newTestOrchestrator(t, fake)

		out := o.Run(context.Background(), Descriptor{
			Name: "t", Target: "arm64", Strategy: StrategyDefconfig, Defconfig: "defconfig",
			Package: true,
		})

		require.Equal(t, StatusSuccess, out.Status)
		// configure, all, bindeb-pkg
		require.Len(t, fake.calls, 3)
		assert.Equal(t, "bindeb-pkg", firstTarget(fake.calls[2]))
		assert.Equal(t, []string{out.OutputDir}, out.Artifacts)
	})

	t.Run("full chain", func(t *testing.T) {
		fake := &fakeLauncher{}
		o := newTestOrchestrator(t, fake)
		o.Tools = PackageTools{
			Mkimage:      "/usr/bin/mkimage",
			ItsFile:      "kernel.its",
			VbutilKernel: "/usr/bin/vbutil_kernel",
			Keyblock:     "kernel.keyblock",
			DataKey:      "kernel_data_key.vbprivk",
			Cmdline:      "console= root=/dev/mmcblk0p3",
			VbutilArch:   "arm",
		}

		out := o.Run(context.Background(), Descriptor{
			Name: "t", Target: "arm", Strategy: StrategyDefconfig, Defconfig: "defconfig",
			Package: true,
		})

		require.Equal(t, StatusSuccess, out.Status)
		require.Len(t, out.Artifacts, 3)
		assert.Equal(t, "vmlinux.uimg", filepath.Base(out.Artifacts[1]))
		assert.Equal(t, "vmlinux.kpart", filepath.Base(out.Artifacts[2]))

		// vbutil_kernel inputs were staged on disk.
		stub, err := os.ReadFile(filepath.Join(out.OutputDir, "zero.bin"))
		require.NoError(t, err)
		assert.Len(t, stub, 512)
		cmdline, err := os.ReadFile(filepath.Join(out.OutputDir, "cmdline"))
		require.NoError(t, err)
		assert.Equal(t, "console= root=/dev/mmcblk0p3", string(cmdline))
	})
}

func TestRunPackageFailureDowngradesOutcome(t *testing.T) {
	fake := &fakeLauncher{
		respond: func(cmd Command) (*LaunchResult, error) {
			if firstTarget(cmd) == "bindeb-pkg" {
				return &LaunchResult{ExitCode: 2}, nil
			}
			return &LaunchResult{}, nil
		},
	}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyDefconfig, Defconfig: "defconfig",
		Package: true,
	})

	assert.Equal(t, StatusArtifactFailure, out.Status)
	assert.Equal(t, PhasePackage, out.Step)
}

func TestRunInstallSteps(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	out := o.Run(context.Background(), Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyDefconfig, Defconfig: "defconfig",
		InstallModules: true, InstallHeaders: true,
	})

	require.Equal(t, StatusSuccess, out.Status)
	require.Len(t, fake.calls, 4)
	assert.Equal(t, "modules_install", firstTarget(fake.calls[2]))
	assert.Contains(t, fake.calls[2].Args, "INSTALL_MOD_PATH="+filepath.Join(out.OutputDir, "installed_modules"))
	assert.Equal(t, "headers_install", firstTarget(fake.calls[3]))
}

func TestRunCancelledContext(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := o.Run(ctx, Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyAllmodconfig,
	})

	assert.Equal(t, StatusToolchainFailure, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestRunCompletionTextOnSuccessOnly(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)

	d := Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyDefconfig, Defconfig: "defconfig",
		CompletionText: "flash with: dd if=vmlinux.kpart of=/dev/sda2",
	}

	out := o.Run(context.Background(), d)
	assert.Equal(t, d.CompletionText, out.Completion)

	fake.respond = func(Command) (*LaunchResult, error) {
		return &LaunchResult{ExitCode: 1}, nil
	}
	out = o.Run(context.Background(), d)
	assert.Empty(t, out.Completion)
}

func TestPlanListsCommandsWithoutRunning(t *testing.T) {
	fake := &fakeLauncher{}
	o := newTestOrchestrator(t, fake)
	o.Env.Compiler = "clang-18"

	cmds, err := o.Plan(Descriptor{
		Name: "t", Target: "arm64", Strategy: StrategyDefconfig, Defconfig: "defconfig",
		Jobs: 8,
	})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Empty(t, fake.calls)

	assert.Contains(t, cmds[0].Args, "ARCH=arm64")
	assert.Contains(t, cmds[0].Args, "-j8")
	assert.Contains(t, cmds[0].Env, "COMPILER=clang-18")

	_, err = o.Plan(Descriptor{Name: "bad"})
	assert.Error(t, err)
}

func TestJobsPrecedence(t *testing.T) {
	o := &Orchestrator{Jobs: 4}
	assert.Equal(t, 8, o.jobs(Descriptor{Jobs: 8}))
	assert.Equal(t, 4, o.jobs(Descriptor{}))
	assert.Equal(t, 1, (&Orchestrator{}).jobs(Descriptor{}))
}

func TestMakeCommandEnvAssignmentsAreSorted(t *testing.T) {
	o := &Orchestrator{Jobs: 1, Tree: "/src"}
	cmd := o.makeCommand(Descriptor{Target: "arm64"}, "/out", planned{
		Phase:   PhaseInstall,
		Targets: []string{"modules_install"},
		Env:     map[string]string{"ZED": "1", "ALPHA": "2"},
	})

	joined := cmd.String()
	assert.Less(t, strings.Index(joined, "ALPHA=2"), strings.Index(joined, "ZED=1"))
	assert.True(t, strings.HasSuffix(joined, "modules_install"), joined)
}

func TestOutputDirNaming(t *testing.T) {
	cases := []struct {
		d    Descriptor
		want string
	}{
		{Descriptor{Target: "arm64", Strategy: StrategyDefconfig, Defconfig: "defconfig"}, ".build_arm64-defconfig"},
		{Descriptor{Target: "arm", Strategy: StrategyDefconfig, ConfigFile: "/cfg/cros.config"}, ".build_arm-cros.config"},
		{Descriptor{Target: "x86_64", Strategy: StrategyAllmodconfig}, ".build_x86_64-allmodconfig"},
		{Descriptor{Target: "docs", Strategy: StrategyHtmldocs}, ".htmldocs_docs-htmldocs"},
	}
	for _, tc := range cases {
		assert.Equal(t, filepath.Join("/root", tc.want), tc.d.OutputDir("/root"), fmt.Sprintf("%+v", tc.d))
	}
}
