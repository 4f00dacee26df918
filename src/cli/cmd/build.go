package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atseanpaul/build-kernel/src/badge"
	"github.com/atseanpaul/build-kernel/src/build"
	"github.com/atseanpaul/build-kernel/src/config"
	"github.com/atseanpaul/build-kernel/src/kver"
	"github.com/atseanpaul/build-kernel/src/output"
	"github.com/atseanpaul/build-kernel/src/version"
)

var (
	bContinue    bool
	bSkipDB      bool
	bGenPkg      bool
	bDryRun      bool
	bJobs        int
	bNoFailOnErr bool
)

var buildCmd = &cobra.Command{
	Use:   "build <descriptor.toml|dir>...",
	Short: "Run kernel builds from descriptor files",
	Long: `Run one kernel build per descriptor, in order.

Each descriptor selects an arch and a config-generation strategy
(defconfig, allmodconfig, allyesconfig, htmldocs) plus artifact options.
The sequence stops at the first failure unless --continue is set.`,
	Args: cobra.ArbitraryArgs,
	RunE: runBuilds,
}

func init() {
	buildCmd.Flags().BoolVar(&bContinue, "continue", false, "keep building after a failure")
	buildCmd.Flags().BoolVar(&bSkipDB, "skip-compile-db", false, "skip compile_commands.json generation")
	buildCmd.Flags().BoolVar(&bGenPkg, "gen-pkg", false, "package every build")
	buildCmd.Flags().BoolVar(&bDryRun, "dry-run", false, "show resolved commands without executing")
	buildCmd.Flags().IntVar(&bJobs, "jobs", 0, "override -j level for all builds")
	buildCmd.Flags().BoolVar(&bNoFailOnErr, "no-fail-on-stderr", false, "never fail builds on stderr output")

	rootCmd.AddCommand(buildCmd)
}

func runBuilds(cmd *cobra.Command, args []string) error {
	color := output.UseColor()
	w := os.Stdout
	runStart := time.Now()

	// SIGINT/SIGTERM cancel the in-flight toolchain process group.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree, err := kver.Detect(cfg.Tree)
	if err != nil {
		return fmt.Errorf("inspecting kernel tree %s: %w", cfg.Tree, err)
	}

	output.Banner(w, version.Version, tree.SHA, tree.Branch, color)
	output.ContextBlock(w, []output.KV{
		{Key: "Tree", Value: cfg.Tree},
		{Key: "Kernel", Value: tree.String()},
		{Key: "Make", Value: cfg.Make},
		{Key: "Jobs", Value: fmt.Sprintf("%d", jobsValue())},
	})

	descriptors, err := loadBuilds(args)
	if err != nil {
		return err
	}
	descriptors = applyOverrides(descriptors)

	// Version constraints are configuration problems; surface them before any
	// build starts.
	for _, d := range descriptors {
		if err := tree.Satisfies(d.Requires); err != nil {
			return fmt.Errorf("descriptor %q: %w", d.Name, err)
		}
	}

	orch := &build.Orchestrator{
		Launcher:  build.NewExecLauncher(verbose),
		Tree:      cfg.Tree,
		BuildRoot: cfg.BuildRoot,
		Jobs:      jobsValue(),
		Env: build.ToolchainEnv{
			Make:            cfg.Make,
			Compiler:        cfg.Compiler,
			CompilerInstall: cfg.CompilerInstall,
		},
		Tools: build.PackageTools{
			Mkimage:      cfg.Package.Mkimage,
			ItsFile:      cfg.Package.ItsFile,
			VbutilKernel: cfg.Package.VbutilKernel,
			Keyblock:     cfg.Package.Keyblock,
			DataKey:      cfg.Package.DataKey,
			Cmdline:      cfg.Package.Cmdline,
			VbutilArch:   cfg.Package.VbutilArch,
		},
		TreeSHA:    tree.SHA,
		TreeBranch: tree.Branch,
		Out:        w,
	}

	if bDryRun {
		return printPlan(orch, descriptors)
	}

	runner := &build.Runner{Orchestrator: orch, ContinueOnFailure: bContinue}
	outcomes := runner.RunAll(ctx, descriptors)

	for _, o := range outcomes {
		renderOutcome(w, o, color)
	}

	if cfg.Badge.Enabled {
		writeBadges(outcomes)
	}
	if cfg.Report.JUnitDir != "" {
		if err := output.WriteBuildJUnit(cfg.Report.JUnitDir, outcomes, cfg.Report.DiagnosticLines); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write junit report: %v\n", err)
		}
	}

	return renderSummary(w, outcomes, len(descriptors), runStart, color)
}

// loadBuilds resolves the build set: descriptor file arguments, or the
// config's inline builds section when no arguments are given.
func loadBuilds(args []string) ([]build.Descriptor, error) {
	if len(args) == 0 {
		ds, err := cfg.InlineDescriptors()
		if err != nil {
			return nil, err
		}
		if len(ds) == 0 {
			return nil, fmt.Errorf("no descriptor files given and no builds defined in config")
		}
		return ds, nil
	}
	paths, err := collectDescriptorPaths(args)
	if err != nil {
		return nil, err
	}
	return config.LoadDescriptors(paths, cfg.StderrIgnore)
}

// collectDescriptorPaths expands directory arguments into their *.toml files.
func collectDescriptorPaths(args []string) ([]string, error) {
	var paths []string
	for _, a := range args {
		fi, err := os.Stat(a)
		if err != nil {
			return nil, fmt.Errorf("descriptor %s: %w", a, err)
		}
		if !fi.IsDir() {
			paths = append(paths, a)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(a, "*.toml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no descriptor files in %s", a)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// applyOverrides folds the CLI flags into the loaded descriptors.
func applyOverrides(ds []build.Descriptor) []build.Descriptor {
	for i := range ds {
		if bSkipDB {
			ds[i].CompileDB = false
		}
		if bGenPkg {
			ds[i].Package = true
		}
		if bJobs > 0 {
			ds[i].Jobs = bJobs
		}
		if bNoFailOnErr {
			ds[i].FailOnStderr = false
		}
	}
	return ds
}

func jobsValue() int {
	if bJobs > 0 {
		return bJobs
	}
	return cfg.Jobs
}

func printPlan(orch *build.Orchestrator, ds []build.Descriptor) error {
	for _, d := range ds {
		cmds, err := orch.Plan(d)
		if err != nil {
			return err
		}
		fmt.Printf("build: %s\n", d.Name)
		fmt.Printf("  target:     %s\n", d.Target)
		fmt.Printf("  strategy:   %s\n", d.Strategy)
		fmt.Printf("  output:     %s\n", d.OutputDir(orch.BuildRoot))
		fmt.Printf("  compile_db: %v\n", d.CompileDB)
		fmt.Printf("  package:    %v\n", d.Package)
		for _, c := range cmds {
			fmt.Printf("  $ %s\n", c.String())
		}
	}
	return nil
}

// renderOutcome prints one build's section and, on failure, its error block.
// On GitLab the whole report collapses into a CI section per build.
func renderOutcome(w *os.File, o build.Outcome, color bool) {
	output.SectionStart(w, "kbuild_"+o.Name, o.Name)
	defer output.SectionEnd(w, "kbuild_"+o.Name)

	sec := output.NewSection(w, o.Name, o.Duration(), color)
	sec.Row("%-16s%s", "target", o.Target)
	sec.Row("%-16s%s", "strategy", string(o.Strategy))
	if o.OutputDir != "" {
		sec.Row("%-16s%s", "output", o.OutputDir)
	}
	if o.CompileDBEntries > 0 {
		sec.Row("%-16s%d translation units", "compile-db", o.CompileDBEntries)
	}
	for _, a := range o.Artifacts {
		sec.Row("%-16s%s", "artifact", a)
	}
	if o.Status.OK() {
		sec.Row("%-16s%s %s", "status", output.StatusIcon("success", color), o.Status)
	} else {
		detail := string(o.Status)
		if o.Step != "" {
			detail += " in " + string(o.Step)
		}
		sec.Row("%-16s%s %s", "status", output.StatusIcon("failed", color), detail)
	}
	sec.Close()

	if !o.Status.OK() {
		tail := o.DiagnosticTail(cfg.Report.DiagnosticLines)
		total := len(strings.Split(strings.TrimRight(o.Diagnostic, "\n"), "\n"))
		truncated := 0
		if o.Diagnostic != "" && total > len(tail) {
			truncated = total - len(tail)
		}
		if o.Err != nil {
			tail = append(tail, "error: "+o.Err.Error())
		}
		output.ErrorBlock(w, fmt.Sprintf("BUILD %s FAILED (%s)", o.Name, o.Status), tail, truncated, color)
	}
}

func writeBadges(outcomes []build.Outcome) {
	metrics := badge.EstimatedMetrics(cfg.Badge.FontSize)
	if cfg.Badge.FontFile != "" {
		m, err := badge.LoadFontFile(cfg.Badge.FontFile, cfg.Badge.FontSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: badge font: %v\n", err)
		} else {
			metrics = m
		}
	}
	eng := badge.New(metrics)

	if err := os.MkdirAll(cfg.Badge.Dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "warning: badge dir: %v\n", err)
		return
	}
	for _, o := range outcomes {
		svg := eng.Generate(badge.Badge{
			Label: o.Name,
			Value: string(o.Status),
			Color: badge.StatusColor(string(o.Status)),
		})
		path := filepath.Join(cfg.Badge.Dir, o.Name+".svg")
		if err := os.WriteFile(path, []byte(svg), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "warning: writing %s: %v\n", path, err)
		}
	}
}

func renderSummary(w *os.File, outcomes []build.Outcome, requested int, start time.Time, color bool) error {
	sec := output.NewSection(w, "Summary", 0, color)
	failed := 0
	for _, o := range outcomes {
		status := "success"
		detail := formatElapsedDetail(o)
		if !o.Status.OK() {
			status = "failed"
			failed++
			detail = string(o.Status)
			if o.Step != "" {
				detail += " (" + string(o.Step) + ")"
			}
		} else if o.Completion != "" {
			detail = o.Completion
		}
		output.SummaryRow(w, o.Name, status, detail, color)
	}
	if skipped := requested - len(outcomes); skipped > 0 {
		output.SummaryRow(w, fmt.Sprintf("(%d not attempted)", skipped), "skipped", "", color)
	}
	sec.Separator()
	total := "success"
	if failed > 0 {
		total = "failed"
	}
	output.SummaryTotal(w, time.Since(start), total, color)
	sec.Close()

	if failed > 0 {
		return fmt.Errorf("%d of %d build(s) failed", failed, len(outcomes))
	}
	return nil
}

func formatElapsedDetail(o build.Outcome) string {
	return o.Duration().Round(time.Second).String()
}
