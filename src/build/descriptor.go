package build

import (
	"fmt"
	"path/filepath"
)

// Strategy selects how the kernel configuration is generated before the build.
type Strategy string

const (
	// StrategyDefconfig uses the target's minimal default configuration.
	StrategyDefconfig Strategy = "defconfig"
	// StrategyAllmodconfig enables every option that can be built as a module.
	StrategyAllmodconfig Strategy = "allmodconfig"
	// StrategyAllyesconfig enables every driver built-in.
	StrategyAllyesconfig Strategy = "allyesconfig"
	// StrategyHtmldocs builds the HTML documentation instead of the kernel.
	StrategyHtmldocs Strategy = "htmldocs"
)

// Strategies lists every supported strategy, in display order.
func Strategies() []Strategy {
	return []Strategy{StrategyDefconfig, StrategyAllmodconfig, StrategyAllyesconfig, StrategyHtmldocs}
}

// IsDocumentation reports whether this strategy builds docs rather than code.
func (s Strategy) IsDocumentation() bool { return s == StrategyHtmldocs }

// Descriptor describes one build request. It is immutable once loaded; the
// orchestrator never writes to it and holds no process resources through it.
type Descriptor struct {
	// Name identifies the build in logs and reports.
	Name string

	// Target is the kernel architecture (arm, arm64, x86_64) or "docs" for
	// documentation-only builds.
	Target string

	// Strategy selects the configuration-generation mode.
	Strategy Strategy

	// Defconfig names an in-tree defconfig make target (e.g. "multi_v7_defconfig").
	// Only meaningful with StrategyDefconfig. Mutually exclusive with ConfigFile.
	Defconfig string

	// ConfigFile is an out-of-tree .config copied into the build directory and
	// refreshed with olddefconfig. Mutually exclusive with Defconfig.
	ConfigFile string

	// Jobs overrides the configured -j level for this build. Zero means
	// use the tool default.
	Jobs int

	// CompileDB requests a compile_commands.json artifact after a successful build.
	CompileDB bool

	// Package requests a distributable package after a successful build.
	Package bool

	// FailOnStderr treats any diagnostic output on the toolchain's error stream
	// as a build failure even when the toolchain exits zero. Compile strategies
	// default this to true; htmldocs defaults it to false. Descriptor files can
	// set it either way.
	FailOnStderr bool

	// InstallModules runs modules_install into the build tree after the build.
	InstallModules bool

	// InstallHeaders runs headers_install into the build tree after the build.
	InstallHeaders bool

	// Requires is an optional semver constraint on the kernel tree version,
	// e.g. ">= 5.10". Checked before the build is attempted.
	Requires string

	// StderrIgnore holds extra regex patterns whose matching stderr lines are
	// discarded before the FailOnStderr check.
	StderrIgnore []string

	// CompletionText is printed verbatim when the build finishes successfully.
	CompletionText string
}

// ConfigError reports a structurally invalid descriptor. The build is never
// attempted when validation fails.
type ConfigError struct {
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Name == "" {
		return "invalid descriptor: " + e.Reason
	}
	return fmt.Sprintf("invalid descriptor %q: %s", e.Name, e.Reason)
}

// Validate checks the descriptor's structural invariants.
func (d Descriptor) Validate() error {
	if d.Target == "" {
		return &ConfigError{Name: d.Name, Reason: "target is required"}
	}
	if d.Strategy == "" {
		return &ConfigError{Name: d.Name, Reason: "strategy is required"}
	}
	switch d.Strategy {
	case StrategyDefconfig, StrategyAllmodconfig, StrategyAllyesconfig, StrategyHtmldocs:
	default:
		return &ConfigError{Name: d.Name, Reason: fmt.Sprintf("unknown strategy %q (supported: %v)", d.Strategy, Strategies())}
	}
	if d.Defconfig != "" && d.ConfigFile != "" {
		return &ConfigError{Name: d.Name, Reason: "defconfig and config_file are mutually exclusive"}
	}
	if d.Defconfig != "" && d.Strategy != StrategyDefconfig {
		return &ConfigError{Name: d.Name, Reason: fmt.Sprintf("defconfig is only valid with strategy %q", StrategyDefconfig)}
	}
	if d.Strategy == StrategyDefconfig && d.Defconfig == "" && d.ConfigFile == "" {
		return &ConfigError{Name: d.Name, Reason: "defconfig strategy needs a defconfig name or a config_file"}
	}
	if d.Jobs < 0 {
		return &ConfigError{Name: d.Name, Reason: "jobs must be >= 0"}
	}
	return nil
}

// OutputDir returns the per-build output directory under root. The naming
// scheme keeps separate trees per arch and config so repeated runs reuse
// incremental state: .<prefix>_<arch>-<postfix>.
func (d Descriptor) OutputDir(root string) string {
	prefix := "build"
	if d.Strategy.IsDocumentation() {
		prefix = "htmldocs"
	}

	postfix := string(d.Strategy)
	switch {
	case d.Defconfig != "":
		postfix = d.Defconfig
	case d.ConfigFile != "":
		postfix = filepath.Base(d.ConfigFile)
	}

	return filepath.Join(root, fmt.Sprintf(".%s_%s-%s", prefix, d.Target, postfix))
}
