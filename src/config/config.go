package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = ".kbuild.yml"

// Config is the top-level kbuild configuration. The kernel tree and build root
// are explicit values here rather than implicit per-user directory lookups, so
// two checkouts with different configs never interfere.
type Config struct {
	// Tree is the kernel source tree the toolchain runs in. Default: cwd.
	Tree string `yaml:"tree"`

	// BuildRoot is where per-descriptor output directories are created.
	// Default: the tree itself.
	BuildRoot string `yaml:"build_root"`

	// Jobs is the default -j level for builds whose descriptor sets none.
	Jobs int `yaml:"jobs"`

	// Make is the build entry point, e.g. "make" or a cross-build wrapper.
	Make string `yaml:"make"`

	// Compiler and CompilerInstall select the toolchain for wrapper scripts
	// (exported as COMPILER and COMPILER_INSTALL_PATH).
	Compiler        string `yaml:"compiler"`
	CompilerInstall string `yaml:"compiler_install"`

	// StderrIgnore lists regex patterns whose matching stderr lines never
	// count against fail_on_stderr, for all descriptors.
	StderrIgnore []string `yaml:"stderr_ignore"`

	// Builds defines descriptors inline, used when the build command gets no
	// descriptor file arguments.
	Builds []InlineDescriptor `yaml:"builds"`

	Package PackageConfig `yaml:"package"`
	Badge   BadgeConfig   `yaml:"badge"`
	Report  ReportConfig  `yaml:"report"`
}

// PackageConfig holds the external packaging tool paths. All optional; see
// build.PackageTools for the degradation order.
type PackageConfig struct {
	Mkimage      string `yaml:"mkimage"`
	ItsFile      string `yaml:"its_file"`
	VbutilKernel string `yaml:"vbutil_kernel"`
	Keyblock     string `yaml:"keyblock"`
	DataKey      string `yaml:"data_key"`
	Cmdline      string `yaml:"cmdline"`
	VbutilArch   string `yaml:"vbutil_arch"`
}

// BadgeConfig controls the optional per-build SVG status badge artifact.
type BadgeConfig struct {
	// Enabled turns badge generation on.
	Enabled bool `yaml:"enabled"`
	// Dir is where badges are written. Default: .kbuild/badges.
	Dir string `yaml:"dir"`
	// FontFile is an optional TTF/OTF used for measured text widths; without
	// it the badge falls back to estimated widths.
	FontFile string `yaml:"font_file"`
	// FontSize is the point size. Default: 11.
	FontSize float64 `yaml:"font_size"`
}

// ReportConfig controls console and CI reporting.
type ReportConfig struct {
	// DiagnosticLines caps the stderr tail shown per failed build. The full
	// text is always kept on the outcome. Default: 40.
	DiagnosticLines int `yaml:"diagnostic_lines"`
	// JUnitDir, when set, receives a JUnit XML report of the run for CI test
	// visualization.
	JUnitDir string `yaml:"junit_dir"`
}

// Load reads configuration from a YAML file. If path is empty, it tries the
// default file. Returns defaults if the file doesn't exist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Tree:   ".",
		Jobs:   1,
		Make:   "make",
		Badge:  BadgeConfig{Dir: ".kbuild/badges", FontSize: 11},
		Report: ReportConfig{DiagnosticLines: 40},
	}
}

// Normalize fills derived fields after loading.
func (c *Config) Normalize() {
	if c.BuildRoot == "" {
		c.BuildRoot = c.Tree
	}
	if c.Badge.Dir == "" {
		c.Badge.Dir = ".kbuild/badges"
	}
	if c.Badge.FontSize == 0 {
		c.Badge.FontSize = 11
	}
	if c.Report.DiagnosticLines == 0 {
		c.Report.DiagnosticLines = 40
	}
}
