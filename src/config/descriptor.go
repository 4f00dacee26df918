package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/atseanpaul/build-kernel/src/build"
)

// descriptorFile is the on-disk TOML schema for one build descriptor.
// Booleans that have strategy-dependent defaults are pointers so "unset" is
// distinguishable from "false".
type descriptorFile struct {
	Name           string   `toml:"name"`
	Target         string   `toml:"target"`
	Strategy       string   `toml:"strategy"`
	Defconfig      string   `toml:"defconfig"`
	ConfigFile     string   `toml:"config_file"`
	Jobs           int      `toml:"jobs"`
	CompileDB      *bool    `toml:"compile_db"`
	Package        bool     `toml:"package"`
	FailOnStderr   *bool    `toml:"fail_on_stderr"`
	InstallModules bool     `toml:"install_modules"`
	InstallHeaders bool     `toml:"install_headers"`
	Requires       string   `toml:"requires"`
	StderrIgnore   []string `toml:"stderr_ignore"`
	CompletionText string   `toml:"completion_text"`
}

// LoadDescriptor reads one TOML descriptor file. Unset fields take their
// defaults: the name comes from the filename, compile strategies fail on
// stderr and generate a compile database, documentation builds do neither
// unless the file says so.
func LoadDescriptor(path string) (build.Descriptor, error) {
	var d build.Descriptor

	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("reading descriptor: %w", err)
	}

	var f descriptorFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return d, fmt.Errorf("parsing %s: %w", path, err)
	}

	d = build.Descriptor{
		Name:           f.Name,
		Target:         f.Target,
		Strategy:       build.Strategy(f.Strategy),
		Defconfig:      f.Defconfig,
		ConfigFile:     f.ConfigFile,
		Jobs:           f.Jobs,
		Package:        f.Package,
		InstallModules: f.InstallModules,
		InstallHeaders: f.InstallHeaders,
		Requires:       f.Requires,
		StderrIgnore:   f.StderrIgnore,
		CompletionText: f.CompletionText,
	}

	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	// config_file paths are relative to the descriptor file, not the cwd.
	if d.ConfigFile != "" && !filepath.IsAbs(d.ConfigFile) {
		d.ConfigFile = filepath.Join(filepath.Dir(path), d.ConfigFile)
	}

	docs := d.Strategy.IsDocumentation()
	if f.FailOnStderr != nil {
		d.FailOnStderr = *f.FailOnStderr
	} else {
		d.FailOnStderr = !docs
	}
	if f.CompileDB != nil {
		d.CompileDB = *f.CompileDB
	} else {
		d.CompileDB = !docs
	}

	return d, nil
}

// LoadDescriptors loads several descriptor files, validating each. The first
// invalid descriptor aborts the load: a bad request should surface before any
// build starts, not midway through a sequence.
func LoadDescriptors(paths []string, extraIgnore []string) ([]build.Descriptor, error) {
	var ds []build.Descriptor
	for _, p := range paths {
		d, err := LoadDescriptor(p)
		if err != nil {
			return nil, err
		}
		d.StderrIgnore = append(d.StderrIgnore, extraIgnore...)
		if err := d.Validate(); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}

// InlineDescriptor is a build defined directly in the tool config, for setups
// that keep everything in one .kbuild.yml instead of per-build TOML files.
// The fields and defaulting rules match the descriptor file schema.
type InlineDescriptor struct {
	Name           string   `yaml:"name"`
	Target         string   `yaml:"target"`
	Strategy       string   `yaml:"strategy"`
	Defconfig      string   `yaml:"defconfig"`
	ConfigFile     string   `yaml:"config_file"`
	Jobs           int      `yaml:"jobs"`
	CompileDB      *bool    `yaml:"compile_db"`
	Package        bool     `yaml:"package"`
	FailOnStderr   *bool    `yaml:"fail_on_stderr"`
	InstallModules bool     `yaml:"install_modules"`
	InstallHeaders bool     `yaml:"install_headers"`
	Requires       string   `yaml:"requires"`
	StderrIgnore   []string `yaml:"stderr_ignore"`
	CompletionText string   `yaml:"completion_text"`
}

// InlineDescriptors converts the config's builds section, applying the same
// defaults and validation as file-based descriptors.
func (c *Config) InlineDescriptors() ([]build.Descriptor, error) {
	var ds []build.Descriptor
	for i, f := range c.Builds {
		d := build.Descriptor{
			Name:           f.Name,
			Target:         f.Target,
			Strategy:       build.Strategy(f.Strategy),
			Defconfig:      f.Defconfig,
			ConfigFile:     f.ConfigFile,
			Jobs:           f.Jobs,
			Package:        f.Package,
			InstallModules: f.InstallModules,
			InstallHeaders: f.InstallHeaders,
			Requires:       f.Requires,
			StderrIgnore:   f.StderrIgnore,
			CompletionText: f.CompletionText,
		}
		if d.Name == "" {
			d.Name = fmt.Sprintf("build-%d", i+1)
		}

		docs := d.Strategy.IsDocumentation()
		if f.FailOnStderr != nil {
			d.FailOnStderr = *f.FailOnStderr
		} else {
			d.FailOnStderr = !docs
		}
		if f.CompileDB != nil {
			d.CompileDB = *f.CompileDB
		} else {
			d.CompileDB = !docs
		}

		d.StderrIgnore = append(d.StderrIgnore, c.StderrIgnore...)
		if err := d.Validate(); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}
