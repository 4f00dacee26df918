package build

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Locations of the extraction script inside the kernel tree. Newer trees moved
// it under clang-tools.
var compileDBScripts = []string{
	"scripts/gen_compile_commands.py",
	"scripts/clang-tools/gen_compile_commands.py",
}

// compileDBEntry is one translation unit in the database. The schema is the
// clang compilation-database format consumed by external tooling.
type compileDBEntry struct {
	Directory string `json:"directory"`
	Command   string `json:"command"`
	File      string `json:"file"`
}

// generateCompileDB runs the kernel's extraction script against the build's
// intermediate output and verifies the resulting database parses. Stderr from
// the script never fails this step; only its exit status and the artifact do.
func (o *Orchestrator) generateCompileDB(ctx context.Context, outDir string) (entries int, path string, err error) {
	script, err := o.findCompileDBScript()
	if err != nil {
		return 0, "", err
	}

	cmd := Command{
		Path: script,
		Args: []string{"-d", outDir, "--log_level", "INFO"},
		Dir:  o.Tree,
	}
	o.banner(cmd)

	res, err := o.Launcher.Launch(ctx, cmd)
	if err != nil {
		return 0, "", fmt.Errorf("compile-db extraction: %w", err)
	}
	if res.ExitCode != 0 {
		return 0, "", fmt.Errorf("compile-db extraction exited with code %d", res.ExitCode)
	}

	path = filepath.Join(outDir, "compile_commands.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("compile-db artifact missing: %w", err)
	}
	var db []compileDBEntry
	if err := json.Unmarshal(data, &db); err != nil {
		return 0, "", fmt.Errorf("compile-db artifact unreadable: %w", err)
	}
	return len(db), path, nil
}

func (o *Orchestrator) findCompileDBScript() (string, error) {
	for _, rel := range compileDBScripts {
		abs := filepath.Join(o.Tree, rel)
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		}
	}
	return "", fmt.Errorf("gen_compile_commands.py not found under %s", o.Tree)
}
