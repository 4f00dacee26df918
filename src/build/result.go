package build

import (
	"strings"
	"time"
)

// Status classifies one completed orchestrator run.
type Status string

const (
	// StatusSuccess: toolchain exited zero, stderr policy satisfied, and every
	// requested artifact step succeeded.
	StatusSuccess Status = "success"
	// StatusConfigError: the descriptor was invalid; nothing was run.
	StatusConfigError Status = "config-error"
	// StatusToolchainFailure: the external build process exited non-zero.
	StatusToolchainFailure Status = "toolchain-failure"
	// StatusStderrFailure: exit zero, but diagnostics on stderr while the
	// descriptor requested fail-on-stderr.
	StatusStderrFailure Status = "stderr-failure"
	// StatusArtifactFailure: the build itself succeeded but a requested
	// post-build step (compile-db or packaging) failed.
	StatusArtifactFailure Status = "artifact-failure"
)

// OK reports whether the status counts as a clean build.
func (s Status) OK() bool { return s == StatusSuccess }

// Outcome is the immutable record of one orchestrator run. It is created once
// the run completes and handed to the caller; the reporting layer owns it from
// then on.
type Outcome struct {
	Name     string
	Target   string
	Strategy Strategy

	Status Status

	// Step is the phase that produced the failure, empty on success.
	Step Phase

	// Diagnostic holds the full captured stderr of the build, never truncated.
	Diagnostic string

	// Err carries the step error for artifact and configuration failures. For
	// artifact failures the build's own Diagnostic is preserved alongside it.
	Err error

	// OutputDir is the working tree this build wrote into.
	OutputDir string

	// CompileDBEntries counts translation units in the generated compilation
	// database, when one was requested and produced.
	CompileDBEntries int

	// Artifacts lists paths produced by post-build steps.
	Artifacts []string

	// Completion carries the descriptor's completion text on success, for
	// builds that want a reminder printed (flash instructions and the like).
	Completion string

	// Tree identity, for the report header. Best effort.
	TreeSHA    string
	TreeBranch string

	Start time.Time
	End   time.Time
}

// Duration returns the wall-clock time of the run.
func (o Outcome) Duration() time.Duration { return o.End.Sub(o.Start) }

// DiagnosticTail returns at most n trailing lines of the diagnostic output for
// compact reporting. The full text stays available in Diagnostic.
func (o Outcome) DiagnosticTail(n int) []string {
	if o.Diagnostic == "" || n <= 0 {
		return nil
	}
	lines := strings.Split(strings.TrimRight(o.Diagnostic, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
