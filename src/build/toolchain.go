package build

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Command is one external invocation the orchestrator wants run: an argv, a
// working directory, and extra environment entries appended to the parent's.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // KEY=VALUE entries appended to os.Environ()
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// LaunchResult is what the orchestrator classifies: the toolchain's exit code
// and its full error-stream output. Stdout is streamed through for progress
// visibility and never captured.
type LaunchResult struct {
	ExitCode int
	Stderr   []byte
}

// Launcher runs external commands. The production implementation spawns real
// processes; tests substitute a fake so no compiler is ever needed.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (*LaunchResult, error)
}

// ExecLauncher spawns commands as child processes. Stdout streams to Stdout as
// it is produced; stderr is echoed to Stderr line by line and captured in full.
type ExecLauncher struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Verbose bool
}

// NewExecLauncher creates a launcher wired to the process's own streams.
func NewExecLauncher(verbose bool) *ExecLauncher {
	return &ExecLauncher{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Verbose: verbose,
	}
}

// Launch runs cmd and waits for it. A non-zero exit is not an error here: the
// caller owns classification, so only spawn/plumbing problems return err.
//
// The child is started in its own process group and the whole group is killed
// on context cancellation, so a cancelled build leaves no orphaned make jobs.
func (l *ExecLauncher) Launch(ctx context.Context, cmd Command) (*LaunchResult, error) {
	if l.Verbose {
		slog.Debug("launching toolchain command", "cmd", cmd.String(), "dir", cmd.Dir)
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		// Negative pid signals the whole group, taking make's children with it.
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
	c.WaitDelay = 10 * time.Second

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	var captured bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		return pumpLines(stdout, l.Stdout, nil)
	})
	g.Go(func() error {
		return pumpLines(stderr, l.Stderr, &captured)
	})

	pumpErr := g.Wait()
	waitErr := c.Wait()

	res := &LaunchResult{Stderr: captured.Bytes()}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("waiting for %s: %w", cmd.Path, waitErr)
		}
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if pumpErr != nil {
		return res, fmt.Errorf("reading %s output: %w", cmd.Path, pumpErr)
	}
	return res, nil
}

// pumpLines copies lines from r to w, additionally appending them to capture
// when non-nil. Lines are forwarded as they arrive so progress stays live.
func pumpLines(r io.Reader, w io.Writer, capture *bytes.Buffer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if w != nil {
			w.Write(line)
			w.Write([]byte{'\n'})
		}
		if capture != nil {
			capture.Write(line)
			capture.WriteByte('\n')
		}
	}
	return sc.Err()
}
