package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Colors for terminal output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorBold  = "\033[1m"
)

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// UseColor returns true if colored output should be used.
// Respects NO_COLOR env, TERM=dumb, and terminal detection.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

// ErrorBlock renders a framed block of diagnostic lines for one failed build:
// which step failed and the (possibly truncated) stderr tail. An empty lines
// slice renders the clean-build variant.
func ErrorBlock(w io.Writer, title string, lines []string, truncated int, color bool) {
	bar := strings.Repeat("*", 59)

	head := func(s string) string {
		if color {
			return colorRed + s + colorReset
		}
		return s
	}

	fmt.Fprintf(w, "%s\n*\n", bar)
	if len(lines) == 0 {
		fmt.Fprintf(w, "*              %s\n", title+" IS CLEAN")
		fmt.Fprintf(w, "*\n%s\n", bar)
		return
	}

	fmt.Fprintf(w, "*              %s\n*\n", head(title))
	if truncated > 0 {
		fmt.Fprintf(w, "%s\n", Dimmed(fmt.Sprintf("... %d earlier line(s) omitted", truncated), color))
	}
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	fmt.Fprintf(w, "*\n%s\n", bar)
}

// Banner prints the tool identity header.
func Banner(w io.Writer, version, sha, branch string, color bool) {
	name := "kbuild"
	if color {
		name = colorBold + colorCyan + name + colorReset
	}
	id := version
	if sha != "" && sha != "unknown" {
		id += " · " + sha
		if branch != "" {
			id += " · " + branch
		}
	}
	fmt.Fprintf(w, "\n    %s %s\n", name, id)
}
