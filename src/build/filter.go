package build

import (
	"fmt"
	"regexp"
	"strings"
)

// defaultIgnore drops known-noisy toolchain warnings that do not indicate a
// broken build. Kept small on purpose; per-descriptor patterns extend it.
var defaultIgnore = []*regexp.Regexp{
	regexp.MustCompile(`#warning syscall (io_pgetevents|rseq) not implemented`),
}

// StderrFilter strips ignorable lines from captured stderr before the
// fail-on-stderr check. The unfiltered text is always preserved on the
// Outcome; only classification looks at the filtered view.
type StderrFilter struct {
	ignore []*regexp.Regexp
}

// NewStderrFilter builds a filter from the default ignore set plus extra
// patterns (typically from the descriptor or tool config).
func NewStderrFilter(extra []string) (*StderrFilter, error) {
	f := &StderrFilter{ignore: append([]*regexp.Regexp{}, defaultIgnore...)}
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("stderr ignore pattern %q: %w", p, err)
		}
		f.ignore = append(f.ignore, re)
	}
	return f, nil
}

// Apply returns the stderr lines that survive filtering, preserving order.
func (f *StderrFilter) Apply(stderr string) []string {
	if stderr == "" {
		return nil
	}
	var kept []string
	for _, line := range strings.Split(strings.TrimRight(stderr, "\n"), "\n") {
		if f.ignored(line) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

func (f *StderrFilter) ignored(line string) bool {
	for _, re := range f.ignore {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
