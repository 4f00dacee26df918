package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/atseanpaul/build-kernel/src/build"
)

// CI environment detection.

func IsCI() bool {
	return os.Getenv("CI") == "true"
}

func IsGitLabCI() bool {
	return os.Getenv("GITLAB_CI") == "true"
}

// GitLab collapsible section helpers.

func SectionStart(w io.Writer, id, name string) {
	if !IsGitLabCI() {
		return
	}
	ts := time.Now().Unix()
	fmt.Fprintf(w, "\033[0Ksection_start:%d:%s\r\033[0K%s\n", ts, id, name)
}

func SectionEnd(w io.Writer, id string) {
	if !IsGitLabCI() {
		return
	}
	ts := time.Now().Unix()
	fmt.Fprintf(w, "\033[0Ksection_end:%d:%s\r\033[0K\n", ts, id)
}

// JUnit XML types for CI test reporting.

type JUnitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// WriteBuildJUnit writes build outcomes as JUnit XML for CI test reporting.
// Each target becomes a test suite, each build a test case; the failure body
// carries the diagnostic tail so the CI UI shows an actionable cause.
func WriteBuildJUnit(dir string, outcomes []build.Outcome, tailLines int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	byTarget := map[string][]build.Outcome{}
	var order []string
	for _, o := range outcomes {
		if _, ok := byTarget[o.Target]; !ok {
			order = append(order, o.Target)
		}
		byTarget[o.Target] = append(byTarget[o.Target], o)
	}

	var total time.Duration
	totalTests := 0
	totalFailures := 0
	var suites []JUnitTestSuite

	for _, target := range order {
		suite := JUnitTestSuite{Name: "kbuild/" + target}
		var suiteTime time.Duration

		for _, o := range byTarget[target] {
			tc := JUnitTestCase{
				Name:      o.Name,
				Classname: "kbuild." + target,
				Time:      fmt.Sprintf("%.3f", o.Duration().Seconds()),
			}
			if !o.Status.OK() {
				msg := string(o.Status)
				if o.Step != "" {
					msg = fmt.Sprintf("%s (step: %s)", o.Status, o.Step)
				}
				body := ""
				for _, l := range o.DiagnosticTail(tailLines) {
					body += l + "\n"
				}
				if o.Err != nil {
					body += o.Err.Error() + "\n"
				}
				tc.Failure = &JUnitFailure{
					Message: msg,
					Type:    string(o.Status),
					Body:    body,
				}
				suite.Failures++
				totalFailures++
			}
			suite.Cases = append(suite.Cases, tc)
			suite.Tests++
			totalTests++
			suiteTime += o.Duration()
		}

		suite.Time = fmt.Sprintf("%.3f", suiteTime.Seconds())
		total += suiteTime
		suites = append(suites, suite)
	}

	root := JUnitTestSuites{
		Name:     "kbuild",
		Tests:    totalTests,
		Failures: totalFailures,
		Time:     fmt.Sprintf("%.3f", total.Seconds()),
		Suites:   suites,
	}

	path := filepath.Join(dir, "builds.xml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	f.WriteString(xml.Header)
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encoding junit xml: %w", err)
	}
	f.WriteString("\n")

	return nil
}
