// Package kver inspects a kernel source tree: its git identity and the
// kernel version declared in the top-level Makefile.
package kver

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	git "github.com/go-git/go-git/v5"
)

// TreeInfo holds resolved kernel tree metadata.
type TreeInfo struct {
	// SHA is the short HEAD commit, "unknown" outside a git checkout.
	SHA string
	// Branch is the checked-out branch name, empty on detached HEAD.
	Branch string
	// Version is the kernel version from the Makefile (VERSION.PATCHLEVEL.SUBLEVEL).
	Version *semver.Version
	// Extra is the Makefile EXTRAVERSION, e.g. "-rc3".
	Extra string
}

// String renders the version the way `make kernelversion` would.
func (t *TreeInfo) String() string {
	if t.Version == nil {
		return "unknown"
	}
	return t.Version.String() + t.Extra
}

// Detect resolves tree metadata. Git identity is best effort: a tarball
// checkout still gets a Makefile version, with SHA set to "unknown".
func Detect(tree string) (*TreeInfo, error) {
	info := &TreeInfo{SHA: "unknown"}

	v, extra, err := makefileVersion(filepath.Join(tree, "Makefile"))
	if err != nil {
		return nil, err
	}
	info.Version = v
	info.Extra = extra

	repo, err := git.PlainOpen(tree)
	if err != nil {
		return info, nil // not a git repo
	}
	head, err := repo.Head()
	if err != nil {
		return info, nil
	}
	info.SHA = head.Hash().String()[:7]
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info, nil
}

// Satisfies checks the tree version against a semver constraint like
// ">= 5.10". An empty constraint always passes.
func (t *TreeInfo) Satisfies(constraint string) error {
	if constraint == "" {
		return nil
	}
	if t.Version == nil {
		return fmt.Errorf("tree version unknown, cannot check %q", constraint)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("constraint %q: %w", constraint, err)
	}
	if !c.Check(t.Version) {
		return fmt.Errorf("kernel %s does not satisfy %q", t.String(), constraint)
	}
	return nil
}

// makefileVersion parses VERSION/PATCHLEVEL/SUBLEVEL/EXTRAVERSION from the
// kernel's top-level Makefile.
func makefileVersion(path string) (*semver.Version, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening kernel Makefile: %w", err)
	}
	defer f.Close()

	// The assignments sit at the very top of the Makefile; 20 lines is plenty.
	fields := map[string]string{}
	sc := bufio.NewScanner(f)
	for line := 0; sc.Scan() && line < 20 && len(fields) < 4; line++ {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "VERSION":
			fields["VERSION"] = strings.TrimSpace(v)
		case "PATCHLEVEL":
			fields["PATCHLEVEL"] = strings.TrimSpace(v)
		case "SUBLEVEL":
			fields["SUBLEVEL"] = strings.TrimSpace(v)
		case "EXTRAVERSION":
			fields["EXTRAVERSION"] = strings.TrimSpace(v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, "", err
	}

	if fields["VERSION"] == "" || fields["PATCHLEVEL"] == "" {
		return nil, "", fmt.Errorf("%s does not declare a kernel version", path)
	}
	sub := fields["SUBLEVEL"]
	if sub == "" {
		sub = "0"
	}

	v, err := semver.NewVersion(fmt.Sprintf("%s.%s.%s", fields["VERSION"], fields["PATCHLEVEL"], sub))
	if err != nil {
		return nil, "", fmt.Errorf("kernel version in %s: %w", path, err)
	}
	return v, fields["EXTRAVERSION"], nil
}
