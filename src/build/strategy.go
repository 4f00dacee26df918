package build

import "fmt"

// Phase names the orchestrator step a command belongs to. Outcome.Step carries
// the phase of the command that failed.
type Phase string

const (
	PhaseConfigure Phase = "configure"
	PhaseBuild     Phase = "build"
	PhaseInstall   Phase = "install"
	PhaseCompileDB Phase = "compile-db"
	PhasePackage   Phase = "package"
)

// planned is one resolved make invocation for a descriptor.
type planned struct {
	Phase   Phase
	Targets []string
	Env     map[string]string
}

// resolveStrategy maps a strategy onto its configure and build invocations.
// The mapping is a fixed, exhaustive table; documentation strategies resolve to
// the htmldocs target and never to a compiler invocation. Out-of-tree config
// files are handled by the orchestrator (copy then olddefconfig), so only the
// configure target is decided here.
func resolveStrategy(d Descriptor) ([]planned, error) {
	var cmds []planned

	switch d.Strategy {
	case StrategyDefconfig:
		target := d.Defconfig
		if d.ConfigFile != "" {
			target = "olddefconfig"
		}
		cmds = append(cmds, planned{Phase: PhaseConfigure, Targets: []string{target}})
	case StrategyAllmodconfig:
		cmds = append(cmds, planned{Phase: PhaseConfigure, Targets: []string{"allmodconfig"}})
	case StrategyAllyesconfig:
		cmds = append(cmds, planned{Phase: PhaseConfigure, Targets: []string{"allyesconfig"}})
	case StrategyHtmldocs:
		// Docs need no configuration pass.
	default:
		return nil, fmt.Errorf("no command mapping for strategy %q", d.Strategy)
	}

	if d.Strategy == StrategyHtmldocs {
		cmds = append(cmds, planned{Phase: PhaseBuild, Targets: []string{"htmldocs"}})
	} else {
		cmds = append(cmds, planned{Phase: PhaseBuild, Targets: []string{"all"}})
	}

	return cmds, nil
}
