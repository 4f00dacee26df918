package build

import "context"

// Runner processes descriptors strictly in input order, one at a time. Builds
// are never run concurrently: each saturates the machine on its own, and two
// configurations sharing a working tree would corrupt each other.
type Runner struct {
	Orchestrator *Orchestrator

	// ContinueOnFailure processes every descriptor regardless of individual
	// outcomes. The default is fail-fast: stop after the first non-success
	// outcome and return the outcomes gathered so far, the failing one last.
	ContinueOnFailure bool
}

// RunAll drives the sequence. The returned slice holds one Outcome per
// attempted descriptor, in input order.
func (r *Runner) RunAll(ctx context.Context, descriptors []Descriptor) []Outcome {
	outcomes := make([]Outcome, 0, len(descriptors))
	for _, d := range descriptors {
		out := r.Orchestrator.Run(ctx, d)
		outcomes = append(outcomes, out)
		if !out.Status.OK() && !r.ContinueOnFailure {
			break
		}
	}
	return outcomes
}
