package flow

import (
	"sort"

	dispute "github.com/goliatone/go-dispute"
)

// Outcome selects a branch out of a step. Linear steps report OutcomeNext.
type Outcome string

const (
	OutcomeNext     Outcome = ""
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomePending  Outcome = "pending"
)

// Transition describes where a step leads. A step has either a single Next
// or a set of Branches keyed by outcome. A branch that points back at its
// own step marks the suspension point.
type Transition struct {
	Next     dispute.Step
	Branches map[Outcome]dispute.Step
}

// Transitions is the pipeline graph.
type Transitions map[dispute.Step]Transition

// DefaultTransitions returns the dispute pipeline.
func DefaultTransitions() Transitions {
	return Transitions{
		dispute.StepFetchData:          {Next: dispute.StepValidateDispute},
		dispute.StepValidateDispute:    {Next: dispute.StepGenerateResolution},
		dispute.StepGenerateResolution: {Next: dispute.StepSendHumanReview},
		dispute.StepSendHumanReview:    {Next: dispute.StepWaitHumanReview},
		dispute.StepWaitHumanReview: {Branches: map[Outcome]dispute.Step{
			OutcomeApproved: dispute.StepExecuteResolution,
			OutcomeRejected: dispute.StepHandleError,
			OutcomePending:  dispute.StepWaitHumanReview,
		}},
		dispute.StepExecuteResolution: {Next: dispute.StepStoreResults},
		dispute.StepStoreResults:      {Next: dispute.StepCompleted},
		dispute.StepHandleError:       {Next: dispute.StepError},
	}
}

// Next resolves the successor of step for outcome.
func (t Transitions) Next(step dispute.Step, outcome Outcome) (dispute.Step, error) {
	tr, ok := t[step]
	if !ok {
		return "", invalidTransition(step, outcome)
	}
	if tr.Branches != nil {
		next, ok := tr.Branches[outcome]
		if !ok {
			return "", invalidTransition(step, outcome)
		}
		return next, nil
	}
	if outcome != OutcomeNext || tr.Next == "" {
		return "", invalidTransition(step, outcome)
	}
	return tr.Next, nil
}

// Suspends reports whether outcome parks the run at step.
func (t Transitions) Suspends(step dispute.Step, outcome Outcome) bool {
	tr, ok := t[step]
	return ok && tr.Branches != nil && tr.Branches[outcome] == step
}

// ValidateTransitions checks the table against the executors: every
// non-terminal step has an executor and a successor, every successor is
// known, handle_error leads to the error marker, every step is reachable
// from fetch_data and there is exactly one suspension point.
func ValidateTransitions(t Transitions, executors map[dispute.Step]StepExecutor) error {
	if len(t) == 0 {
		return invalidTable("transition table is empty")
	}
	known := func(s dispute.Step) bool {
		if s.Terminal() {
			return true
		}
		_, ok := t[s]
		return ok
	}

	suspensions := 0
	for _, step := range sortedSteps(t) {
		tr := t[step]
		if step.Terminal() {
			return invalidTable("terminal marker %s cannot have transitions", step)
		}
		if _, ok := executors[step]; !ok {
			return invalidTable("step %s has no executor", step)
		}
		if tr.Branches == nil && tr.Next == "" {
			return invalidTable("step %s has no successor", step)
		}
		if tr.Branches != nil && tr.Next != "" {
			return invalidTable("step %s declares both next and branches", step)
		}
		for _, succ := range successors(tr) {
			if !known(succ) {
				return invalidTable("step %s leads to unknown step %s", step, succ)
			}
			if succ == step {
				suspensions++
			}
		}
	}

	handle, ok := t[dispute.StepHandleError]
	if !ok {
		return invalidTable("handle_error step missing")
	}
	if handle.Next != dispute.StepError {
		return invalidTable("handle_error must lead to %s", dispute.StepError)
	}
	if suspensions != 1 {
		return invalidTable("expected exactly one suspension point, found %d", suspensions)
	}

	reached := map[dispute.Step]bool{dispute.StepFetchData: true, dispute.StepHandleError: true}
	queue := []dispute.Step{dispute.StepFetchData}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, succ := range successors(t[cur]) {
			if !succ.Terminal() && !reached[succ] {
				reached[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	for step := range t {
		if !reached[step] {
			return invalidTable("step %s is unreachable", step)
		}
	}
	if !reachesTerminal(t, dispute.StepCompleted) {
		return invalidTable("no path reaches %s", dispute.StepCompleted)
	}
	return nil
}

func reachesTerminal(t Transitions, marker dispute.Step) bool {
	for _, tr := range t {
		for _, succ := range successors(tr) {
			if succ == marker {
				return true
			}
		}
	}
	return false
}

func successors(tr Transition) []dispute.Step {
	if tr.Branches == nil {
		if tr.Next == "" {
			return nil
		}
		return []dispute.Step{tr.Next}
	}
	out := make([]dispute.Step, 0, len(tr.Branches))
	for _, s := range tr.Branches {
		out = append(out, s)
	}
	return out
}

func sortedSteps(t Transitions) []dispute.Step {
	out := make([]dispute.Step, 0, len(t))
	for s := range t {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
