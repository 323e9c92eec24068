package order

import "slices"

type Transition struct {
	ID   string
	From []State
	To   State
}

// Workflow is the set of transitions an order may take.
type Workflow struct {
	ID          string
	transitions []Transition
}

func NewWorkflow(id string, transitions ...Transition) *Workflow {
	return &Workflow{ID: id, transitions: transitions}
}

// DefaultWorkflow: draft orders are submitted for payment, then placed or
// canceled.
func DefaultWorkflow() *Workflow {
	return NewWorkflow("order_default",
		Transition{ID: "submit", From: []State{StateDraft}, To: StatePending},
		Transition{ID: "place", From: []State{StateDraft, StatePending}, To: StateCompleted},
		Transition{ID: "cancel", From: []State{StateDraft, StatePending}, To: StateCanceled},
	)
}

// Transitions lists the transitions available from state.
func (w *Workflow) Transitions(from State) []Transition {
	var out []Transition
	for _, t := range w.transitions {
		if slices.Contains(t.From, from) {
			out = append(out, t)
		}
	}
	return out
}

// TransitionTo finds the transition leading from one state directly to another.
func (w *Workflow) TransitionTo(from, to State) (Transition, bool) {
	for _, t := range w.Transitions(from) {
		if t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}
