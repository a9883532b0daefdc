package harness

import "github.com/roach88/entitysync/internal/itemstore"

// StepTrace records what one step's commit reported.
type StepTrace struct {
	Step         int      `json:"step"`
	Name         string   `json:"name,omitempty"`
	TxID         string   `json:"tx,omitempty"`
	Found        int      `json:"found"`
	Created      int      `json:"created"`
	Materialized int      `json:"materialized"`
	Deleted      int      `json:"deleted"`
	Problems     []string `json:"problems,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors describes every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Items is the store content after the last step.
	Items []itemstore.ItemSnapshot `json:"items"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step trace.
func (r *Result) AddStep(st StepTrace) {
	r.Trace = append(r.Trace, st)
}
