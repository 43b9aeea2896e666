package harness

import "github.com/roach88/crepo/internal/testutil"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq    int      `json:"seq"`
	Op     string   `json:"op"`
	Target string   `json:"target,omitempty"`
	Result []string `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"` // Error code, empty on success

	// Writes lists the write-side transport calls the step issued. Reads
	// are left out: they depend on cache state, not on what was asked.
	Writes []string `json:"writes,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Calls is the full transport call log after login.
	Calls []testutil.Call `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
