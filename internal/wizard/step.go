package wizard

import (
	"context"
	"slices"
)

// Step is one page of a wizard. Validate is called whenever the controller
// needs to know whether the page may be left or finished, so it must be cheap
// and must not call back into the Controller.
type Step interface {
	Validate() ValidationResult
	// Finish commits the wizard's work. It is only called on the last step.
	Finish(ctx context.Context) (any, error)
}

// Activator is implemented by steps that need to prepare themselves (load
// defaults, start fetching data) each time they become the current step.
type Activator interface {
	Activate()
}

// ValidationResult reports whether a step's input is acceptable.
// Reasons are user-facing messages in display order; Fields names the inputs
// they refer to.
type ValidationResult struct {
	OK      bool
	Reasons []string
	Fields  []string
}

// Valid returns a passing result.
func Valid() ValidationResult {
	return ValidationResult{OK: true}
}

// Invalid returns a failing result for a single field.
func Invalid(field, reason string) ValidationResult {
	r := ValidationResult{Reasons: []string{reason}}
	if field != "" {
		r.Fields = []string{field}
	}
	return r
}

// Merge combines two results. The combination is OK only if both are.
// Fields are de-duplicated; reasons keep their order.
func (v ValidationResult) Merge(o ValidationResult) ValidationResult {
	out := ValidationResult{
		OK:      v.OK && o.OK,
		Reasons: append(slices.Clone(v.Reasons), o.Reasons...),
		Fields:  slices.Clone(v.Fields),
	}
	for _, f := range o.Fields {
		if !slices.Contains(out.Fields, f) {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// HasField reports whether field was flagged.
func (v ValidationResult) HasField(field string) bool {
	return slices.Contains(v.Fields, field)
}

// activation returns the step's Activate method, or a no-op.
func activation(s Step) func() {
	if a, ok := s.(Activator); ok {
		return a.Activate
	}
	return func() {}
}
