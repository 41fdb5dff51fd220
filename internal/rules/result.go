// Package rules implements the cross-entity business-rule validators. They
// are pure functions over domain values: callers fetch whatever context a
// check needs (existing accounts, categories, line counts) and pass it in.
// Errors block the operation; warnings are advisory and surfaced to the
// caller without blocking.
package rules

import "fmt"

// Result is the outcome of a business-rule check.
type Result struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

func newResult() Result {
	return Result{IsValid: true}
}

func (r *Result) addError(format string, args ...interface{}) {
	r.IsValid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Merge folds another result into this one.
func (r *Result) Merge(other Result) {
	if !other.IsValid {
		r.IsValid = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}
