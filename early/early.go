// Package early provides the value an insert patch returns to short-circuit the patched function.
//
// A patch function declared to return Return is treated as an early-return patch: the code
// injected into the target checks IsPresent after the call and, when set, returns Get from the
// target immediately. Continue lets the target resume its normal body.
package early

// Return is either absent (continue the target) or present (return the held value).
type Return struct {
	present bool
	value   any
}

// Continue returns an absent Return, the patched function continues normally.
func Continue() Return {
	return Return{}
}

// With returns a present Return holding v.
// For a target with no result v is ignored, use Stop to make that explicit.
func With(v any) Return {
	return Return{present: true, value: v}
}

// Stop returns a present Return without a value, for targets that return nothing.
func Stop() Return {
	return Return{present: true}
}

// IsPresent reports if the patched function should return immediately.
func (r Return) IsPresent() bool {
	return r.present
}

// Get returns the held value, nil when absent.
func (r Return) Get() any {
	return r.value
}
