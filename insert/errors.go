package insert

import (
	"errors"
	"fmt"
)

// ErrInsufficientParameters indicates the patch declares more locals than it has trailing parameters for.
var ErrInsufficientParameters = errors.New("insufficient method parameters to accept localvars")

// ErrUnsupportedTarget indicates a dialect can not express a call into the given target.
var ErrUnsupportedTarget = errors.New("unsupported target for insert patch")

// ErrNoPoints indicates a patch was configured without insertion points.
var ErrNoPoints = errors.New("insert patch has no insertion points")

// ByRefParameterNotArrayError is returned when a by-ref annotated patch parameter is not a cell type.
type ByRefParameterNotArrayError struct {
	// Index is the parameter position in the patch signature.
	Index int
}

func (e *ByRefParameterNotArrayError) Error() string {
	return fmt.Sprintf("parameter %d is not an array", e.Index)
}

// CompileError is returned by a host when a fragment is rejected.
type CompileError struct {
	// Line is the offset the fragment was inserted at.
	Line int
	// Messages holds the individual compiler diagnostics.
	Messages []string
	// Err is the underlying failure, if any.
	Err error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("cannot compile fragment at line %d", e.Line)
	if len(e.Messages) == 1 {
		msg += ": " + e.Messages[0]
	} else if len(e.Messages) > 1 {
		msg += fmt.Sprintf(": %s (and %d more)", e.Messages[0], len(e.Messages)-1)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Variant identifies which lowering of a fragment was attempted.
type Variant string

const (
	// VariantNone marks failures that happened before any source was generated.
	VariantNone Variant = ""
	// VariantPrimary is the short-name lowering.
	VariantPrimary Variant = "primary"
	// VariantFallback is the qualified-name lowering.
	VariantFallback Variant = "fallback"
)

// PatchingError is the single failure type of an insert patch, wrapping the underlying cause.
type PatchingError struct {
	// Point is the insertion point being processed, nil for configuration errors.
	Point *InsertionPoint
	// Variant is the source variant the failure is reported against.
	Variant Variant
	// Source is the generated source of Variant.
	Source string
	// Err is the cause.
	Err error
}

func (e *PatchingError) Error() string {
	if e.Point == nil {
		return "insert patch failed: " + e.Err.Error()
	}
	return fmt.Sprintf("insert @ %d failed compiling %s source: %v", e.Point.Line, e.Variant, e.Err)
}

func (e *PatchingError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports if err was caused by the patch declaration rather than a compile failure.
func IsConfigurationError(err error) bool {
	var byRef *ByRefParameterNotArrayError
	return errors.As(err, &byRef) ||
		errors.Is(err, ErrInsufficientParameters) ||
		errors.Is(err, ErrUnsupportedTarget) ||
		errors.Is(err, ErrNoPoints)
}
