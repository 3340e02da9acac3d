package insert

import (
	"strings"
)

// TypeKind classifies a TypeRef.
type TypeKind uint8

const (
	// KindVoid is the absence of a type (no result).
	KindVoid TypeKind = iota
	// KindBasic is a primitive / builtin type (int, bool, char, string...).
	KindBasic
	// KindNamed is any declared type referenced by name.
	KindNamed
	// KindArray is an array or slice, Elem holds the element type.
	KindArray
	// KindPointer is a pointer, Elem holds the pointed to type.
	KindPointer
	// KindTuple is a multi-value result.
	KindTuple
)

// TypeRef describes a type as the host reports it.
type TypeRef struct {
	// Kind classifies the type.
	Kind TypeKind
	// Name is the host name of the type, fully qualified when the host qualifies names
	// (e.g. "int", "com.foo.Bar", "game.Card", "int[]").
	Name string
	// Expr is the type as written in its declaring source, empty if equal to Name.
	Expr string
	// Elem is the element type for KindArray and KindPointer.
	Elem *TypeRef
	// Variadic marks a final ...T parameter, represented as a KindArray of T.
	Variadic bool
}

// Void is the TypeRef of a function without result.
var Void = TypeRef{Kind: KindVoid, Name: "void"}

// IsVoid reports if the type represents no value.
func (t TypeRef) IsVoid() bool {
	return t.Kind == KindVoid
}

// IsPrimitive reports if the type is a builtin value type.
func (t TypeRef) IsPrimitive() bool {
	return t.Kind == KindBasic
}

// IsCell reports if values of this type can be mutated by a callee, allowing a local to be exchanged by reference.
func (t TypeRef) IsCell() bool {
	return (t.Kind == KindArray || t.Kind == KindPointer) && t.Elem != nil
}

// SourceExpr returns the type as it should be written in generated source.
func (t TypeRef) SourceExpr() string {
	if t.Expr != "" {
		return t.Expr
	}
	return t.Name
}

// ShortName returns the name without any package qualifier.
func (t TypeRef) ShortName() string {
	if i := strings.LastIndex(t.Name, "."); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}

func (t TypeRef) String() string {
	return t.SourceExpr()
}

// TargetMethod is the function being patched. It is owned by the host, the engine only reads its
// shape and requests insertions into its body.
type TargetMethod interface {
	// ParameterTypes returns the ordered parameter types, excluding any receiver.
	ParameterTypes() []TypeRef
	// ReturnType returns the declared result, Void if none.
	ReturnType() TypeRef
	// IsStatic reports if the target has no receiver.
	IsStatic() bool
	// DeclaringType returns the identity of the type (or package) declaring the target.
	DeclaringType() string
	// InsertAt compiles the fragment and splices it into the body at the given offset.
	// A rejected fragment must return an error (typically *CompileError) and leave the body unchanged.
	InsertAt(offset int, fragment string) error
}

// NamedTarget is implemented by targets whose receiver and parameters can be referenced by name
// from generated source. Dialects without host placeholders (like $0 and $$) require it.
type NamedTarget interface {
	TargetMethod
	// ReceiverName returns the receiver identifier, empty for static targets.
	ReceiverName() string
	// ParameterNames returns an identifier per ParameterTypes entry.
	ParameterNames() []string
}

// PatchParameter is a single parameter of a patch function with its annotations.
type PatchParameter struct {
	// Name is the parameter identifier, may be empty.
	Name string
	// Type is the declared parameter type.
	Type TypeRef
	// ByRef marks the parameter as a two-way exchange for a captured local.
	ByRef bool
	// TypeName is an explicit type name used to convert the local when written back, empty for none.
	TypeName string
}

// PatchMethod is the externally authored function invoked from the target.
type PatchMethod interface {
	// Parameters returns the ordered parameters with their annotations.
	Parameters() []PatchParameter
	// ReturnType returns the declared result, Void if none.
	ReturnType() TypeRef
	// DeclaringType returns the qualifier used to reference the patch from the target, empty if unqualified.
	DeclaringType() string
	// Name returns the patch function name.
	Name() string
}

// PointType tags how an insertion point was originally requested.
type PointType uint8

const (
	// PointAbsolute was requested as an absolute line.
	PointAbsolute PointType = iota
	// PointRelative was requested relative to the start of the target.
	PointRelative
)

func (p PointType) String() string {
	if p == PointRelative {
		return "relative"
	}
	return "absolute"
}

// InsertionPoint is a single resolved location to insert at.
type InsertionPoint struct {
	// Type records how the point was requested.
	Type PointType
	// Line is the resolved absolute offset.
	Line int
	// RelativeLine is the requested relative offset, only meaningful for PointRelative.
	RelativeLine int
}

// AbsolutePoint creates an InsertionPoint for an absolute line.
func AbsolutePoint(line int) InsertionPoint {
	return InsertionPoint{Type: PointAbsolute, Line: line}
}

// RelativePoint creates an InsertionPoint resolved to line, requested as relativeLine.
func RelativePoint(line, relativeLine int) InsertionPoint {
	return InsertionPoint{Type: PointRelative, Line: line, RelativeLine: relativeLine}
}

// CapturedLocal is a target local declared for exchange with the patch call.
type CapturedLocal struct {
	// Name is the local identifier in the target.
	Name string
	// Index is the position within the patch's trailing parameter block.
	Index int
	// ByRef reports if the local is exchanged through a cell and written back.
	ByRef bool
	// CellType is the by-ref patch parameter type, unset for by-value locals.
	CellType TypeRef
	// Type is the element type of CellType, the real type of the local.
	Type TypeRef
	// TypeName is the explicit conversion used on write back, empty for none.
	TypeName string
}
