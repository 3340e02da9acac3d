package insert

import (
	"strings"
)

var (
	intType    = TypeRef{Kind: KindBasic, Name: "int"}
	stringType = TypeRef{Kind: KindNamed, Name: "java.lang.String", Expr: "String"}
	intArray   = TypeRef{Kind: KindArray, Name: "int[]", Elem: &intType}
	intPointer = TypeRef{Kind: KindPointer, Name: "*int", Elem: &intType}
)

type insertCall struct {
	line int
	src  string
}

// fakeTarget records insertions, reject decides per attempt if the host compiler refuses the source.
type fakeTarget struct {
	params     []TypeRef
	paramNames []string
	recv       string
	result     TypeRef
	static     bool
	declType   string
	reject     func(attempt int, line int, src string) error

	attempts []insertCall
	inserted []insertCall
}

func (f *fakeTarget) ParameterTypes() []TypeRef {
	return f.params
}

func (f *fakeTarget) ParameterNames() []string {
	return f.paramNames
}

func (f *fakeTarget) ReceiverName() string {
	return f.recv
}

func (f *fakeTarget) ReturnType() TypeRef {
	return f.result
}

func (f *fakeTarget) IsStatic() bool {
	return f.static
}

func (f *fakeTarget) DeclaringType() string {
	return f.declType
}

func (f *fakeTarget) InsertAt(line int, src string) error {
	f.attempts = append(f.attempts, insertCall{line: line, src: src})
	if f.reject != nil {
		if err := f.reject(len(f.attempts), line, src); err != nil {
			return err
		}
	}
	f.inserted = append(f.inserted, insertCall{line: line, src: src})
	return nil
}

// unnamedTarget hides the NamedTarget methods of a fakeTarget.
type unnamedTarget struct {
	TargetMethod
}

type fakePatch struct {
	params   []PatchParameter
	result   TypeRef
	declType string
	name     string
}

func (p *fakePatch) Parameters() []PatchParameter {
	return p.params
}

func (p *fakePatch) ReturnType() TypeRef {
	return p.result
}

func (p *fakePatch) DeclaringType() string {
	return p.declType
}

func (p *fakePatch) Name() string {
	return p.name
}

// squash collapses whitespace so formatted Go source can be compared on a single line.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
