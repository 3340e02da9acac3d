package insert

import (
	"fmt"
	"io"
	"strings"
)

// PointState is the progress of a single insertion point through Apply.
type PointState uint8

const (
	PointPending PointState = iota
	PointCompilingPrimary
	PointCompilingFallback
	PointInserted
	PointFailed
)

func (s PointState) String() string {
	switch s {
	case PointPending:
		return "pending"
	case PointCompilingPrimary:
		return "compiling_primary"
	case PointCompilingFallback:
		return "compiling_fallback"
	case PointInserted:
		return "inserted"
	case PointFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// PointOutcome records what happened at one insertion point during the last Apply.
type PointOutcome struct {
	Point InsertionPoint
	State PointState
	// Variant is the accepted variant when inserted, or the reported variant when failed.
	Variant Variant
	// Source is the generated source of Variant.
	Source string
	// Err is set for a failed point.
	Err error
}

// InsertPatch injects a call to Patch into Target at each of Points.
type InsertPatch struct {
	Target TargetMethod
	Patch  PatchMethod
	// LocalVars are the target locals captured by the patch, mapped in order to its trailing parameters.
	LocalVars []string
	// Points are applied in order, the first failure aborts the remaining points.
	Points []InsertionPoint
	// Dialect lowers fragments, defaults to JavassistDialect.
	Dialect Dialect
	// QualifyPrefix is prepended to explicit type names in the fallback source.
	// When empty the dialect's DefaultQualifyPrefix is used, if it has one.
	QualifyPrefix string
	// Debug receives the source of each insertion, may be nil.
	Debug io.Writer

	outcomes []PointOutcome
}

func (p *InsertPatch) dialect() Dialect {
	if p.Dialect == nil {
		return JavassistDialect{}
	}
	return p.Dialect
}

func (p *InsertPatch) qualifyPrefix(d Dialect) string {
	if p.QualifyPrefix != "" {
		return p.QualifyPrefix
	}
	if q, ok := d.(DefaultQualifier); ok {
		return q.DefaultQualifyPrefix()
	}
	return ""
}

// Kind returns PatchInsert.
func (p *InsertPatch) Kind() PatchKind {
	return PatchInsert
}

// Ordering returns the priority the patch is applied with relative to other patch kinds.
func (p *InsertPatch) Ordering() int {
	return PatchInsert.Priority()
}

// Outcomes returns the per point results of the last Apply call.
func (p *InsertPatch) Outcomes() []PointOutcome {
	return p.outcomes
}

// DebugMessage describes the insertions this patch performs, one line per point.
func (p *InsertPatch) DebugMessage() string {
	var sb strings.Builder
	for _, pt := range p.Points {
		if pt.Type == PointRelative {
			fmt.Fprintf(&sb, "Adding Insert @ r%d (abs:%d)...\n", pt.RelativeLine, pt.Line)
		} else {
			fmt.Fprintf(&sb, "Adding Insert @ %d...\n", pt.Line)
		}
	}
	return sb.String()
}

// Apply reconciles the patch against its target then inserts the generated fragment at every point.
// Configuration errors are returned before anything is inserted. At each point the short named
// source is tried first and the qualified source second; if both are rejected the primary error is returned.
func (p *InsertPatch) Apply() error {
	if len(p.Points) == 0 {
		return &PatchingError{Err: ErrNoPoints}
	}
	d := p.dialect()
	rec, err := Reconcile(p.Target, p.Patch, p.LocalVars, d.Sentinel())
	if err != nil {
		return &PatchingError{Err: err}
	}
	frag := Synthesize(p.Target, p.Patch, rec)
	primary, fallback, err := Lower(d, p.Target, frag, p.qualifyPrefix(d))
	if err != nil {
		return &PatchingError{Err: err}
	}

	p.outcomes = make([]PointOutcome, len(p.Points))
	for i, pt := range p.Points {
		p.outcomes[i] = PointOutcome{Point: pt, State: PointPending}
	}
	for i := range p.outcomes {
		if err := p.insertPoint(&p.outcomes[i], primary, fallback); err != nil {
			return err
		}
	}
	return nil
}

func (p *InsertPatch) insertPoint(o *PointOutcome, primary, fallback string) error {
	o.State = PointCompilingPrimary
	primaryErr := p.Target.InsertAt(o.Point.Line, primary)
	if primaryErr == nil {
		o.State, o.Variant, o.Source = PointInserted, VariantPrimary, primary
		p.echo(primary)
		return nil
	}

	o.State = PointCompilingFallback
	if err := p.Target.InsertAt(o.Point.Line, fallback); err == nil {
		o.State, o.Variant, o.Source = PointInserted, VariantFallback, fallback
		p.echo(fallback)
		return nil
	}

	// the fallback error is dropped, the primary failure is the actionable one
	o.State, o.Variant, o.Source, o.Err = PointFailed, VariantPrimary, primary, primaryErr
	p.echo(primary)
	pt := o.Point
	return &PatchingError{Point: &pt, Variant: VariantPrimary, Source: primary, Err: primaryErr}
}

func (p *InsertPatch) echo(src string) {
	if p.Debug == nil {
		return
	}
	_, _ = io.WriteString(p.Debug, src+"\n")
}
