package insert

// Reconciled holds the facts derived from matching a patch signature against its target.
type Reconciled struct {
	// EarlyReturn reports if the patch result decides whether the target returns immediately.
	EarlyReturn bool
	// Locals are the captured target locals, in declared order.
	Locals []CapturedLocal
	// InsertStartIndex is the first patch parameter past the forwarded receiver and parameters.
	InsertStartIndex int
}

// ByRefLocals returns the captured locals that are exchanged through a cell.
func (r Reconciled) ByRefLocals() []CapturedLocal {
	var out []CapturedLocal
	for _, l := range r.Locals {
		if l.ByRef {
			out = append(out, l)
		}
	}
	return out
}

// Reconcile derives the early return flag and captured locals for a patch invoked from target.
// The sentinel is the name of the return type which marks an early-return patch.
func Reconcile(target TargetMethod, patch PatchMethod, localVars []string, sentinel string) (Reconciled, error) {
	ret := patch.ReturnType()
	result := Reconciled{
		EarlyReturn:      !ret.IsVoid() && ret.Name == sentinel,
		InsertStartIndex: len(target.ParameterTypes()),
	}
	if !target.IsStatic() {
		result.InsertStartIndex++ // slot 0 is the receiver
	}

	params := patch.Parameters()
	trailing := max(0, len(params)-result.InsertStartIndex)
	// every by-ref trailing parameter is validated, even those without a declared local
	for i := result.InsertStartIndex; i < len(params); i++ {
		if params[i].ByRef && !params[i].Type.IsCell() {
			return Reconciled{}, &ByRefParameterNotArrayError{Index: i}
		}
	}

	if len(localVars) == 0 {
		return result, nil
	}
	result.Locals = make([]CapturedLocal, 0, len(localVars))
	for i, name := range localVars {
		if i >= trailing {
			return Reconciled{}, ErrInsufficientParameters
		}
		param := params[result.InsertStartIndex+i]
		local := CapturedLocal{
			Name:  name,
			Index: i,
			ByRef: param.ByRef,
		}
		if param.ByRef {
			local.CellType = param.Type
			local.Type = *param.Type.Elem
			local.TypeName = param.TypeName
		}
		result.Locals = append(result.Locals, local)
	}
	return result, nil
}
