package insert

import (
	"fmt"
	"strings"
)

// SpireReturnType is the default early-return sentinel of the javassist dialect.
const SpireReturnType = "com.evacipated.cardcrawl.modthespire.lib.SpireReturn"

// GameQualifyPrefix is the default fallback qualification of the javassist dialect.
const GameQualifyPrefix = "com.megacrit.cardcrawl."

const (
	javassistReceiver = "$0"
	javassistParams   = "$$"
)

// JavassistDialect renders fragments as compiler source accepted by a javassist style insertAt,
// where $0 references the receiver and $$ expands to every original parameter.
type JavassistDialect struct {
	// SentinelType overrides SpireReturnType.
	SentinelType string
	// QualifyPrefix overrides GameQualifyPrefix.
	QualifyPrefix string
}

func (d JavassistDialect) Name() string {
	return "javassist"
}

func (d JavassistDialect) Sentinel() string {
	if d.SentinelType != "" {
		return d.SentinelType
	}
	return SpireReturnType
}

// DefaultQualifyPrefix returns the prefix the fallback source is qualified with when the patch sets none.
func (d JavassistDialect) DefaultQualifyPrefix() string {
	if d.QualifyPrefix != "" {
		return d.QualifyPrefix
	}
	return GameQualifyPrefix
}

func (d JavassistDialect) Render(_ TargetMethod, f *Fragment, namer TypeNamer) (string, error) {
	var sb strings.Builder
	sb.WriteString("{\n")
	for _, st := range f.Stmts {
		switch s := st.(type) {
		case CellDecl:
			cellType := s.Local.CellType.Name
			fmt.Fprintf(&sb, "%s %s = new %s{%s};\n", cellType, CellName(s.Local.Name), cellType, s.Local.Name)
		case PatchCall:
			if s.Bind {
				sb.WriteString(s.ResultType.Name + " " + resultHolderName + " = ")
			}
			if s.Qualifier != "" {
				sb.WriteString(s.Qualifier + ".")
			}
			sb.WriteString(s.Name + "(")
			if s.Receiver {
				sb.WriteString(javassistReceiver + ", ")
			}
			sb.WriteString(javassistParams)
			for _, arg := range s.Args {
				sb.WriteString(", ")
				if arg.Cell {
					sb.WriteString(CellName(arg.Name))
				} else {
					sb.WriteString(arg.Name)
				}
			}
			sb.WriteString(");\n")
		case WriteBack:
			sb.WriteString(s.Local.Name + " = ")
			if s.Local.TypeName != "" {
				sb.WriteString("(" + namer.TypeName(s.Local.TypeName) + ")")
			}
			sb.WriteString(CellName(s.Local.Name) + "[0];\n")
		case EarlyReturn:
			sb.WriteString("if (" + resultHolderName + ".isPresent()) { return")
			if !s.Result.IsVoid() {
				if s.Result.IsPrimitive() {
					fmt.Fprintf(&sb, " ((%s)%s.get()).%sValue()", boxedTypeName(s.Result.Name), resultHolderName, s.Result.Name)
				} else {
					fmt.Fprintf(&sb, " (%s)%s.get()", s.Result.Name, resultHolderName)
				}
			}
			sb.WriteString("; }\n")
		default:
			return "", fmt.Errorf("unhandled fragment statement %T", st)
		}
	}
	sb.WriteString("}")
	return sb.String(), nil
}
