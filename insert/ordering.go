package insert

import (
	"fmt"
	"slices"
	"strings"
)

// PatchKind enumerates the patch kinds known to the ordering contract.
type PatchKind uint8

const (
	PatchReplace PatchKind = iota
	PatchInsert
	PatchInstrument
	PatchPrefix
	PatchPostfix
	PatchRaw
)

var patchKindInfo = [...]struct {
	name     string
	priority int
}{
	PatchReplace:    {"replace", -3},
	PatchInsert:     {"insert", -2},
	PatchInstrument: {"instrument", -1},
	PatchPrefix:     {"prefix", 0},
	PatchPostfix:    {"postfix", 0},
	PatchRaw:        {"raw", 1},
}

func (k PatchKind) String() string {
	if int(k) < len(patchKindInfo) {
		return patchKindInfo[k].name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Priority returns the ordering value of the kind, lower values apply earlier.
func (k PatchKind) Priority() int {
	if int(k) < len(patchKindInfo) {
		return patchKindInfo[k].priority
	}
	return 0
}

// ParsePatchKind resolves a kind from its name, case insensitive.
func ParsePatchKind(name string) (PatchKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, info := range patchKindInfo {
		if info.name == name {
			return PatchKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown patch kind: %q", name)
}

// Kinded is implemented by every patch participating in ordering.
type Kinded interface {
	Kind() PatchKind
}

// SortByPriority orders patches by ascending kind priority, keeping declaration order for ties.
func SortByPriority[T Kinded](patches []T) {
	slices.SortStableFunc(patches, func(a, b T) int {
		return a.Kind().Priority() - b.Kind().Priority()
	})
}
