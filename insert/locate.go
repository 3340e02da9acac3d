package insert

// ResolvePoints builds the insertion points of a patch. Absolute lines are used as is, relative lines
// are offset from startLine (the line declaring the target) and keep their requested value.
// Absolute points come first, each group in declared order.
func ResolvePoints(startLine int, lines, relativeLines []int) []InsertionPoint {
	points := make([]InsertionPoint, 0, len(lines)+len(relativeLines))
	for _, l := range lines {
		points = append(points, AbsolutePoint(l))
	}
	for _, r := range relativeLines {
		points = append(points, RelativePoint(startLine+r, r))
	}
	return points
}
