package columnar

// Merge appends cur to prev and returns the new cumulative buffer. Neither input is modified.
// Merging is order dependent: the result matches the arrival order prev, cur. A nil or empty
// prev returns cur itself without copying. A nil or empty cur returns prev relabeled as the
// aggregate; its arrays are shared, not copied.
//
// Path indices and global feature ids of cur are rebased onto prev so the result indexes its
// own vertices; local feature ids are copied as they are.
func Merge(prev, cur *Buffer) *Buffer {
	if prev == nil || prev.Length == 0 {
		return cur
	}
	if cur == nil || cur.Length == 0 {
		if prev.IndividualLocalIdentifier == AggregateIdentifier {
			return prev
		}
		out := *prev
		out.IndividualLocalIdentifier = AggregateIdentifier
		return &out
	}

	n := prev.Length + cur.Length
	out := &Buffer{
		Positions:        concat(prev.Positions, cur.Positions),
		PathIndices:      concatRebased(prev.PathIndices, cur.PathIndices, uint32(prev.Length*PointsPerSegment)),
		FeatureIDs:       concat(prev.FeatureIDs, cur.FeatureIDs),
		GlobalFeatureIDs: concatRebased(prev.GlobalFeatureIDs, cur.GlobalFeatureIDs, uint32(prev.Length)),
		Colors:           concat(prev.Colors, cur.Colors),
		NumericProps:     make(map[string][]float64, len(cur.NumericProps)),
		Content:          make([][]byte, 0, n),

		Length:                    n,
		IndividualLocalIdentifier: AggregateIdentifier,
	}

	for key, values := range cur.NumericProps {
		if before, ok := prev.NumericProps[key]; ok {
			out.NumericProps[key] = concat(before, values)
		} else if len(values) > 0 {
			out.NumericProps[key] = concat(make([]float64, prev.Length), values)
		} else {
			out.NumericProps[key] = values
		}
	}
	for key, before := range prev.NumericProps {
		if _, ok := cur.NumericProps[key]; !ok {
			out.NumericProps[key] = concat(before, make([]float64, cur.Length))
		}
	}

	out.Content = append(out.Content, prev.Content...)
	out.Content = append(out.Content, cur.Content...)
	return out
}

func concat[T any](a, b []T) []T {
	out := make([]T, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}

func concatRebased(a, b []uint32, base uint32) []uint32 {
	out := make([]uint32, len(a)+len(b))
	copy(out, a)
	for i, v := range b {
		out[len(a)+i] = v + base
	}
	return out
}
