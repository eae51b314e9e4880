package columnar

// Point is the input element of aggregation layers: a segment's source position and its
// source timestamp.
type Point struct {
	Location  [2]float64 `json:"location"`
	Timestamp float64    `json:"timestamp"`
}

// ToPoints walks positions and source timestamps in lockstep, one point per segment.
func ToPoints(b *Buffer) []Point {
	if b == nil || b.Length == 0 {
		return nil
	}
	ts := b.NumericProps[PropSourceTimestamp]
	pts := make([]Point, b.Length)
	for i := range pts {
		lon, lat := b.Source(i)
		pts[i].Location = [2]float64{float64(lon), float64(lat)}
		if i < len(ts) {
			pts[i].Timestamp = ts[i]
		}
	}
	return pts
}
