package columnar

import (
	"fmt"

	"github.com/sudorandom/move-stream/pkg/movement"
)

// Transcode writes a non-empty bundle into a freshly allocated Buffer in one pass. Colors are
// not derived from the segments; the individual's pair is taken from the palette and written
// twice per segment. The returned Ownership lists the flat buffers the caller now owns and
// may hand on.
func Transcode(b movement.Bundle, p *Palette) (*Buffer, Ownership, error) {
	if b.Empty() {
		return nil, nil, movement.ErrEmptyBundle
	}
	if b.Count != len(b.Segments) {
		return nil, nil, fmt.Errorf("%w: bundle %s/%d declares %d segments, holds %d",
			ErrTranscodeFailure, b.IndividualLocalIdentifier, b.Index, b.Count, len(b.Segments))
	}
	if p == nil {
		return nil, nil, fmt.Errorf("%w: no palette", ErrTranscodeFailure)
	}

	n := b.Count
	buf := &Buffer{
		Positions:        make([]float32, n*PositionsPerSeg),
		PathIndices:      make([]uint32, n),
		FeatureIDs:       make([]uint32, n),
		GlobalFeatureIDs: make([]uint32, n),
		Colors:           make([]uint8, n*ColorsPerSeg),
		NumericProps:     make(map[string][]float64, len(NumericPropKeys)),
		Content:          make([][]byte, n),

		Length:                    n,
		IndividualLocalIdentifier: b.IndividualLocalIdentifier,
	}
	srcTime := make([]float64, n)
	dstTime := make([]float64, n)
	dist := make([]float64, n)
	cumDist := make([]float64, n)
	buf.NumericProps[PropSourceTimestamp] = srcTime
	buf.NumericProps[PropDestinationTimestamp] = dstTime
	buf.NumericProps[PropDistance] = dist
	buf.NumericProps[PropCumulativeDistance] = cumDist

	pair := p.GetOrAssign(b.IndividualLocalIdentifier)
	for i, s := range b.Segments {
		o := i * PositionsPerSeg
		buf.Positions[o] = float32(s.Source[0])
		buf.Positions[o+1] = float32(s.Source[1])
		buf.Positions[o+2] = float32(s.Target[0])
		buf.Positions[o+3] = float32(s.Target[1])

		buf.PathIndices[i] = uint32(i * PointsPerSegment)
		buf.FeatureIDs[i] = uint32(i)
		buf.GlobalFeatureIDs[i] = uint32(i)

		c := i * ColorsPerSeg
		buf.Colors[c], buf.Colors[c+1], buf.Colors[c+2], buf.Colors[c+3] = pair.Source.R, pair.Source.G, pair.Source.B, pair.Source.A
		buf.Colors[c+4], buf.Colors[c+5], buf.Colors[c+6], buf.Colors[c+7] = pair.Target.R, pair.Target.G, pair.Target.B, pair.Target.A

		srcTime[i] = s.SourceTimestamp
		dstTime[i] = s.DestinationTimestamp
		dist[i] = s.DistanceKm
		cumDist[i] = s.DistanceTravelledKm

		buf.Content[i] = []byte(s.Content)
	}
	return buf, Ownership(buf.Manifest()), nil
}
