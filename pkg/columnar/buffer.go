// Package columnar holds the structure-of-arrays form of movement segments that is uploaded
// to the renderer as-is, along with the transcoder and incremental aggregator that build it.
package columnar

import (
	"errors"
	"fmt"
	"sort"
)

// AggregateIdentifier is the individual identifier carried by merged buffers.
const AggregateIdentifier = "aggregate"

// Numeric property keys, one float64 per segment each.
const (
	PropSourceTimestamp      = "source_timestamp"
	PropDestinationTimestamp = "destination_timestamp"
	PropDistance             = "distance"
	PropCumulativeDistance   = "cumulative_distance"
)

// NumericPropKeys lists the numeric properties every transcoded buffer carries, in a fixed order.
var NumericPropKeys = []string{
	PropSourceTimestamp,
	PropDestinationTimestamp,
	PropDistance,
	PropCumulativeDistance,
}

// Per-segment layout.
const (
	PositionSize        = 2 // components per point
	PointsPerSegment    = 2 // source and target
	PositionsPerSeg     = PositionSize * PointsPerSegment
	ColorSize           = 4 // RGBA
	ColorsPerSeg        = ColorSize * PointsPerSegment
	PositionStrideBytes = PositionsPerSeg * 4
	ColorStrideBytes    = ColorsPerSeg
)

var ErrTranscodeFailure = errors.New("transcode failure")

// Buffer is one batch of segments as parallel flat arrays. Every attribute's logical length
// is Length times that attribute's per-segment multiplier.
type Buffer struct {
	Positions        []float32
	PathIndices      []uint32
	FeatureIDs       []uint32
	GlobalFeatureIDs []uint32
	Colors           []uint8
	NumericProps     map[string][]float64
	Content          [][]byte

	Length                    int
	IndividualLocalIdentifier string
}

// Attribute describes one flat buffer of a Buffer.
type Attribute struct {
	Name        string
	ElementSize int // bytes
	PerSegment  int // elements per segment
	Elements    int
	ByteLength  int
	StrideBytes int
}

// Manifest lists every attribute with its size and stride. Content blobs report their
// total byte size and a zero stride.
func (b *Buffer) Manifest() []Attribute {
	attrs := []Attribute{
		flat("positions", 4, PositionsPerSeg, len(b.Positions)),
		flat("pathIndices", 4, 1, len(b.PathIndices)),
		flat("featureIds", 4, 1, len(b.FeatureIDs)),
		flat("globalFeatureIds", 4, 1, len(b.GlobalFeatureIDs)),
		flat("colors", 1, ColorsPerSeg, len(b.Colors)),
	}
	for _, key := range b.numericKeys() {
		attrs = append(attrs, flat("numericProps."+key, 8, 1, len(b.NumericProps[key])))
	}

	total := 0
	for _, c := range b.Content {
		total += len(c)
	}
	attrs = append(attrs, Attribute{Name: "content", PerSegment: 1, Elements: len(b.Content), ByteLength: total})
	return attrs
}

func flat(name string, size, perSegment, elements int) Attribute {
	return Attribute{
		Name:        name,
		ElementSize: size,
		PerSegment:  perSegment,
		Elements:    elements,
		ByteLength:  elements * size,
		StrideBytes: perSegment * size,
	}
}

// numericKeys returns the standard keys first, then any extra keys in sorted order.
func (b *Buffer) numericKeys() []string {
	keys := make([]string, 0, len(b.NumericProps))
	for _, k := range NumericPropKeys {
		if _, ok := b.NumericProps[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range b.NumericProps {
		if !isStandardKey(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func isStandardKey(k string) bool {
	for _, s := range NumericPropKeys {
		if s == k {
			return true
		}
	}
	return false
}

// Validate checks that every attribute is consistent with Length.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrTranscodeFailure)
	}
	if b.Length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrTranscodeFailure, b.Length)
	}
	for _, a := range b.Manifest() {
		if want := b.Length * a.PerSegment; a.Elements != want {
			return fmt.Errorf("%w: %s has %d elements, want %d", ErrTranscodeFailure, a.Name, a.Elements, want)
		}
	}
	for _, k := range NumericPropKeys {
		if _, ok := b.NumericProps[k]; !ok && b.Length > 0 {
			return fmt.Errorf("%w: missing numeric property %s", ErrTranscodeFailure, k)
		}
	}
	return nil
}

// ByteLength is the sum of every attribute's byte length.
func (b *Buffer) ByteLength() int {
	n := 0
	for _, a := range b.Manifest() {
		n += a.ByteLength
	}
	return n
}

// Source returns the source position of segment i.
func (b *Buffer) Source(i int) (lon, lat float32) {
	o := i * PositionsPerSeg
	return b.Positions[o], b.Positions[o+1]
}

// Target returns the target position of segment i.
func (b *Buffer) Target(i int) (lon, lat float32) {
	o := i*PositionsPerSeg + PositionSize
	return b.Positions[o], b.Positions[o+1]
}
