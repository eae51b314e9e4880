// Package movement defines tracked-animal movement segments and the wire codecs that carry them.
package movement

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrEmptyBundle      = errors.New("empty bundle")
)

// Position is a (lon, lat) pair.
type Position [2]float64

// Segment is one directed edge between two consecutive fixes of a tracked individual.
type Segment struct {
	Source               Position
	Target               Position
	SourceTimestamp      float64 // epoch milliseconds
	DestinationTimestamp float64 // epoch milliseconds
	DistanceKm           float64
	DistanceTravelledKm  float64
	Content              string
}

// Bundle holds every segment of one individual for a single stream chunk.
type Bundle struct {
	Segments                  []Segment
	IndividualLocalIdentifier string
	Index                     int
	Count                     int
}

// Empty reports whether the bundle carries nothing to transcode.
func (b Bundle) Empty() bool {
	return b.Count == 0
}
