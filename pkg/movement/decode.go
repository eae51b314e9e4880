package movement

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Positional arities of the stream tuple, one feature and its property tuple.
const (
	messageArity  = 4
	featureArity  = 2
	propertyArity = 5
)

// timestampLayouts are tried in order for string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// Decode turns one raw stream message, a protobuf ListValue holding
// [features, individualLocalIdentifier, count, index], into a Bundle.
// A count of zero decodes to an empty bundle which callers must skip.
func Decode(raw []byte) (Bundle, error) {
	var msg structpb.ListValue
	if err := proto.Unmarshal(raw, &msg); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return DecodeTuple(msg.GetValues())
}

// DecodeTuple decodes an already unpacked positional tuple.
func DecodeTuple(vals []*structpb.Value) (Bundle, error) {
	if len(vals) != messageArity {
		return Bundle{}, malformed("message has %d fields, want %d", len(vals), messageArity)
	}
	features, ok := listOf(vals[0])
	if !ok {
		return Bundle{}, malformed("features is not a list")
	}
	id, ok := stringOf(vals[1])
	if !ok {
		return Bundle{}, malformed("individual identifier is not a string")
	}
	count, ok := intOf(vals[2])
	if !ok {
		return Bundle{}, malformed("count is not an integer")
	}
	index, ok := intOf(vals[3])
	if !ok {
		return Bundle{}, malformed("index is not an integer")
	}
	if count != len(features) {
		return Bundle{}, malformed("count %d does not match %d features", count, len(features))
	}

	b := Bundle{IndividualLocalIdentifier: id, Index: index, Count: count}
	if count == 0 {
		return b, nil
	}
	b.Segments = make([]Segment, count)
	for i, f := range features {
		if err := decodeFeature(f, &b.Segments[i]); err != nil {
			return Bundle{}, fmt.Errorf("feature %d: %w", i, err)
		}
	}
	return b, nil
}

func decodeFeature(v *structpb.Value, seg *Segment) error {
	parts, ok := listOf(v)
	if !ok || len(parts) != featureArity {
		return malformed("feature is not a [geometry, properties] pair")
	}
	coords, ok := listOf(parts[0])
	if !ok || len(coords) < 2 {
		return malformed("geometry needs at least two coordinates")
	}
	src, err := positionOf(coords[0])
	if err != nil {
		return err
	}
	dst, err := positionOf(coords[len(coords)-1])
	if err != nil {
		return err
	}
	seg.Source, seg.Target = src, dst

	props, ok := listOf(parts[1])
	if !ok {
		return malformed("properties is not a list")
	}
	if len(props) != propertyArity {
		return malformed("properties has %d fields, want %d", len(props), propertyArity)
	}
	if seg.SourceTimestamp, err = timestampOf(props[0]); err != nil {
		return err
	}
	if seg.DestinationTimestamp, err = timestampOf(props[1]); err != nil {
		return err
	}
	switch k := props[2].GetKind().(type) {
	case *structpb.Value_StringValue:
		seg.Content = k.StringValue
	case *structpb.Value_NullValue:
	default:
		return malformed("content is not a string")
	}
	if seg.DistanceKm, ok = numberOf(props[3]); !ok {
		return malformed("distance is not a number")
	}
	if seg.DistanceTravelledKm, ok = numberOf(props[4]); !ok {
		return malformed("distance travelled is not a number")
	}
	return nil
}

func positionOf(v *structpb.Value) (Position, error) {
	pair, ok := listOf(v)
	if !ok || len(pair) < 2 {
		return Position{}, malformed("coordinate is not a [lon, lat] pair")
	}
	lon, ok1 := numberOf(pair[0])
	lat, ok2 := numberOf(pair[1])
	if !ok1 || !ok2 {
		return Position{}, malformed("coordinate is not numeric")
	}
	return Position{lon, lat}, nil
}

func timestampOf(v *structpb.Value) (float64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	case *structpb.Value_StringValue:
		return parseTimestamp(k.StringValue)
	}
	return 0, malformed("timestamp is neither a number nor a string")
}

func parseTimestamp(s string) (float64, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixMilli()), nil
		}
	}
	return 0, malformed("unparseable timestamp %q", s)
}

func listOf(v *structpb.Value) ([]*structpb.Value, bool) {
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, false
	}
	return l.ListValue.GetValues(), true
}

func stringOf(v *structpb.Value) (string, bool) {
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

func numberOf(v *structpb.Value) (float64, bool) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

// maxExactInt is the largest integer a float64 carries exactly.
const maxExactInt = 1 << 53

func intOf(v *structpb.Value) (int, bool) {
	n, ok := numberOf(v)
	if !ok || n < 0 || n > maxExactInt || n != math.Trunc(n) {
		return 0, false
	}
	return int(n), true
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedMessage}, args...)...)
}
