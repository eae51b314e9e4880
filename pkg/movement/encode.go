package movement

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode is the inverse of Decode. Timestamps are written as epoch milliseconds.
func Encode(b Bundle) ([]byte, error) {
	features := make([]*structpb.Value, len(b.Segments))
	for i, s := range b.Segments {
		features[i] = structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
			structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
				pairValue(s.Source),
				pairValue(s.Target),
			}}),
			structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
				structpb.NewNumberValue(s.SourceTimestamp),
				structpb.NewNumberValue(s.DestinationTimestamp),
				structpb.NewStringValue(s.Content),
				structpb.NewNumberValue(s.DistanceKm),
				structpb.NewNumberValue(s.DistanceTravelledKm),
			}}),
		}})
	}

	msg := &structpb.ListValue{Values: []*structpb.Value{
		structpb.NewListValue(&structpb.ListValue{Values: features}),
		structpb.NewStringValue(b.IndividualLocalIdentifier),
		structpb.NewNumberValue(float64(b.Count)),
		structpb.NewNumberValue(float64(b.Index)),
	}}
	raw, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode bundle %s/%d: %w", b.IndividualLocalIdentifier, b.Index, err)
	}
	return raw, nil
}

func pairValue(p Position) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
		structpb.NewNumberValue(p[0]),
		structpb.NewNumberValue(p[1]),
	}})
}
