package movement

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func wolfBundle(n int) Bundle {
	b := Bundle{IndividualLocalIdentifier: "wolf-1", Index: 3, Count: n}
	for i := 0; i < n; i++ {
		f := float64(i)
		b.Segments = append(b.Segments, Segment{
			Source:               Position{10 + f, 50 + f},
			Target:               Position{11 + f, 51 + f},
			SourceTimestamp:      1_600_000_000_000 + f*1000,
			DestinationTimestamp: 1_600_000_001_000 + f*1000,
			DistanceKm:           1.5,
			DistanceTravelledKm:  1.5 * (f + 1),
			Content:              "fix",
		})
	}
	return b
}

func TestDecodeRoundTrip(t *testing.T) {
	want := wolfBundle(3)
	raw, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.False(t, got.Empty())
}

func TestDecodeEmptyBundle(t *testing.T) {
	raw, err := Encode(Bundle{IndividualLocalIdentifier: "wolf-1", Index: 1})
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Nil(t, got.Segments)
}

func marshalList(t *testing.T, vals ...any) []byte {
	t.Helper()
	lv, err := structpb.NewList(vals)
	require.NoError(t, err)
	raw, err := proto.Marshal(lv)
	require.NoError(t, err)
	return raw
}

func TestDecodeMalformed(t *testing.T) {
	goodGeom := []any{[]any{10.0, 50.0}, []any{11.0, 51.0}}
	goodProps := []any{1000.0, 2000.0, "fix", 1.0, 1.0}

	tests := []struct {
		name string
		raw  func(t *testing.T) []byte
	}{
		{
			name: "not protobuf",
			raw:  func(t *testing.T) []byte { return []byte{0xff, 0xff, 0xff} },
		},
		{
			name: "wrong message arity",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, "wolf-1", 0.0)
			},
		},
		{
			name: "count mismatch",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{[]any{goodGeom, goodProps}}, "wolf-1", 2.0, 0.0)
			},
		},
		{
			name: "property tuple arity",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{[]any{goodGeom, []any{1000.0, 2000.0, "fix", 1.0}}}, "wolf-1", 1.0, 0.0)
			},
		},
		{
			name: "identifier not a string",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, 7.0, 0.0, 0.0)
			},
		},
		{
			name: "fractional count",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, "wolf-1", 0.5, 0.0)
			},
		},
		{
			name: "infinite count",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, "wolf-1", math.Inf(1), 0.0)
			},
		},
		{
			name: "huge count",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, "wolf-1", 1e300, 0.0)
			},
		},
		{
			name: "infinite index",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, "wolf-1", 0.0, math.Inf(1))
			},
		},
		{
			name: "negative infinite index",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, "wolf-1", 0.0, math.Inf(-1))
			},
		},
		{
			name: "huge index",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{}, "wolf-1", 0.0, 1e300)
			},
		},
		{
			name: "single coordinate geometry",
			raw: func(t *testing.T) []byte {
				return marshalList(t, []any{[]any{[]any{[]any{10.0, 50.0}}, goodProps}}, "wolf-1", 1.0, 0.0)
			},
		},
		{
			name: "bad timestamp string",
			raw: func(t *testing.T) []byte {
				props := []any{"yesterday", 2000.0, "fix", 1.0, 1.0}
				return marshalList(t, []any{[]any{goodGeom, props}}, "wolf-1", 1.0, 0.0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMessage), "expected ErrMalformedMessage, got %v", err)
		})
	}
}

func TestDecodeStringTimestamps(t *testing.T) {
	geom := []any{[]any{10.0, 50.0}, []any{10.5, 50.5}, []any{11.0, 51.0}}
	props := []any{"2020-09-13 12:26:40.000", "2020-09-13T12:26:41Z", nil, 2.0, 4.0}
	raw := marshalList(t, []any{[]any{geom, props}}, "stork-9", 1.0, 4.0)

	b, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, b.Segments, 1)

	s := b.Segments[0]
	assert.Equal(t, Position{10, 50}, s.Source)
	assert.Equal(t, Position{11, 51}, s.Target)
	assert.Equal(t, 1_600_000_000_000.0, s.SourceTimestamp)
	assert.Equal(t, 1_600_000_001_000.0, s.DestinationTimestamp)
	assert.Empty(t, s.Content)
	assert.Equal(t, 4, b.Index)
}
