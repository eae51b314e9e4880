package movement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureCollectionsRoundTrip(t *testing.T) {
	wolf := wolfBundle(2)
	wolf.Index = 0
	stork := Bundle{IndividualLocalIdentifier: "stork-9", Index: 1, Count: 1, Segments: []Segment{{
		Source:               Position{-3.7, 40.4},
		Target:               Position{-3.6, 40.5},
		SourceTimestamp:      1000,
		DestinationTimestamp: 2000,
		DistanceKm:           12.25,
		DistanceTravelledKm:  12.25,
		Content:              "stork-9 over Madrid",
	}}}

	body, err := EncodeFeatureCollections([]Bundle{wolf, stork})
	require.NoError(t, err)

	got, err := DecodeFeatureCollections(body)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, wolf, got[0])
	assert.Equal(t, stork, got[1])
}

func TestDecodeFeatureCollectionsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not an array", `{"type":"FeatureCollection","features":[]}`},
		{"point geometry", `[{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}]}]`},
		{"missing properties", `[{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[1,2],[3,4]]},"properties":{"individual_local_identifier":"a"}}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFeatureCollections([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMessage))
		})
	}
}

func TestDecodeFeatureCollectionsEmpty(t *testing.T) {
	got, err := DecodeFeatureCollections([]byte(`[{"type":"FeatureCollection","features":[]}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Empty())
}
