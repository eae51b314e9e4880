package movement

import (
	"fmt"

	"github.com/goccy/go-json"
	geojson "github.com/paulmach/go.geojson"
)

// Property keys used by the request/response fallback endpoint.
const (
	PropIndividual           = "individual_local_identifier"
	PropSourceTimestamp      = "source_timestamp"
	PropDestinationTimestamp = "destination_timestamp"
	PropContent              = "content"
	PropDistance             = "distance_km"
	PropDistanceTravelled    = "distance_travelled_km"
)

// DecodeFeatureCollections parses the fallback endpoint body: a JSON array of
// FeatureCollections of LineString features, one collection per individual.
// The array position becomes the bundle index.
func DecodeFeatureCollections(body []byte) ([]Bundle, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	bundles := make([]Bundle, 0, len(raws))
	for i, raw := range raws {
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: collection %d: %v", ErrMalformedMessage, i, err)
		}
		b, err := bundleFromCollection(fc, i)
		if err != nil {
			return nil, fmt.Errorf("collection %d: %w", i, err)
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

func bundleFromCollection(fc *geojson.FeatureCollection, index int) (Bundle, error) {
	b := Bundle{Index: index, Count: len(fc.Features)}
	if b.Count == 0 {
		return b, nil
	}
	b.Segments = make([]Segment, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil || !f.Geometry.IsLineString() || len(f.Geometry.LineString) < 2 {
			return Bundle{}, malformed("feature %d is not a LineString", i)
		}
		line := f.Geometry.LineString
		src, dst := line[0], line[len(line)-1]
		if len(src) < 2 || len(dst) < 2 {
			return Bundle{}, malformed("feature %d has short coordinates", i)
		}

		id, err := f.PropertyString(PropIndividual)
		if err != nil {
			return Bundle{}, malformed("feature %d: %v", i, err)
		}
		if i == 0 {
			b.IndividualLocalIdentifier = id
		} else if id != b.IndividualLocalIdentifier {
			return Bundle{}, malformed("feature %d belongs to %q, collection is %q", i, id, b.IndividualLocalIdentifier)
		}

		seg := Segment{
			Source: Position{src[0], src[1]},
			Target: Position{dst[0], dst[1]},
		}
		if seg.SourceTimestamp, err = featureTimestamp(f, PropSourceTimestamp); err != nil {
			return Bundle{}, err
		}
		if seg.DestinationTimestamp, err = featureTimestamp(f, PropDestinationTimestamp); err != nil {
			return Bundle{}, err
		}
		seg.Content = f.PropertyMustString(PropContent, "")
		if seg.DistanceKm, err = f.PropertyFloat64(PropDistance); err != nil {
			return Bundle{}, malformed("feature %d: %v", i, err)
		}
		if seg.DistanceTravelledKm, err = f.PropertyFloat64(PropDistanceTravelled); err != nil {
			return Bundle{}, malformed("feature %d: %v", i, err)
		}
		b.Segments[i] = seg
	}
	return b, nil
}

func featureTimestamp(f *geojson.Feature, key string) (float64, error) {
	switch v := f.Properties[key].(type) {
	case float64:
		return v, nil
	case string:
		return parseTimestamp(v)
	}
	return 0, malformed("property %s missing or not a timestamp", key)
}

// EncodeFeatureCollections renders bundles in the fallback endpoint format.
func EncodeFeatureCollections(bundles []Bundle) ([]byte, error) {
	collections := make([]*geojson.FeatureCollection, len(bundles))
	for i, b := range bundles {
		fc := geojson.NewFeatureCollection()
		for _, s := range b.Segments {
			f := geojson.NewLineStringFeature([][]float64{
				{s.Source[0], s.Source[1]},
				{s.Target[0], s.Target[1]},
			})
			f.SetProperty(PropIndividual, b.IndividualLocalIdentifier)
			f.SetProperty(PropSourceTimestamp, s.SourceTimestamp)
			f.SetProperty(PropDestinationTimestamp, s.DestinationTimestamp)
			f.SetProperty(PropContent, s.Content)
			f.SetProperty(PropDistance, s.DistanceKm)
			f.SetProperty(PropDistanceTravelled, s.DistanceTravelledKm)
			fc.AddFeature(f)
		}
		collections[i] = fc
	}
	return json.Marshal(collections)
}
