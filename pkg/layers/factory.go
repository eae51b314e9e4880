package layers

import (
	"github.com/golang/geo/s2"

	"github.com/sudorandom/move-stream/pkg/columnar"
)

// Byte offsets inside one segment's position and color strides.
const (
	sourcePositionOffset = 0
	targetPositionOffset = columnar.PositionSize * 4
	sourceColorOffset    = 0
	targetColorOffset    = columnar.ColorSize
)

type builder func(id string, mode Mode, info modeInfo, in Input) *Layer

var builders = map[Category]builder{
	CategoryPath:        pathLayer,
	CategoryPoint:       pointLayer,
	CategoryAggregation: aggregationLayer,
}

// Create builds the layer description for mode. It returns nil for an unknown mode or
// when the input lacks the data the mode's category is built from. Inputs are not modified.
func Create(mode Mode, in Input) *Layer {
	info, ok := modes[mode]
	if !ok {
		return nil
	}
	build, ok := builders[info.category]
	if !ok {
		return nil
	}
	id := in.ID
	if id == "" {
		id = string(mode)
	}
	l := build(id, mode, info, in)
	if l != nil {
		if in.Tooltips != nil {
			l.Tooltip = in.Tooltips.For(mode)
		} else {
			l.Tooltip = defaultTooltip(mode)
		}
	}
	return l
}

func baseLayer(id string, mode Mode, info modeInfo, in Input) *Layer {
	return &Layer{
		ID:       id,
		Mode:     mode,
		Category: info.category,
		Type:     info.layerType,
		Style:    in.Style,
		Pickable: info.pickable,
	}
}

func pathLayer(id string, mode Mode, info modeInfo, in Input) *Layer {
	if in.Buffer == nil {
		return nil
	}
	l := baseLayer(id, mode, info, in)
	l.Buffer = in.Buffer
	l.Length = in.Buffer.Length
	l.Bindings = []Binding{
		{"getSourcePosition", "positions", columnar.PositionSize, sourcePositionOffset, columnar.PositionStrideBytes},
		{"getTargetPosition", "positions", columnar.PositionSize, targetPositionOffset, columnar.PositionStrideBytes},
		{"getSourceColor", "colors", columnar.ColorSize, sourceColorOffset, columnar.ColorStrideBytes},
		{"getTargetColor", "colors", columnar.ColorSize, targetColorOffset, columnar.ColorStrideBytes},
	}
	l.Bounds = bufferBounds(in.Buffer, true)
	return l
}

func pointLayer(id string, mode Mode, info modeInfo, in Input) *Layer {
	if in.Buffer == nil {
		return nil
	}
	l := baseLayer(id, mode, info, in)
	l.Buffer = in.Buffer
	l.Length = in.Buffer.Length
	l.Bindings = []Binding{
		{"getPosition", "positions", columnar.PositionSize, sourcePositionOffset, columnar.PositionStrideBytes},
		{"getFillColor", "colors", columnar.ColorSize, sourceColorOffset, columnar.ColorStrideBytes},
	}
	l.Bounds = bufferBounds(in.Buffer, false)
	return l
}

func aggregationLayer(id string, mode Mode, info modeInfo, in Input) *Layer {
	if in.Points == nil {
		return nil
	}
	l := baseLayer(id, mode, info, in)
	l.Points = in.Points
	l.Length = len(in.Points)
	l.Accessors = map[string]string{
		"getPosition": "location",
		"getWeight":   "timestamp",
	}
	r := s2.EmptyRect()
	for _, p := range in.Points {
		r = r.AddPoint(s2.LatLngFromDegrees(p.Location[1], p.Location[0]))
	}
	l.Bounds = r
	return l
}

func bufferBounds(b *columnar.Buffer, withTargets bool) s2.Rect {
	r := s2.EmptyRect()
	for i := 0; i < b.Length; i++ {
		lon, lat := b.Source(i)
		r = r.AddPoint(s2.LatLngFromDegrees(float64(lat), float64(lon)))
		if withTargets {
			lon, lat = b.Target(i)
			r = r.AddPoint(s2.LatLngFromDegrees(float64(lat), float64(lon)))
		}
	}
	return r
}
