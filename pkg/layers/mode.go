// Package layers turns columnar buffers into renderer layer descriptions for each
// visualization mode.
package layers

import (
	"fmt"
	"sort"
)

// Mode is a visualization mode. The set is closed; see Modes.
type Mode string

const (
	ModeArc         Mode = "arc"
	ModeLine        Mode = "line"
	ModeScatterplot Mode = "scatterplot"
	ModeHexagon     Mode = "hexagon"
	ModeScreenGrid  Mode = "screengrid"
	ModeHeatmap     Mode = "heatmap"
)

// Category selects which data a mode is built from.
type Category int

const (
	CategoryPath Category = iota + 1
	CategoryPoint
	CategoryAggregation
)

func (c Category) String() string {
	switch c {
	case CategoryPath:
		return "path"
	case CategoryPoint:
		return "point"
	case CategoryAggregation:
		return "aggregation"
	default:
		return "unknown"
	}
}

type modeInfo struct {
	category  Category
	layerType string
	pickable  bool
}

var modes = map[Mode]modeInfo{
	ModeArc:         {CategoryPath, "ArcLayer", true},
	ModeLine:        {CategoryPath, "LineLayer", true},
	ModeScatterplot: {CategoryPoint, "ScatterplotLayer", true},
	ModeHexagon:     {CategoryAggregation, "HexagonLayer", true},
	ModeScreenGrid:  {CategoryAggregation, "ScreenGridLayer", true},
	ModeHeatmap:     {CategoryAggregation, "HeatmapLayer", false},
}

// Category returns the mode's category, or false for a mode outside the set.
func (m Mode) Category() (Category, bool) {
	info, ok := modes[m]
	return info.category, ok
}

// IsAggregation reports whether m is built from the cumulative buffer.
func (m Mode) IsAggregation() bool {
	c, _ := m.Category()
	return c == CategoryAggregation
}

func (m Mode) Valid() bool {
	_, ok := modes[m]
	return ok
}

// ParseMode maps a name to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown visualization mode %q", s)
	}
	return m, nil
}

// Modes lists every mode in name order.
func Modes() []Mode {
	out := make([]Mode, 0, len(modes))
	for m := range modes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
