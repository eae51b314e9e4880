package layers

import (
	"github.com/golang/geo/s2"

	"github.com/sudorandom/move-stream/pkg/columnar"
)

// Binding maps a renderer accessor onto a slice of a flat attribute buffer.
type Binding struct {
	Accessor  string `json:"accessor"`
	Attribute string `json:"attribute"`
	Size      int    `json:"size"`
	Offset    int    `json:"offset"`
	Stride    int    `json:"stride"`
}

// Style is the per-layer display state owned by the controller.
type Style struct {
	Opacity float64 `json:"opacity"`
	Visible bool    `json:"visible"`
}

func DefaultStyle() Style {
	return Style{Opacity: 0.8, Visible: true}
}

// Input is everything Create needs. Path and point modes read Buffer, aggregation modes
// read Points.
type Input struct {
	ID     string
	Buffer *columnar.Buffer
	Points []columnar.Point
	Style  Style

	// Tooltips picks the layer's tooltip strategy. Nil means DefaultTooltips.
	Tooltips Tooltips
}

// Layer is an opaque description handed to the renderer. It references the input buffer
// without copying it; the buffer must not be modified afterwards.
type Layer struct {
	ID       string
	Mode     Mode
	Category Category
	Type     string
	Length   int
	Style    Style
	Pickable bool

	Buffer    *columnar.Buffer
	Points    []columnar.Point
	Bindings  []Binding
	Accessors map[string]string

	Bounds  s2.Rect
	Tooltip TooltipStrategy
}

// Summary is the JSON form of a layer for status endpoints.
type Summary struct {
	ID        string            `json:"id"`
	Mode      Mode              `json:"mode"`
	Category  string            `json:"category"`
	Type      string            `json:"type"`
	Length    int               `json:"length"`
	Style     Style             `json:"style"`
	Pickable  bool              `json:"pickable"`
	Bindings  []Binding         `json:"bindings,omitempty"`
	Accessors map[string]string `json:"accessors,omitempty"`
	Bounds    []float64         `json:"bounds,omitempty"` // west, south, east, north
}

func (l *Layer) Summary() Summary {
	s := Summary{
		ID:        l.ID,
		Mode:      l.Mode,
		Category:  l.Category.String(),
		Type:      l.Type,
		Length:    l.Length,
		Style:     l.Style,
		Pickable:  l.Pickable,
		Bindings:  l.Bindings,
		Accessors: l.Accessors,
	}
	if !l.Bounds.IsEmpty() {
		s.Bounds = []float64{
			l.Bounds.Lo().Lng.Degrees(),
			l.Bounds.Lo().Lat.Degrees(),
			l.Bounds.Hi().Lng.Degrees(),
			l.Bounds.Hi().Lat.Degrees(),
		}
	}
	return s
}

// TooltipAt resolves the tooltip for a picked object, or false when the layer has none.
func (l *Layer) TooltipAt(p Pick) (string, bool) {
	if l == nil || l.Tooltip == nil || !l.Pickable {
		return "", false
	}
	return l.Tooltip.Tooltip(l, p)
}
