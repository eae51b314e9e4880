package layers

import (
	"fmt"
	"time"
)

// Pick is what the renderer reports for a hovered object. Index is the segment for path and
// point layers; Members are the point indices falling in a picked aggregation bin.
type Pick struct {
	Index   int
	Members []int
}

// TooltipStrategy renders tooltip text for a picked object of a layer.
type TooltipStrategy interface {
	Tooltip(l *Layer, p Pick) (string, bool)
}

// TooltipFunc adapts a function to TooltipStrategy.
type TooltipFunc func(l *Layer, p Pick) (string, bool)

func (f TooltipFunc) Tooltip(l *Layer, p Pick) (string, bool) { return f(l, p) }

// ContentTooltip shows the segment's content blob.
var ContentTooltip = TooltipFunc(func(l *Layer, p Pick) (string, bool) {
	if l.Buffer == nil || p.Index < 0 || p.Index >= len(l.Buffer.Content) {
		return "", false
	}
	c := l.Buffer.Content[p.Index]
	if len(c) == 0 {
		return "", false
	}
	return string(c), true
})

// BinTooltip summarizes the points of an aggregation bin: how many, and their time span.
var BinTooltip = TooltipFunc(func(l *Layer, p Pick) (string, bool) {
	var first, last float64
	n := 0
	for _, i := range p.Members {
		if i < 0 || i >= len(l.Points) {
			continue
		}
		ts := l.Points[i].Timestamp
		if n == 0 || ts < first {
			first = ts
		}
		if n == 0 || ts > last {
			last = ts
		}
		n++
	}
	if n == 0 {
		return "", false
	}
	if n == 1 {
		return fmt.Sprintf("1 event at %s", formatMillis(first)), true
	}
	return fmt.Sprintf("%d events, %s to %s", n, formatMillis(first), formatMillis(last)), true
})

func formatMillis(ms float64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339)
}

// Tooltips maps each mode to its tooltip strategy. A mode without an entry has no tooltips.
// The zero value has none at all; DefaultTooltips is the usual starting point.
type Tooltips map[Mode]TooltipStrategy

// DefaultTooltips shows content for path and point modes and a bin summary for hexagon and
// screen grid. Heatmap cells are not pickable.
func DefaultTooltips() Tooltips {
	t := make(Tooltips)
	for _, m := range Modes() {
		if s := defaultTooltip(m); s != nil {
			t[m] = s
		}
	}
	return t
}

func defaultTooltip(m Mode) TooltipStrategy {
	switch m {
	case ModeArc, ModeLine, ModeScatterplot:
		return ContentTooltip
	case ModeHexagon, ModeScreenGrid:
		return BinTooltip
	}
	return nil
}

// With returns a copy of t with mode set to s. A nil s removes the mode's tooltips.
func (t Tooltips) With(mode Mode, s TooltipStrategy) Tooltips {
	out := make(Tooltips, len(t)+1)
	for m, v := range t {
		out[m] = v
	}
	if s == nil {
		delete(out, mode)
	} else {
		out[mode] = s
	}
	return out
}

// For returns the strategy for mode, or nil.
func (t Tooltips) For(mode Mode) TooltipStrategy {
	return t[mode]
}
