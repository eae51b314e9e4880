package columnar

import (
	"image/color"
	"sync"
)

// ColorPair is the (source, target) display color of one individual's track.
type ColorPair struct {
	Source color.RGBA
	Target color.RGBA
}

var trackColors = []color.RGBA{
	{0, 191, 255, 255},   // Sky Blue
	{173, 255, 47, 255},  // Lime Green
	{255, 50, 50, 255},   // Red
	{255, 255, 0, 255},   // Yellow
	{148, 0, 211, 255},   // Violet
	{255, 140, 0, 255},   // Orange
	{0, 255, 170, 255},   // Mint
	{255, 105, 180, 255}, // Pink
}

// Palette assigns display colors to individuals the first time they are seen and hands
// back the same pair for every later chunk of that individual. One palette lives for one
// stream session.
type Palette struct {
	mu       sync.Mutex
	assigned map[string]ColorPair
}

func NewPalette() *Palette {
	return &Palette{assigned: make(map[string]ColorPair)}
}

// GetOrAssign returns the pair for id, assigning the next palette entry if id is new.
func (p *Palette) GetOrAssign(id string) ColorPair {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.assigned[id]; ok {
		return c
	}
	base := trackColors[len(p.assigned)%len(trackColors)]
	c := ColorPair{Source: base, Target: fade(base)}
	p.assigned[id] = c
	return c
}

// Len is the number of individuals with an assigned color.
func (p *Palette) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.assigned)
}

// fade lifts a color halfway towards white so the target end of a track reads as its head.
func fade(c color.RGBA) color.RGBA {
	return color.RGBA{
		R: c.R + (255-c.R)/2,
		G: c.G + (255-c.G)/2,
		B: c.B + (255-c.B)/2,
		A: c.A,
	}
}
