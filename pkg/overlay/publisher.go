package overlay

import (
	"sync"

	"github.com/sudorandom/move-stream/pkg/layers"
)

// Publisher receives the full layer set after every rebuild and the status after every
// change. Calls come from the controller's goroutine.
type Publisher interface {
	SetLayers(ls []*layers.Layer)
	SetStatus(s Status)
}

// StatusBoard keeps the last published layers and status for readers on other goroutines.
type StatusBoard struct {
	mu      sync.RWMutex
	layers  []*layers.Layer
	status  Status
	updates int
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{}
}

func (b *StatusBoard) SetLayers(ls []*layers.Layer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.layers = ls
	b.updates++
}

func (b *StatusBoard) SetStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

func (b *StatusBoard) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Layers returns the last published set. The slice is shared and must not be modified.
func (b *StatusBoard) Layers() []*layers.Layer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.layers
}

func (b *StatusBoard) Summaries() []layers.Summary {
	ls := b.Layers()
	out := make([]layers.Summary, len(ls))
	for i, l := range ls {
		out[i] = l.Summary()
	}
	return out
}

// Updates counts layer publications.
func (b *StatusBoard) Updates() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updates
}
