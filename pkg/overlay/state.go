// Package overlay is the controller between ingestion and the renderer. It owns the session
// state, folds incoming chunks, and rebuilds the published layer set for the active mode.
package overlay

import (
	"fmt"

	"github.com/sudorandom/move-stream/pkg/columnar"
	"github.com/sudorandom/move-stream/pkg/layers"
)

type State int

const (
	StateStandby State = iota
	StateStreaming
	StateError
)

var stateNames = []string{"standby", "streaming", "error"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionState is everything that belongs to one loadData call. It is replaced wholesale on
// reset, never cleared field by field.
type SessionState struct {
	Chunks     []*columnar.Buffer
	Cumulative *columnar.Buffer
	// Points mirrors Cumulative in aggregation input form.
	Points []columnar.Point
	// Merged is how many of Chunks are folded into Cumulative. Folding is deferred while no
	// aggregation mode is active.
	Merged int

	Palette     *columnar.Palette
	Individuals map[string]struct{}
	Events      int
	Warnings    int
	Layers      []*layers.Layer
}

func newSession() *SessionState {
	return &SessionState{
		Palette:     columnar.NewPalette(),
		Individuals: make(map[string]struct{}),
	}
}

// Status is the running summary shown next to the map.
type Status struct {
	State       State       `json:"state"`
	Mode        layers.Mode `json:"mode"`
	Generation  uint64      `json:"generation"`
	Events      int         `json:"events"`
	Individuals int         `json:"individuals"`
	Chunks      int         `json:"chunks"`
	Warnings    int         `json:"warnings"`
	Opacity     float64     `json:"opacity"`
	Visible     bool        `json:"visible"`
	Error       string      `json:"error,omitempty"`
}
