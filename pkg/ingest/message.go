// Package ingest runs the background side of the pipeline: it holds the remote stream
// connection, decodes and transcodes each chunk, and hands the results to the overlay
// controller as messages.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/sudorandom/move-stream/pkg/columnar"
)

var ErrConnectionFailure = errors.New("connection failure")

// EventRequest selects the events a session streams.
type EventRequest struct {
	StudyID       int64      `json:"study_id"`
	IndividualIDs []string   `json:"individual_local_identifiers"`
	SensorType    string     `json:"sensor_type,omitempty"`
	Start         *time.Time `json:"timestamp_start,omitempty"`
	End           *time.Time `json:"timestamp_end,omitempty"`
}

func (r EventRequest) Validate() error {
	if r.StudyID <= 0 {
		return fmt.Errorf("invalid study id %d", r.StudyID)
	}
	if len(r.IndividualIDs) == 0 {
		return errors.New("no individuals selected")
	}
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return fmt.Errorf("time range ends (%s) before it starts (%s)", r.End, r.Start)
	}
	return nil
}

// Kind is the closed set of messages sent from ingestion to the controller.
type Kind int

const (
	KindChunk Kind = iota + 1
	KindEnded
	KindError
	KindWarning
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindEnded:
		return "ended"
	case KindError:
		return "error"
	case KindWarning:
		return "warning"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is one event from ingestion. Generation is the session it belongs to; Chunk is
// set for KindChunk and Err for KindError and KindWarning.
type Message struct {
	Kind       Kind
	Generation uint64
	Chunk      *columnar.Handle
	Individual string
	Index      int
	Err        error
}

// Command is sent from the controller to ingestion: FetchRequest or Cleanup.
type Command interface {
	command()
}

// FetchRequest starts a session, replacing any running one. Chunks are colored from Palette.
type FetchRequest struct {
	Generation uint64
	Request    EventRequest
	Palette    *columnar.Palette
}

// Cleanup stops the running session, if any.
type Cleanup struct {
	Generation uint64
}

func (FetchRequest) command() {}
func (Cleanup) command()      {}
