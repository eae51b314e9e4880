package store

import (
	"context"
	"io"
	"time"

	"github.com/sudorandom/move-stream/pkg/ingest"
)

// ReplaySource plays a recorded session back as if it were live. The event request passed to
// Open is ignored; the session decides what is streamed.
type ReplaySource struct {
	Recorder  *Recorder
	SessionID string
	// Interval paces frames; zero replays as fast as they are read.
	Interval time.Duration
}

func (s *ReplaySource) Open(ctx context.Context, _ ingest.EventRequest) (ingest.Stream, error) {
	var frames [][]byte
	err := s.Recorder.Replay(s.SessionID, func(_ int, raw []byte) error {
		frames = append(frames, append([]byte(nil), raw...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &replayStream{frames: frames, interval: s.Interval}, nil
}

type replayStream struct {
	frames   [][]byte
	interval time.Duration
	pos      int
}

func (r *replayStream) Next(ctx context.Context) ([]byte, error) {
	if r.pos >= len(r.frames) {
		return nil, io.EOF
	}
	if r.interval > 0 && r.pos > 0 {
		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := r.frames[r.pos]
	r.pos++
	return f, nil
}

func (r *replayStream) Close() error {
	r.frames = nil
	r.pos = 0
	return nil
}

var _ ingest.Source = (*ReplaySource)(nil)
