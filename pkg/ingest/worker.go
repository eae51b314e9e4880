package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sudorandom/move-stream/pkg/logging"
	"github.com/sudorandom/move-stream/pkg/metrics"
	"github.com/sudorandom/move-stream/pkg/movement"
)

// Recorder persists the raw wire messages of a session for later replay.
type Recorder interface {
	BeginSession(id string, req EventRequest) error
	Record(id string, seq int, raw []byte) error
}

// Worker owns the stream connection. It runs on its own goroutine (Serve) and talks to the
// controller only through Dispatch and Messages. At most one session runs at a time.
type Worker struct {
	source   Source
	recorder Recorder
	cmds     chan Command
	msgs     chan Message
	log      zerolog.Logger
}

type Option func(*Worker)

// WithRecorder records every raw message received.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithBuffer sets the capacity of the message channel.
func WithBuffer(n int) Option {
	return func(w *Worker) { w.msgs = make(chan Message, n) }
}

func NewWorker(src Source, opts ...Option) *Worker {
	w := &Worker{
		source: src,
		cmds:   make(chan Command, 16),
		msgs:   make(chan Message, 64),
		log:    logging.Component("ingest"),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Dispatch queues a command for the worker.
func (w *Worker) Dispatch(cmd Command) {
	w.cmds <- cmd
}

func (w *Worker) Messages() <-chan Message {
	return w.msgs
}

func (w *Worker) String() string {
	return "ingest-worker"
}

type session struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) stop() {
	s.cancel()
	<-s.done
}

// Serve handles commands until ctx is done. A FetchRequest stops the running session before
// starting its own; Cleanup with no running session does nothing.
func (w *Worker) Serve(ctx context.Context) error {
	var cur *session
	defer func() {
		if cur != nil {
			cur.stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-w.cmds:
			switch c := cmd.(type) {
			case FetchRequest:
				if cur != nil {
					cur.stop()
				}
				cur = w.start(ctx, c)
			case Cleanup:
				if cur == nil {
					w.log.Debug().Uint64("generation", c.Generation).Msg("cleanup with no running session")
					continue
				}
				w.log.Info().Uint64("generation", cur.gen).Msg("closing session")
				cur.stop()
				cur = nil
			}
		}
	}
}

func (w *Worker) start(parent context.Context, c FetchRequest) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{gen: c.Generation, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer cancel()
		w.run(ctx, c)
	}()
	return s
}

func (w *Worker) run(ctx context.Context, c FetchRequest) {
	id := uuid.NewString()
	log := w.log.With().Uint64("generation", c.Generation).Str("session", id).Logger()
	fail := func(err error) {
		log.Error().Err(err).Msg("stream failed")
		w.emit(ctx, Message{Kind: KindError, Generation: c.Generation, Err: err})
	}

	st, err := w.source.Open(ctx, c.Request)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, ErrConnectionFailure) {
			err = fmt.Errorf("%w: %v", ErrConnectionFailure, err)
		}
		fail(err)
		return
	}
	defer func() { _ = st.Close() }()
	log.Info().Int64("study", c.Request.StudyID).Int("individuals", len(c.Request.IndividualIDs)).Msg("stream opened")

	recording := false
	if w.recorder != nil {
		if err := w.recorder.BeginSession(id, c.Request); err != nil {
			log.Warn().Err(err).Msg("recorder unavailable, continuing without it")
		} else {
			recording = true
		}
	}

	for seq := 0; ; seq++ {
		raw, err := st.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			log.Info().Int("messages", seq).Msg("stream ended")
			w.emit(ctx, Message{Kind: KindEnded, Generation: c.Generation})
			return
		case ctx.Err() != nil:
			return
		case err != nil:
			fail(err)
			return
		}

		if recording {
			if err := w.recorder.Record(id, seq, raw); err != nil {
				log.Warn().Err(err).Msg("recording stopped")
				recording = false
			}
		}

		start := time.Now()
		b, err := movement.Decode(raw)
		if err != nil {
			metrics.RecordChunk(metrics.OutcomeMalformed, 0, 0, 0)
			fail(err)
			return
		}
		msg, ok := chunkMessage(c.Generation, b, c.Palette, start)
		if !ok {
			log.Debug().Str("individual", b.IndividualLocalIdentifier).Int("index", b.Index).Msg("skipping empty bundle")
			continue
		}
		if msg.Kind == KindWarning {
			log.Warn().Err(msg.Err).Str("individual", b.IndividualLocalIdentifier).Msg("dropping chunk")
		}
		if !w.emit(ctx, msg) {
			return
		}
	}
}

func (w *Worker) emit(ctx context.Context, m Message) bool {
	select {
	case w.msgs <- m:
		return true
	case <-ctx.Done():
		return false
	}
}
