package overlay

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sudorandom/move-stream/pkg/columnar"
	"github.com/sudorandom/move-stream/pkg/ingest"
	"github.com/sudorandom/move-stream/pkg/layers"
	"github.com/sudorandom/move-stream/pkg/logging"
	"github.com/sudorandom/move-stream/pkg/metrics"
)

var errLayerBuild = errors.New("layer build failed")

// Ingestor accepts commands for the ingestion side.
type Ingestor interface {
	Dispatch(cmd ingest.Command)
}

// Controller is single threaded: every method, including Handle, must be called from one
// goroutine at a time. Run provides that loop.
type Controller struct {
	ingestor  Ingestor
	publisher Publisher
	log       zerolog.Logger

	state    State
	mode     layers.Mode
	style    layers.Style
	tooltips layers.Tooltips
	gen      uint64
	session  *SessionState
	lastErr  error
}

type Option func(*Controller)

func WithMode(m layers.Mode) Option {
	return func(c *Controller) { c.mode = m }
}

func WithStyle(s layers.Style) Option {
	return func(c *Controller) { c.style = s }
}

// WithTooltips sets the tooltip strategies of every layer the controller builds.
func WithTooltips(t layers.Tooltips) Option {
	return func(c *Controller) { c.tooltips = t }
}

func New(ing Ingestor, pub Publisher, opts ...Option) *Controller {
	c := &Controller{
		ingestor:  ing,
		publisher: pub,
		log:       logging.Component("overlay"),
		mode:      layers.ModeArc,
		style:     layers.DefaultStyle(),
		tooltips:  layers.DefaultTooltips(),
		session:   newSession(),
	}
	for _, o := range opts {
		o(c)
	}
	c.setState(StateStandby)
	return c
}

func (c *Controller) State() State               { return c.state }
func (c *Controller) Mode() layers.Mode          { return c.mode }
func (c *Controller) Generation() uint64         { return c.gen }
func (c *Controller) Session() *SessionState     { return c.session }
func (c *Controller) Layers() []*layers.Layer    { return c.session.Layers }
func (c *Controller) SetIngestor(ing Ingestor)   { c.ingestor = ing }
func (c *Controller) SetPublisher(pub Publisher) { c.publisher = pub }

func (c *Controller) Status() Status {
	s := Status{
		State:       c.state,
		Mode:        c.mode,
		Generation:  c.gen,
		Events:      c.session.Events,
		Individuals: len(c.session.Individuals),
		Chunks:      len(c.session.Chunks),
		Warnings:    c.session.Warnings,
		Opacity:     c.style.Opacity,
		Visible:     c.style.Visible,
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

// LoadData starts a new session from any state. All session state is dropped before the
// request is dispatched, and messages of earlier sessions are ignored from here on.
func (c *Controller) LoadData(req ingest.EventRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("load data: %w", err)
	}
	c.gen++
	c.session = newSession()
	c.lastErr = nil
	c.setState(StateStreaming)
	metrics.CumulativeSegments.Set(0)
	c.log.Info().Uint64("generation", c.gen).Int64("study", req.StudyID).
		Int("individuals", len(req.IndividualIDs)).Str("mode", string(c.mode)).Msg("loading data")

	c.publishLayers()
	c.publishStatus()
	c.ingestor.Dispatch(ingest.FetchRequest{Generation: c.gen, Request: req, Palette: c.session.Palette})
	return nil
}

// ReleaseResources drops the session and tells ingestion to close its stream.
func (c *Controller) ReleaseResources() {
	c.ingestor.Dispatch(ingest.Cleanup{Generation: c.gen})
	c.gen++
	c.session = newSession()
	c.lastErr = nil
	c.setState(StateStandby)
	metrics.CumulativeSegments.Set(0)
	c.log.Info().Uint64("generation", c.gen).Msg("resources released")
	c.publishLayers()
	c.publishStatus()
}

// Handle applies one message from ingestion. Messages of other generations are discarded.
func (c *Controller) Handle(m ingest.Message) {
	if m.Generation != c.gen {
		metrics.StaleMessages.Inc()
		if m.Chunk != nil {
			_, _ = m.Chunk.Take()
		}
		c.log.Debug().Uint64("generation", m.Generation).Uint64("current", c.gen).
			Stringer("kind", m.Kind).Msg("discarding stale message")
		return
	}

	switch m.Kind {
	case ingest.KindChunk:
		c.onChunk(m)
	case ingest.KindEnded:
		if c.state == StateStreaming {
			c.log.Info().Uint64("generation", c.gen).Int("events", c.session.Events).Msg("stream ended")
			c.setState(StateStandby)
			c.publishStatus()
		}
	case ingest.KindError:
		if c.state == StateStreaming {
			c.fail(m.Err)
		}
	case ingest.KindWarning:
		c.warn(m.Err, m.Individual)
	}
}

func (c *Controller) fail(err error) {
	if err == nil {
		err = errors.New("stream failed")
	}
	c.log.Error().Err(err).Uint64("generation", c.gen).Msg("stream error, keeping last layers")
	c.lastErr = err
	c.setState(StateError)
	c.publishStatus()
}

func (c *Controller) warn(err error, individual string) {
	c.session.Warnings++
	c.log.Warn().Err(err).Str("individual", individual).Msg("chunk dropped")
	c.publishStatus()
}

func (c *Controller) onChunk(m ingest.Message) {
	buf, err := m.Chunk.Take()
	if err != nil {
		c.warn(err, m.Individual)
		return
	}
	if c.state != StateStreaming {
		return
	}
	if err := buf.Validate(); err != nil {
		c.warn(err, m.Individual)
		return
	}
	if buf.Length == 0 {
		return
	}

	s := c.session
	chunks := append(s.Chunks[:len(s.Chunks):len(s.Chunks)], buf)
	next := *s
	next.Chunks = chunks
	if err := c.rebuild(&next, c.mode, c.style); err != nil {
		c.warn(err, m.Individual)
		return
	}

	next.Events += buf.Length
	next.Individuals[buf.IndividualLocalIdentifier] = struct{}{}
	c.commit(&next)
	c.log.Debug().Str("individual", buf.IndividualLocalIdentifier).Int("segments", buf.Length).
		Int("events", next.Events).Msg("chunk applied")
}

// ChangeActiveLayer switches the visualization mode, rebuilding from held buffers only.
func (c *Controller) ChangeActiveLayer(mode layers.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown visualization mode %q", mode)
	}
	if mode == c.mode {
		return nil
	}
	if len(c.session.Chunks) == 0 {
		c.mode = mode
		c.publishStatus()
		return nil
	}

	next := *c.session
	if err := c.rebuild(&next, mode, c.style); err != nil {
		return err
	}
	c.log.Info().Str("from", string(c.mode)).Str("to", string(mode)).Msg("mode changed")
	c.mode = mode
	c.commit(&next)
	return nil
}

// SetOpacity updates the layer style and republishes the current layers.
func (c *Controller) SetOpacity(opacity float64) error {
	if opacity < 0 || opacity > 1 {
		return fmt.Errorf("opacity %v outside [0,1]", opacity)
	}
	style := c.style
	style.Opacity = opacity
	return c.restyle(style)
}

func (c *Controller) SetVisible(visible bool) error {
	style := c.style
	style.Visible = visible
	return c.restyle(style)
}

func (c *Controller) restyle(style layers.Style) error {
	if style == c.style {
		return nil
	}
	next := *c.session
	if len(next.Chunks) > 0 {
		if err := c.rebuild(&next, c.mode, style); err != nil {
			return err
		}
	}
	c.style = style
	c.commit(&next)
	return nil
}

// rebuild computes the layer set of s for mode into s itself. s must be a copy of the
// session: on error the caller discards it, leaving the published state untouched.
func (c *Controller) rebuild(s *SessionState, mode layers.Mode, style layers.Style) error {
	category, ok := mode.Category()
	if !ok {
		return fmt.Errorf("%w: unknown mode %q", errLayerBuild, mode)
	}

	var built []*layers.Layer
	if category == layers.CategoryAggregation {
		fold(s)
		if s.Cumulative != nil && s.Cumulative.Length > 0 {
			l := layers.Create(mode, layers.Input{ID: columnar.AggregateIdentifier, Points: s.Points, Style: style, Tooltips: c.tooltips})
			if l == nil {
				return fmt.Errorf("%w: %s over %d points", errLayerBuild, mode, len(s.Points))
			}
			built = []*layers.Layer{l}
		}
	} else {
		built = make([]*layers.Layer, 0, len(s.Chunks))
		for i, b := range s.Chunks {
			id := fmt.Sprintf("%s-%d", b.IndividualLocalIdentifier, i)
			l := layers.Create(mode, layers.Input{ID: id, Buffer: b, Style: style, Tooltips: c.tooltips})
			if l == nil {
				return fmt.Errorf("%w: %s for chunk %d", errLayerBuild, mode, i)
			}
			built = append(built, l)
		}
	}

	metrics.LayerRebuilds.WithLabelValues(category.String()).Inc()
	s.Layers = built
	return nil
}

// fold merges every chunk not yet in the cumulative buffer. The previous cumulative buffer
// and points slice are never written to.
func fold(s *SessionState) {
	if s.Merged == len(s.Chunks) {
		return
	}
	start := time.Now()
	cum := s.Cumulative
	pts := s.Points[:len(s.Points):len(s.Points)]
	for _, b := range s.Chunks[s.Merged:] {
		cum = columnar.Merge(cum, b)
		pts = append(pts, columnar.ToPoints(b)...)
	}
	s.Cumulative = cum
	s.Points = pts
	s.Merged = len(s.Chunks)
	metrics.MergeDuration.Observe(time.Since(start).Seconds())
}

func (c *Controller) commit(next *SessionState) {
	*c.session = *next
	if c.session.Cumulative != nil {
		metrics.CumulativeSegments.Set(float64(c.session.Cumulative.Length))
	}
	c.publishLayers()
	c.publishStatus()
}

func (c *Controller) setState(s State) {
	c.state = s
	metrics.SetState(s.String(), stateNames...)
}

func (c *Controller) publishLayers() {
	if c.publisher != nil {
		c.publisher.SetLayers(c.session.Layers)
	}
}

func (c *Controller) publishStatus() {
	if c.publisher != nil {
		c.publisher.SetStatus(c.Status())
	}
}
