package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/move-stream/pkg/columnar"
	"github.com/sudorandom/move-stream/pkg/movement"
)

func testBundle(id string, index, n int) movement.Bundle {
	b := movement.Bundle{IndividualLocalIdentifier: id, Index: index, Count: n}
	for i := 0; i < n; i++ {
		f := float64(i)
		b.Segments = append(b.Segments, movement.Segment{
			Source:               movement.Position{8 + f, 47},
			Target:               movement.Position{8.1 + f, 47.1},
			SourceTimestamp:      1_600_000_000_000 + f*60_000,
			DestinationTimestamp: 1_600_000_060_000 + f*60_000,
			DistanceKm:           0.9,
			DistanceTravelledKm:  0.9 * (f + 1),
			Content:              fmt.Sprintf("%s fix %d", id, i),
		})
	}
	return b
}

func frame(t *testing.T, b movement.Bundle) []byte {
	t.Helper()
	raw, err := movement.Encode(b)
	require.NoError(t, err)
	return raw
}

type wsServer struct {
	*httptest.Server
	subscribed chan subscribe
	closed     chan struct{}
}

// newWSServer serves frames after the subscribe message, then runs finish.
func newWSServer(t *testing.T, frames [][]byte, finish func(*websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{subscribed: make(chan subscribe, 1), closed: make(chan struct{})}
	up := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		defer close(s.closed)

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var sub subscribe
		if json.Unmarshal(msg, &sub) == nil {
			s.subscribed <- sub
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
		finish(c)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func closeNormally(c *websocket.Conn) {
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	_, _, _ = c.ReadMessage()
}

func holdOpen(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func startWorker(t *testing.T, src Source, opts ...Option) *Worker {
	t.Helper()
	w := NewWorker(src, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func next(t *testing.T, w *Worker) Message {
	t.Helper()
	select {
	case m := <-w.Messages():
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

var request = EventRequest{StudyID: 42, IndividualIDs: []string{"wolf-1", "wolf-2"}, SensorType: "gps"}

func TestWorkerStreamsChunks(t *testing.T) {
	srv := newWSServer(t, [][]byte{
		frame(t, testBundle("wolf-1", 0, 2)),
		frame(t, movement.Bundle{IndividualLocalIdentifier: "wolf-2", Index: 1}),
		frame(t, testBundle("wolf-2", 2, 5)),
	}, closeNormally)

	w := startWorker(t, &StreamSource{URL: srv.url()})
	palette := columnar.NewPalette()
	w.Dispatch(FetchRequest{Generation: 7, Request: request, Palette: palette})

	sub := <-srv.subscribed
	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, request.StudyID, sub.Data.StudyID)
	assert.Equal(t, request.IndividualIDs, sub.Data.IndividualIDs)

	var lengths []int
	for _, want := range []string{"wolf-1", "wolf-2"} {
		m := next(t, w)
		require.Equal(t, KindChunk, m.Kind)
		assert.Equal(t, uint64(7), m.Generation)
		assert.Equal(t, want, m.Individual)
		buf, err := m.Chunk.Take()
		require.NoError(t, err)
		require.NoError(t, buf.Validate())
		lengths = append(lengths, buf.Length)
	}
	assert.Equal(t, []int{2, 5}, lengths)
	assert.Equal(t, 2, palette.Len())

	m := next(t, w)
	assert.Equal(t, KindEnded, m.Kind)
	assert.Equal(t, uint64(7), m.Generation)
}

func TestWorkerMalformed(t *testing.T) {
	srv := newWSServer(t, [][]byte{[]byte("definitely not protobuf")}, holdOpen)
	w := startWorker(t, &StreamSource{URL: srv.url()})
	w.Dispatch(FetchRequest{Generation: 1, Request: request, Palette: columnar.NewPalette()})

	m := next(t, w)
	require.Equal(t, KindError, m.Kind)
	assert.True(t, errors.Is(m.Err, movement.ErrMalformedMessage))
}

func TestWorkerConnectionLost(t *testing.T) {
	srv := newWSServer(t, [][]byte{frame(t, testBundle("wolf-1", 0, 1))}, func(c *websocket.Conn) {
		_ = c.UnderlyingConn().Close()
	})
	w := startWorker(t, &StreamSource{URL: srv.url()})
	w.Dispatch(FetchRequest{Generation: 3, Request: request, Palette: columnar.NewPalette()})

	assert.Equal(t, KindChunk, next(t, w).Kind)
	m := next(t, w)
	require.Equal(t, KindError, m.Kind)
	assert.True(t, errors.Is(m.Err, ErrConnectionFailure))
}

func TestWorkerDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	w := startWorker(t, &StreamSource{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	w.Dispatch(FetchRequest{Generation: 2, Request: request, Palette: columnar.NewPalette()})

	m := next(t, w)
	require.Equal(t, KindError, m.Kind)
	assert.Equal(t, uint64(2), m.Generation)
	assert.True(t, errors.Is(m.Err, ErrConnectionFailure))
}

func TestWorkerCleanupClosesStream(t *testing.T) {
	srv := newWSServer(t, [][]byte{frame(t, testBundle("wolf-1", 0, 1))}, holdOpen)
	w := startWorker(t, &StreamSource{URL: srv.url()})

	w.Dispatch(Cleanup{Generation: 0}) // nothing running
	w.Dispatch(FetchRequest{Generation: 1, Request: request, Palette: columnar.NewPalette()})
	assert.Equal(t, KindChunk, next(t, w).Kind)

	w.Dispatch(Cleanup{Generation: 1})
	select {
	case <-srv.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("server connection still open after cleanup")
	}
	w.Dispatch(Cleanup{Generation: 1})
}

type memRecorder struct {
	mu       sync.Mutex
	sessions map[string]EventRequest
	frames   map[string][][]byte
}

func (r *memRecorder) BeginSession(id string, req EventRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = req
	return nil
}

func (r *memRecorder) Record(id string, seq int, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != len(r.frames[id]) {
		return fmt.Errorf("out of order: %d", seq)
	}
	r.frames[id] = append(r.frames[id], raw)
	return nil
}

func TestWorkerRecords(t *testing.T) {
	frames := [][]byte{
		frame(t, testBundle("wolf-1", 0, 1)),
		frame(t, testBundle("wolf-1", 1, 2)),
	}
	srv := newWSServer(t, frames, closeNormally)
	rec := &memRecorder{sessions: map[string]EventRequest{}, frames: map[string][][]byte{}}
	w := startWorker(t, &StreamSource{URL: srv.url()}, WithRecorder(rec))
	w.Dispatch(FetchRequest{Generation: 1, Request: request, Palette: columnar.NewPalette()})

	for {
		if next(t, w).Kind == KindEnded {
			break
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.sessions, 1)
	for id, req := range rec.sessions {
		assert.Equal(t, request.StudyID, req.StudyID)
		assert.Equal(t, frames, rec.frames[id])
	}
}

func TestEventRequestValidate(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	assert.NoError(t, request.Validate())
	assert.Error(t, EventRequest{IndividualIDs: []string{"a"}}.Validate())
	assert.Error(t, EventRequest{StudyID: 1}.Validate())
	assert.Error(t, EventRequest{StudyID: 1, IndividualIDs: []string{"a"}, Start: &start, End: &end}.Validate())
}
