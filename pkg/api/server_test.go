package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/move-stream/pkg/columnar"
	"github.com/sudorandom/move-stream/pkg/ingest"
	"github.com/sudorandom/move-stream/pkg/movement"
	"github.com/sudorandom/move-stream/pkg/overlay"
	"github.com/sudorandom/move-stream/pkg/store"
)

// chunkIngestor answers every fetch with a single two-segment chunk.
type chunkIngestor struct {
	mu      sync.Mutex
	deliver func(ingest.Message)
	cmds    []ingest.Command
}

func (c *chunkIngestor) Dispatch(cmd ingest.Command) {
	c.mu.Lock()
	c.cmds = append(c.cmds, cmd)
	c.mu.Unlock()
	fr, ok := cmd.(ingest.FetchRequest)
	if !ok {
		return
	}
	b := movement.Bundle{IndividualLocalIdentifier: "wolf-1", Count: 2, Segments: []movement.Segment{
		{Source: movement.Position{1, 2}, Target: movement.Position{3, 4}, Content: "first leg"},
		{Source: movement.Position{3, 4}, Target: movement.Position{5, 6}, Content: "second leg"},
	}}
	buf, own, err := columnar.Transcode(b, fr.Palette)
	if err != nil {
		panic(err)
	}
	c.deliver(ingest.Message{Kind: ingest.KindChunk, Generation: fr.Generation, Chunk: columnar.NewHandle(buf, own)})
	c.deliver(ingest.Message{Kind: ingest.KindEnded, Generation: fr.Generation})
}

func newTestServer(t *testing.T, sessions SessionLister) (*httptest.Server, *chunkIngestor) {
	t.Helper()
	board := overlay.NewStatusBoard()
	ing := &chunkIngestor{}
	ctrl := overlay.New(ing, board)
	ing.deliver = ctrl.Handle
	loop := overlay.NewLoop(ctrl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Serve(ctx)
	}()
	srv := httptest.NewServer(NewRouter(loop, board, sessions))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv, ing
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

type statusBody struct {
	State       string `json:"state"`
	Mode        string `json:"mode"`
	Events      int    `json:"events"`
	Individuals int    `json:"individuals"`
	Error       string `json:"error"`
}

func TestLoadAndSwitch(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var st statusBody
	code := do(t, http.MethodPost, srv.URL+"/load", `{"study_id": 3, "individual_local_identifiers": ["wolf-1"]}`, &st)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "standby", st.State, "stream already ended")
	assert.Equal(t, 2, st.Events)
	assert.Equal(t, 1, st.Individuals)

	var ls []map[string]any
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/layers", "", &ls))
	require.Len(t, ls, 1)
	assert.Equal(t, "ArcLayer", ls[0]["type"])
	assert.Equal(t, "wolf-1-0", ls[0]["id"])

	var tip map[string]string
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/layers/wolf-1-0/tooltip?index=1", "", &tip))
	assert.Equal(t, "second leg", tip["tooltip"])
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/layers/nope/tooltip?index=1", "", nil))

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/mode/hexagon", "", &st))
	assert.Equal(t, "hexagon", st.Mode)
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/layers", "", &ls))
	require.Len(t, ls, 1)
	assert.Equal(t, "HexagonLayer", ls[0]["type"])
	assert.Equal(t, "aggregate", ls[0]["id"])

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, srv.URL+"/mode/choropleth", "", nil))
}

func TestBadRequests(t *testing.T) {
	srv, ing := newTestServer(t, nil)

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/load", `{"study_id": 0}`, &e))
	assert.Contains(t, e.Error, "study")
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/load", `not json`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/opacity", `{}`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/opacity", `{"opacity": 3}`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/visible", `{}`, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/sessions", "", nil))

	ing.mu.Lock()
	defer ing.mu.Unlock()
	assert.Empty(t, ing.cmds)
}

func TestStyleAndRelease(t *testing.T) {
	srv, ing := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/load", `{"study_id": 3, "individual_local_identifiers": ["wolf-1"]}`, nil))

	var st struct {
		Opacity float64 `json:"opacity"`
		Visible bool    `json:"visible"`
		Events  int     `json:"events"`
	}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/opacity", `{"opacity": 0.3}`, &st))
	assert.Equal(t, 0.3, st.Opacity)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/visible", `{"visible": false}`, &st))
	assert.False(t, st.Visible)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/release", "", &st))
	assert.Zero(t, st.Events)

	ing.mu.Lock()
	defer ing.mu.Unlock()
	require.Len(t, ing.cmds, 2)
	_, ok := ing.cmds[1].(ingest.Cleanup)
	assert.True(t, ok)
}

func TestModesAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	var modes []map[string]string
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/modes", "", &modes))
	assert.Len(t, modes, 6)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "movestream_")
}

type fakeSessions []store.Session

func (f fakeSessions) Sessions() ([]store.Session, error) { return f, nil }

func TestSessions(t *testing.T) {
	srv, _ := newTestServer(t, fakeSessions{{ID: "abc", Frames: 4}})
	var got []store.Session
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/sessions", "", &got))
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].ID)
	assert.Equal(t, 4, got[0].Frames)
}
