// Package api is the viewer's HTTP surface: status and layer snapshots for the UI, and the
// control actions that drive the overlay controller.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sudorandom/move-stream/pkg/ingest"
	"github.com/sudorandom/move-stream/pkg/layers"
	"github.com/sudorandom/move-stream/pkg/logging"
	"github.com/sudorandom/move-stream/pkg/overlay"
	"github.com/sudorandom/move-stream/pkg/store"
)

// Controls runs fn on the controller's goroutine. *overlay.Loop implements it.
type Controls interface {
	Do(ctx context.Context, fn func(*overlay.Controller) error) error
}

// SessionLister lists recordings. *store.Recorder implements it.
type SessionLister interface {
	Sessions() ([]store.Session, error)
}

type Handler struct {
	controls Controls
	board    *overlay.StatusBoard
	sessions SessionLister
	log      zerolog.Logger
}

// NewRouter builds the viewer's routes. sessions may be nil.
func NewRouter(controls Controls, board *overlay.StatusBoard, sessions SessionLister) http.Handler {
	h := &Handler{controls: controls, board: board, sessions: sessions, log: logging.Component("api")}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/status", h.status)
	r.Get("/layers", h.layers)
	r.Get("/layers/{id}/tooltip", h.tooltip)
	r.Get("/modes", h.modes)
	r.Post("/load", h.load)
	r.Post("/mode/{mode}", h.mode)
	r.Post("/opacity", h.opacity)
	r.Post("/visible", h.visible)
	r.Post("/release", h.release)
	r.Get("/sessions", h.listSessions)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", ww.Status()).
			Dur("duration", time.Since(start)).Str("request_id", chimiddleware.GetReqID(r.Context())).Msg("request")
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("encoding response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorBody{Error: err.Error()})
}

// act runs fn on the controller and answers with the resulting status.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, fn func(*overlay.Controller) error) {
	var st overlay.Status
	err := h.controls.Do(r.Context(), func(c *overlay.Controller) error {
		if err := fn(c); err != nil {
			return err
		}
		st = c.Status()
		return nil
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.writeJSON(w, http.StatusOK, st)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.board.Status())
}

func (h *Handler) layers(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.board.Summaries())
}

func (h *Handler) modes(w http.ResponseWriter, _ *http.Request) {
	type mode struct {
		Name     layers.Mode `json:"name"`
		Category string      `json:"category"`
	}
	var out []mode
	for _, m := range layers.Modes() {
		c, _ := m.Category()
		out = append(out, mode{Name: m, Category: c.String()})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) tooltip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pick := layers.Pick{Index: -1}
	if v := r.URL.Query().Get("index"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("index: %w", err))
			return
		}
		pick.Index = n
	}
	for _, v := range r.URL.Query()["member"] {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("member: %w", err))
			return
		}
		pick.Members = append(pick.Members, n)
	}

	for _, l := range h.board.Layers() {
		if l.ID != id {
			continue
		}
		text, ok := l.TooltipAt(pick)
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"tooltip": text})
		return
	}
	h.writeError(w, http.StatusNotFound, fmt.Errorf("no layer %q", id))
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) {
	var req ingest.EventRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.act(w, r, func(c *overlay.Controller) error { return c.LoadData(req) })
}

func (h *Handler) mode(w http.ResponseWriter, r *http.Request) {
	m, err := layers.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	h.act(w, r, func(c *overlay.Controller) error { return c.ChangeActiveLayer(m) })
}

func (h *Handler) opacity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Opacity *float64 `json:"opacity"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Opacity == nil {
		h.writeError(w, http.StatusBadRequest, errors.New("opacity is required"))
		return
	}
	h.act(w, r, func(c *overlay.Controller) error { return c.SetOpacity(*body.Opacity) })
}

func (h *Handler) visible(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Visible == nil {
		h.writeError(w, http.StatusBadRequest, errors.New("visible is required"))
		return
	}
	h.act(w, r, func(c *overlay.Controller) error { return c.SetVisible(*body.Visible) })
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(c *overlay.Controller) error {
		c.ReleaseResources()
		return nil
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	if h.sessions == nil {
		h.writeError(w, http.StatusNotFound, errors.New("recorder disabled"))
		return
	}
	s, err := h.sessions.Sessions()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s == nil {
		s = []store.Session{}
	}
	h.writeJSON(w, http.StatusOK, s)
}
