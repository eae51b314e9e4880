package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Source opens one stream per session.
type Source interface {
	Open(ctx context.Context, req EventRequest) (Stream, error)
}

// Stream yields raw wire messages. Next returns io.EOF once the remote has ended the stream
// normally. Close may be called more than once.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamSource subscribes over a websocket. After the subscribe frame every binary frame is
// one wire message; a normal closure ends the stream. There is no reconnect.
type StreamSource struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
}

var _ Source = (*StreamSource)(nil)

type subscribe struct {
	Type string       `json:"type"`
	Data EventRequest `json:"data"`
}

// notice is a text frame sent by the server alongside the binary chunks.
type notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *StreamSource) Open(ctx context.Context, req EventRequest) (Stream, error) {
	dialer := *websocket.DefaultDialer
	if s.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = s.HandshakeTimeout
	}
	c, _, err := dialer.DialContext(ctx, s.URL, s.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailure, s.URL, err)
	}

	msg, err := json.Marshal(subscribe{Type: "subscribe", Data: req})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrConnectionFailure, err)
	}

	ws := &wsStream{conn: c}
	ws.stop = context.AfterFunc(ctx, func() { _ = ws.Close() })
	return ws, nil
}

type wsStream struct {
	conn *websocket.Conn
	stop func() bool
	once sync.Once
	err  error
}

func (s *wsStream) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, io.EOF
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}

		var n notice
		if json.Unmarshal(data, &n) != nil {
			continue
		}
		if n.Type == "error" {
			return nil, fmt.Errorf("%w: server: %s", ErrConnectionFailure, n.Message)
		}
	}
}

func (s *wsStream) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.err = err
		}
	})
	return s.err
}
