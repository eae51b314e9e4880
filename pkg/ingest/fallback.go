package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/sudorandom/move-stream/pkg/movement"
)

// FallbackSource fetches a whole session in one request/response round trip.
type FallbackSource struct {
	URL    string
	Client *http.Client
}

// Fetch posts req and decodes the returned feature collections. Element i of the response
// becomes the bundle with Index i.
func (f *FallbackSource) Fetch(ctx context.Context, req EventRequest) ([]movement.Bundle, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/geo+json, application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: bad status: %s", ErrConnectionFailure, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrConnectionFailure, err)
	}
	return movement.DecodeFeatureCollections(data)
}

// SyncIngestor serves commands on the caller's goroutine from a FallbackSource. Every
// message for a FetchRequest is passed to Deliver before Dispatch returns.
type SyncIngestor struct {
	Source  *FallbackSource
	Deliver func(Message)
	Timeout time.Duration
}

func (s *SyncIngestor) Dispatch(cmd Command) {
	c, ok := cmd.(FetchRequest)
	if !ok {
		// Cleanup: a synchronous fetch holds nothing open.
		return
	}

	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	bundles, err := s.Source.Fetch(ctx, c.Request)
	if err != nil {
		s.Deliver(Message{Kind: KindError, Generation: c.Generation, Err: err})
		return
	}
	for _, b := range bundles {
		if msg, ok := chunkMessage(c.Generation, b, c.Palette, start); ok {
			s.Deliver(msg)
		}
		start = time.Now()
	}
	s.Deliver(Message{Kind: KindEnded, Generation: c.Generation})
}
