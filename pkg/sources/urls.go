// Package sources names the remote endpoints the viewer talks to by default.
package sources

const (
	// StreamURL serves binary movement chunks over a websocket after a JSON subscribe frame.
	StreamURL = "ws://127.0.0.1:8000/ws/studies/events"
	// FallbackURL answers a POSTed event request with an array of GeoJSON feature collections.
	FallbackURL = "http://127.0.0.1:8000/api/studies/events"
)
