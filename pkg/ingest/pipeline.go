package ingest

import (
	"time"

	"github.com/sudorandom/move-stream/pkg/columnar"
	"github.com/sudorandom/move-stream/pkg/metrics"
	"github.com/sudorandom/move-stream/pkg/movement"
)

// chunkMessage transcodes a decoded bundle into the message sent for it. It reports false
// for empty bundles, which produce no message. A transcode failure becomes a warning.
func chunkMessage(gen uint64, b movement.Bundle, p *columnar.Palette, start time.Time) (Message, bool) {
	if b.Empty() {
		metrics.RecordChunk(metrics.OutcomeEmpty, 0, 0, 0)
		return Message{}, false
	}
	buf, own, err := columnar.Transcode(b, p)
	if err != nil {
		metrics.RecordChunk(metrics.OutcomeTranscodeFailed, 0, 0, 0)
		return Message{
			Kind:       KindWarning,
			Generation: gen,
			Individual: b.IndividualLocalIdentifier,
			Index:      b.Index,
			Err:        err,
		}, true
	}
	metrics.RecordChunk(metrics.OutcomeTranscoded, buf.Length, own.Bytes(), time.Since(start))
	return Message{
		Kind:       KindChunk,
		Generation: gen,
		Chunk:      columnar.NewHandle(buf, own),
		Individual: b.IndividualLocalIdentifier,
		Index:      b.Index,
	}, true
}
