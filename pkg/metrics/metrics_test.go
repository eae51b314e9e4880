package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordChunk(t *testing.T) {
	before := testutil.ToFloat64(ChunksReceived.WithLabelValues(OutcomeTranscoded))
	segs := testutil.ToFloat64(SegmentsTranscoded)
	bytes := testutil.ToFloat64(BytesTransferred)

	RecordChunk(OutcomeTranscoded, 3, 200, time.Millisecond)
	RecordChunk(OutcomeEmpty, 0, 0, 0)

	assert.Equal(t, before+1, testutil.ToFloat64(ChunksReceived.WithLabelValues(OutcomeTranscoded)))
	assert.Equal(t, segs+3, testutil.ToFloat64(SegmentsTranscoded))
	assert.Equal(t, bytes+200, testutil.ToFloat64(BytesTransferred))
	assert.GreaterOrEqual(t, testutil.ToFloat64(ChunksReceived.WithLabelValues(OutcomeEmpty)), 1.0)
}

func TestSetState(t *testing.T) {
	states := []string{"standby", "streaming", "error"}
	SetState("streaming", states...)
	assert.Equal(t, 1.0, testutil.ToFloat64(StreamState.WithLabelValues("streaming")))
	assert.Equal(t, 0.0, testutil.ToFloat64(StreamState.WithLabelValues("standby")))

	SetState("error", states...)
	assert.Equal(t, 0.0, testutil.ToFloat64(StreamState.WithLabelValues("streaming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(StreamState.WithLabelValues("error")))
}

func TestMetricsLint(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer,
		"movestream_chunks_received_total", "movestream_transcode_duration_seconds")
	require.NoError(t, err)
	assert.Empty(t, problems)
}
