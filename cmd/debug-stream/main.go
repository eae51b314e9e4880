package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/sudorandom/move-stream/pkg/ingest"
	"github.com/sudorandom/move-stream/pkg/logging"
	"github.com/sudorandom/move-stream/pkg/movement"
	"github.com/sudorandom/move-stream/pkg/sources"
	"github.com/sudorandom/move-stream/pkg/store"
)

type CLI struct {
	URL        string        `help:"Stream endpoint." default:"${stream_url}"`
	Study      int64         `help:"Study to subscribe to." required:""`
	Individual []string      `help:"Individuals to subscribe to." short:"i"`
	Sensor     string        `help:"Sensor type filter."`
	Timeout    time.Duration `help:"How long to run before exiting (0 for infinite)."`
	JSON       bool          `help:"Dump decoded bundles as JSON instead of showing stats."`
	Replay     string        `help:"Read frames from a recorded session instead of the stream."`
	Record     bool          `help:"Record every frame received."`
	Recordings string        `help:"Recorder database path." default:"data/recordings"`
}

type IndividualStats struct {
	Chunks      int
	Segments    int
	DistanceKm  float64
	FirstSeen   float64
	LastSeen    float64
	LastIndex   int
	OutOfOrder  int
	EmptyChunks int
}

type Stats struct {
	mu          sync.Mutex
	Frames      int
	Malformed   int
	Bytes       int
	Individuals map[string]*IndividualStats
	StartTime   time.Time
}

func (s *Stats) Record(raw []byte, showJSON bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Frames++
	s.Bytes += len(raw)
	b, err := movement.Decode(raw)
	if err != nil {
		s.Malformed++
		logging.Warn().Err(err).Msg("malformed frame")
		return
	}

	is, ok := s.Individuals[b.IndividualLocalIdentifier]
	if !ok {
		is = &IndividualStats{LastIndex: -1}
		s.Individuals[b.IndividualLocalIdentifier] = is
	}
	is.Chunks++
	if b.Index <= is.LastIndex {
		is.OutOfOrder++
	}
	is.LastIndex = b.Index
	if b.Empty() {
		is.EmptyChunks++
		return
	}
	is.Segments += len(b.Segments)
	for _, seg := range b.Segments {
		is.DistanceKm += seg.DistanceKm
		if is.FirstSeen == 0 || seg.SourceTimestamp < is.FirstSeen {
			is.FirstSeen = seg.SourceTimestamp
		}
		if seg.DestinationTimestamp > is.LastSeen {
			is.LastSeen = seg.DestinationTimestamp
		}
	}

	if showJSON {
		out, _ := json.MarshalIndent(b, "", "  ")
		fmt.Printf("%s\n\n", out)
	}
}

func (s *Stats) Report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	fmt.Printf("\033[H\033[2J")
	fmt.Printf("Movement Stream Stats (Running for %.1fs)\n", elapsed)
	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Frames:      %d (%.2f/s)\n", s.Frames, float64(s.Frames)/elapsed)
	fmt.Printf("Bytes:       %d (%.0f/s)\n", s.Bytes, float64(s.Bytes)/elapsed)
	fmt.Printf("Malformed:   %d\n", s.Malformed)
	fmt.Printf("Individuals: %d\n", len(s.Individuals))
	fmt.Printf("--------------------------------------------------\n")

	ids := make([]string, 0, len(s.Individuals))
	for id := range s.Individuals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.Individuals[ids[i]].Segments > s.Individuals[ids[j]].Segments
	})
	for _, id := range ids {
		is := s.Individuals[id]
		fmt.Printf("%s: %d chunks, %d segments, %.1f km", id, is.Chunks, is.Segments, is.DistanceKm)
		if is.Segments > 0 {
			fmt.Printf(", %s to %s",
				time.UnixMilli(int64(is.FirstSeen)).UTC().Format(time.RFC3339),
				time.UnixMilli(int64(is.LastSeen)).UTC().Format(time.RFC3339))
		}
		if is.OutOfOrder > 0 {
			fmt.Printf(" (%d out of order)", is.OutOfOrder)
		}
		fmt.Println()
	}
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("debug-stream"),
		kong.Description("Subscribes to the movement stream and reports per-individual statistics."),
		kong.Vars{"stream_url": sources.StreamURL},
	)
	logging.Init(logging.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	req := ingest.EventRequest{StudyID: cli.Study, IndividualIDs: cli.Individual, SensorType: cli.Sensor}
	if err := req.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid request")
	}

	var rec *store.Recorder
	if cli.Replay != "" || cli.Record {
		var err error
		rec, err = store.Open(cli.Recordings)
		if err != nil {
			logging.Fatal().Err(err).Msg("open recordings")
		}
		defer func() { _ = rec.Close() }()
	}

	var src ingest.Source = &ingest.StreamSource{URL: cli.URL}
	if cli.Replay != "" {
		src = &store.ReplaySource{Recorder: rec, SessionID: cli.Replay}
	}

	sessionID := ""
	if cli.Record && cli.Replay == "" {
		sessionID = uuid.NewString()
		if err := rec.BeginSession(sessionID, req); err != nil {
			logging.Fatal().Err(err).Msg("begin recording")
		}
		logging.Info().Str("session", sessionID).Msg("recording")
	}

	logging.Info().Str("url", cli.URL).Int64("study", cli.Study).Msg("connecting")
	stream, err := src.Open(ctx, req)
	if err != nil {
		logging.Error().Err(err).Msg("open stream")
		return
	}
	defer func() { _ = stream.Close() }()

	stats := &Stats{
		Individuals: make(map[string]*IndividualStats),
		StartTime:   time.Now(),
	}

	done := make(chan error, 1)
	go func() {
		for seq := 0; ; seq++ {
			raw, err := stream.Next(ctx)
			if err != nil {
				done <- err
				return
			}
			if sessionID != "" {
				if err := rec.Record(sessionID, seq, raw); err != nil {
					logging.Warn().Err(err).Msg("recording stopped")
					sessionID = ""
				}
			}
			stats.Record(raw, cli.JSON)
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if !cli.JSON {
				stats.Report()
			}
			switch {
			case errors.Is(err, io.EOF):
				logging.Info().Msg("stream ended")
			case ctx.Err() != nil:
				logging.Info().Msg("exiting")
			default:
				logging.Error().Err(err).Msg("stream failed")
			}
			return
		case <-ticker.C:
			if !cli.JSON {
				stats.Report()
			}
		}
	}
}
