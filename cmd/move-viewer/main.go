package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"

	"github.com/sudorandom/move-stream/pkg/api"
	"github.com/sudorandom/move-stream/pkg/config"
	"github.com/sudorandom/move-stream/pkg/ingest"
	"github.com/sudorandom/move-stream/pkg/layers"
	"github.com/sudorandom/move-stream/pkg/logging"
	"github.com/sudorandom/move-stream/pkg/overlay"
	"github.com/sudorandom/move-stream/pkg/store"
)

type CLI struct {
	Config string `help:"Path to a YAML config file." type:"path" env:"MOVESTREAM_CONFIG"`

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the ingestion worker, the overlay controller and the HTTP API."`
	Sessions SessionsCmd `cmd:"" help:"List recorded sessions."`
}

type ServeCmd struct {
	Replay     string   `help:"Replay a recorded session instead of connecting to the stream."`
	Interval   string   `help:"Delay between replayed chunks." default:"0s"`
	Fallback   bool     `help:"Fetch from the request/response endpoint instead of the stream."`
	Study      int64    `help:"Load this study on startup."`
	Individual []string `help:"Individuals to load on startup." short:"i"`
	Mode       string   `help:"Initial visualization mode (overrides config)."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("move-viewer"),
		kong.Description("Streams animal movement chunks into render layers and serves them over HTTP."),
		kong.UsageOnError(),
	)
	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err)
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})
	kctx.FatalIfErrorf(kctx.Run(cfg))
}

var errFallbackReplay = errors.New("--fallback and --replay cannot be combined")

// Validate is called by kong after parsing.
func (s *ServeCmd) Validate() error {
	if s.Fallback && s.Replay != "" {
		return errFallbackReplay
	}
	return nil
}

func (s *ServeCmd) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.Mode != "" {
		cfg.Overlay.DefaultMode = s.Mode
	}
	mode, err := layers.ParseMode(cfg.Overlay.DefaultMode)
	if err != nil {
		return err
	}
	interval, err := time.ParseDuration(s.Interval)
	if err != nil {
		return fmt.Errorf("interval: %w", err)
	}

	var rec *store.Recorder
	if cfg.Recorder.Enabled || s.Replay != "" {
		rec, err = store.Open(cfg.Recorder.Path)
		if err != nil {
			return err
		}
		defer func() { _ = rec.Close() }()
	}

	board := overlay.NewStatusBoard()
	style := layers.DefaultStyle()
	style.Opacity = cfg.Overlay.Opacity
	ctrl := overlay.New(nil, board, overlay.WithMode(mode), overlay.WithStyle(style))

	sup := suture.New("move-viewer", suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Fields(e.Map()).Msg(e.String())
		},
		Timeout: 10 * time.Second,
	})

	var msgs <-chan ingest.Message
	if s.Fallback || (cfg.Stream.UseFallback && s.Replay == "") {
		ctrl.SetIngestor(&ingest.SyncIngestor{
			Source:  &ingest.FallbackSource{URL: cfg.Stream.FallbackURL, Client: &http.Client{Timeout: time.Minute}},
			Deliver: ctrl.Handle,
		})
		logging.Info().Str("url", cfg.Stream.FallbackURL).Msg("using request/response fallback")
	} else {
		var src ingest.Source = &ingest.StreamSource{URL: cfg.Stream.URL, HandshakeTimeout: cfg.Stream.HandshakeTimeout}
		if s.Replay != "" {
			src = &store.ReplaySource{Recorder: rec, SessionID: s.Replay, Interval: interval}
			logging.Info().Str("session", s.Replay).Msg("replaying recorded session")
		}
		var opts []ingest.Option
		if cfg.Recorder.Enabled && s.Replay == "" {
			opts = append(opts, ingest.WithRecorder(rec))
		}
		worker := ingest.NewWorker(src, opts...)
		ctrl.SetIngestor(worker)
		msgs = worker.Messages()
		sup.Add(worker)
	}

	loop := overlay.NewLoop(ctrl, msgs)
	sup.Add(loop)

	var sessions api.SessionLister
	if rec != nil {
		sessions = rec
	}
	sup.Add(api.NewService(cfg.Server.Addr, api.NewRouter(loop, board, sessions)))

	if s.Study != 0 {
		req := ingest.EventRequest{StudyID: s.Study, IndividualIDs: s.Individual}
		go func() {
			err := loop.Do(ctx, func(c *overlay.Controller) error { return c.LoadData(req) })
			if err != nil {
				logging.Error().Err(err).Msg("initial load failed")
			}
		}()
	}

	logging.Info().Str("addr", cfg.Server.Addr).Str("mode", string(mode)).Msg("move-viewer starting")
	err = sup.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *SessionsCmd) Run(cfg *config.Config) error {
	rec, err := store.Open(cfg.Recorder.Path)
	if err != nil {
		return err
	}
	defer func() { _ = rec.Close() }()

	list, err := rec.Sessions()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTUDY\tINDIVIDUALS\tFRAMES")
	for _, sess := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", sess.ID, sess.StartedAt.Format(time.RFC3339), sess.Request.StudyID, len(sess.Request.IndividualIDs), sess.Frames)
	}
	return w.Flush()
}

type SessionsCmd struct{}
