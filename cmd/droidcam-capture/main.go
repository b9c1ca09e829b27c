// Command droidcam-capture runs the camera source element against the
// simulated HAL, optionally feeding a GStreamer pipeline, and exposes its
// state and metrics over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/moralrecordings/gst-droid/droidcamsrc"
	"github.com/moralrecordings/gst-droid/hal"
	"github.com/moralrecordings/gst-droid/hal/simhal"
	"github.com/moralrecordings/gst-droid/internal/gstpeer"
	"github.com/moralrecordings/gst-droid/internal/logging"
	"github.com/moralrecordings/gst-droid/internal/msgbus"
	"github.com/moralrecordings/gst-droid/pipeline"
)

type options struct {
	configPath string
	listenAddr string
	logLevel   string
	console    bool
	launch     string
	target     string
	duration   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "droidcam-capture",
		Short: "Run the Android camera source element",
		Long: "Run droidcamsrc on the simulated camera HAL, push the viewfinder into a GStreamer\n" +
			"pipeline or a counting sink, and serve element state and metrics over HTTP.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "element configuration file (YAML)")
	f.StringVar(&opts.listenAddr, "listen", ":8089", "HTTP listen address, empty to disable")
	f.StringVar(&opts.logLevel, "log-level", "", "log level, overrides the configuration")
	f.BoolVar(&opts.console, "console", false, "human readable log output")
	f.StringVar(&opts.launch, "gst-launch", "", `GStreamer pipeline with an appsrc named "vfsrc", e.g. "appsrc name=vfsrc ! videoconvert ! fakesink"`)
	f.StringVar(&opts.target, "state", "PLAYING", "state to bring the element to on startup")
	f.DurationVar(&opts.duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg := &droidcamsrc.Config{}
	if opts.configPath != "" {
		loaded, err := droidcamsrc.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := droidcamsrc.Validate(cfg); err != nil {
		return err
	}

	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	base := logging.New(logging.Config{Level: level, Console: opts.console, Service: "droidcam-capture"})
	log := logging.WithComponent(base, "main")

	target, err := droidcamsrc.ParseState(opts.target)
	if err != nil {
		return err
	}

	hal.Register(hal.ModuleID, simhal.New(
		simhal.Camera{Info: hal.CameraInfo{Facing: hal.FacingBack, Orientation: 90}},
		simhal.Camera{Info: hal.CameraInfo{Facing: hal.FacingFront, Orientation: 270}},
	))
	defer hal.Register(hal.ModuleID, nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	src, err := droidcamsrc.New(*cfg, logging.WithComponent(base, "droidcamsrc"), droidcamsrc.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer src.Finalize()

	var gst *gstpeer.Pipeline
	if opts.launch != "" {
		gst, err = gstpeer.Launch(opts.launch, logging.WithComponent(base, "gstreamer"))
		if err != nil {
			return err
		}
		peer, err := gst.Peer("vfsrc", pipeline.MustParseCaps("video/x-raw, format=YV12"))
		if err != nil {
			return err
		}
		if err := src.Link("vfsrc", peer); err != nil {
			return err
		}
		if err := gst.Start(); err != nil {
			return err
		}
		defer func() {
			if err := gst.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop pipeline")
			}
		}()
	} else {
		sink := &countingSink{log: logging.WithComponent(base, "sink")}
		if err := src.Link("vfsrc", sink); err != nil {
			return err
		}
		defer func() {
			log.Info().Uint64("buffers", sink.buffers.Load()).Msg("sink totals")
		}()
	}

	messages := make(chan msgbus.Message, 64)
	if err := src.Bus().Subscribe("droidcam-capture", messages); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logMessages(gctx, log, messages)
		return nil
	})

	ret, err := src.SetState(gctx, target)
	if err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("droidcam-capture: set state %s: %w", target, err)
	}
	log.Info().Stringer("state", target).Stringer("result", ret).Msg("element running")

	if cfg.WatchQuirks {
		g.Go(func() error {
			return src.Quirks().Watch(gctx, cfg.QuirksFile)
		})
	}

	if opts.listenAddr != "" {
		srv := &http.Server{
			Addr:              opts.listenAddr,
			Handler:           newRouter(src, reg, logging.WithComponent(base, "http")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", opts.listenAddr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if opts.duration > 0 {
		g.Go(func() error {
			select {
			case <-time.After(opts.duration):
				log.Info().Dur("duration", opts.duration).Msg("capture duration reached")
				return errDone
			case <-gctx.Done():
				return nil
			}
		})
	}

	err = g.Wait()
	if _, nerr := src.SetState(context.Background(), droidcamsrc.StateNull); nerr != nil {
		log.Error().Err(nerr).Msg("failed to stop element")
	}
	for name, st := range src.Stats() {
		log.Info().
			Str("pad", name).
			Uint64("delivered", st.Delivered).
			Uint64("dropped", st.Dropped).
			Uint64("failures", st.Failures).
			Float64("fps", st.FPS.FPSMean).
			Msg("pad totals")
	}

	if errors.Is(err, errDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errDone = errors.New("done")

func logMessages(ctx context.Context, log zerolog.Logger, messages <-chan msgbus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-messages:
			var ev *zerolog.Event
			switch msg.Type {
			case msgbus.TypeError:
				ev = log.Error().Err(msg.Err).Str("code", msg.Code).Str("debug", msg.Debug)
			case msgbus.TypeWarning:
				ev = log.Warn()
			default:
				ev = log.Info()
			}
			ev.Stringer("type", msg.Type).
				Str("source", msg.Source).
				Uint64("seq", msg.Seq).
				Str("text", msg.Text).
				Str("property", msg.Property).
				Interface("value", msg.Value).
				Str("old_state", msg.OldState).
				Str("new_state", msg.NewState).
				Msg("bus message")
		}
	}
}

// countingSink accepts any format and drops every buffer
type countingSink struct {
	log     zerolog.Logger
	buffers atomic.Uint64
}

func (s *countingSink) Push(buf *pipeline.Buffer) pipeline.FlowReturn {
	if n := s.buffers.Add(1); n%100 == 0 {
		s.log.Debug().Uint64("buffers", n).Dur("pts", buf.PTS).Msg("sink progress")
	}
	buf.Release()
	return pipeline.FlowOK
}

func (s *countingSink) PushEvent(ev *pipeline.Event) bool {
	s.log.Debug().Stringer("event", ev.Type).Msg("sink event")
	return true
}

func (s *countingSink) QueryCaps(filter pipeline.Caps) pipeline.Caps {
	return filter
}
