// Command hazardcam runs the road hazard detection server.  Annotated camera
// frames and hazard metadata are streamed to browsers over a WebSocket and
// pothole sightings reported by the client are stored and forwarded to the
// local authority.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/swdee/go-roadhazard"
	"github.com/swdee/go-roadhazard/api"
	"github.com/swdee/go-roadhazard/camera"
	"github.com/swdee/go-roadhazard/config"
	"github.com/swdee/go-roadhazard/report"
	"github.com/swdee/go-roadhazard/stream"
)

func main() {

	cfgFile := flag.String("c", "", "YAML configuration file, optional")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)

	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("error loading configuration")
	}

	log, err := cfg.Log.NewLogger(os.Stderr)

	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("error creating logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// run wires the components together and serves until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {

	dets, err := roadhazard.LoadDetectors(cfg, log)

	if err != nil {
		return err
	}

	defer dets.Close()

	pipeline, err := roadhazard.NewPipeline(cfg, dets, log.With().Str("component", "pipeline").Logger())

	if err != nil {
		return err
	}

	capture, err := camera.Open(camera.Options{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	}, log.With().Str("component", "camera").Logger())

	if err != nil {
		return err
	}

	defer capture.Close()

	repo, err := report.NewMongoRepository(ctx, report.MongoConfig{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		Timeout:    cfg.Mongo.Timeout,
	}, log)

	if err != nil {
		return err
	}

	defer repo.Close(context.Background())

	opts := []report.ServiceOption{
		report.WithWindows(cfg.Reports.DuplicateWindow, cfg.Reports.NearbyWindow),
	}

	if cfg.Email.Enabled() {
		opts = append(opts, report.WithNotifier(report.NewSMTPNotifier(report.SMTPConfig{
			Host:      cfg.Email.Host,
			Port:      cfg.Email.Port,
			User:      cfg.Email.User,
			Password:  cfg.Email.Password,
			Sender:    cfg.Email.Sender,
			Recipient: cfg.Email.Authority,
			PerMinute: cfg.Email.PerMinute,
		}, log.With().Str("component", "smtp").Logger())))
	} else {
		log.Warn().Msg("email not configured, authority alerts disabled")
	}

	if cfg.Kafka.Enabled() {
		pub, err := report.NewKafkaPublisher(report.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, log.With().Str("component", "kafka").Logger())

		if err != nil {
			return err
		}

		defer pub.Close()

		opts = append(opts, report.WithPublisher(pub))
	}

	reports := report.NewService(repo, log.With().Str("component", "reports").Logger(), opts...)
	defer reports.Wait()

	streamer := stream.NewHandler(stream.Config{
		Interval:    cfg.Stream.FrameInterval,
		JPEGQuality: cfg.Stream.JPEGQuality,
		StatsEvery:  cfg.Stream.StatsEvery,
	}, capture, pipeline, log.With().Str("component", "stream").Logger())

	router := api.NewRouter(api.NewHandler(reports, log), streamer, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(sctx)
}
