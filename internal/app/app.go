package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/lesion-api/internal/artifact"
	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/handlers"
	"github.com/Brownie44l1/lesion-api/internal/lesion"
	"github.com/Brownie44l1/lesion-api/internal/model"
)

const shutdownTimeout = 10 * time.Second

// App is the process-wide context: the loaded model and everything built on
// it. It is created once at start, read-only while serving and released by
// Close.
type App struct {
	config   *config.Config
	logger   logrus.FieldLogger
	model    *model.Server
	pipeline *lesion.Pipeline
	router   http.Handler
}

// New fetches the configured artifacts, loads the model and wires the HTTP
// handlers. Any failure here is fatal for the process.
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*App, error) {
	if err := fetchArtifacts(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if cfg.ModelSHA256 != "" && !cfg.FetchModel() {
		if err := checkLocalModel(cfg); err != nil {
			return nil, err
		}
	}

	logger.WithField("model", cfg.ModelPath).Info("Loading model")
	model.UseLibrary(cfg.OnnxRuntimeLib)
	srv, err := model.NewServer(cfg.ModelPath, cfg.MetadataPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize model server")
	}

	a, err := build(cfg, logger, srv, srv.Metadata)
	if err != nil {
		srv.Close()
		return nil, err
	}
	a.model = srv

	logger.WithFields(logrus.Fields{
		"classes":       srv.Metadata.Classes,
		"input_shape":   srv.Metadata.InputShape,
		"normalization": srv.Metadata.Normalization,
	}).Info("Model loaded")
	return a, nil
}

// build assembles the pipeline and routes around a loaded predictor.
func build(cfg *config.Config, logger logrus.FieldLogger, predictor lesion.Predictor, md model.Metadata) (*App, error) {
	norm, err := lesion.ParseNormalization(md.Normalization)
	if err != nil {
		return nil, err
	}
	pipeline := lesion.NewPipeline(predictor, md.ImageSize, norm)
	handler := handlers.NewHandler(pipeline, logger, cfg.MaxUploadSize, cfg.LogoPath)

	return &App{
		config:   cfg,
		logger:   logger,
		pipeline: pipeline,
		router:   handlers.Routes(handler),
	}, nil
}

func fetchArtifacts(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	var sources []artifact.Source
	if cfg.FetchModel() {
		sources = append(sources, artifact.Source{
			Name:    "model",
			ID:      cfg.ModelFileID,
			URL:     cfg.ModelURL,
			Dest:    cfg.ModelPath,
			SHA256:  cfg.ModelSHA256,
			MinSize: cfg.ModelMinSize,
		})
	}
	if cfg.FetchLogo() {
		sources = append(sources, artifact.Source{
			Name:     "logo",
			ID:       cfg.LogoFileID,
			URL:      cfg.LogoURL,
			Dest:     cfg.LogoPath,
			Optional: true,
		})
	}
	if len(sources) == 0 {
		return nil
	}

	fetcher := artifact.NewFetcher(cfg.DownloadBaseURL, cfg.FetchTimeout, logger)
	return errors.Wrap(fetcher.FetchAll(ctx, sources...), "failed to fetch artifacts")
}

func checkLocalModel(cfg *config.Config) error {
	sum, err := artifact.Checksum(cfg.ModelPath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum, cfg.ModelSHA256) {
		return errors.Wrapf(artifact.ErrChecksumMismatch, "%s has sha256 %s", cfg.ModelPath, sum)
	}
	return nil
}

// Handler returns the HTTP entry point.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves HTTP on the configured port until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.WithField("addr", ln.Addr().String()).Info("Server starting")
	a.logger.Info("Endpoints: GET / | GET,POST /detect | POST /predict/image | GET /health | GET /logo")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the model.
func (a *App) Close() error {
	var err error
	if a.model != nil {
		err = multierr.Append(err, a.model.Close())
		a.model = nil
	}
	return err
}
