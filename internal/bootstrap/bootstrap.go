// internal/bootstrap/bootstrap.go
// Package bootstrap assembles the registry, dispatcher, protocol server and
// transports from the application configuration.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/mwiater/mcpdispatch/internal/appconfig"
	"github.com/mwiater/mcpdispatch/internal/context7"
	"github.com/mwiater/mcpdispatch/internal/dispatch"
	"github.com/mwiater/mcpdispatch/internal/docsearch"
	"github.com/mwiater/mcpdispatch/internal/server"
	"github.com/mwiater/mcpdispatch/internal/toolbox"
	"github.com/mwiater/mcpdispatch/internal/tools"
	"github.com/mwiater/mcpdispatch/internal/transport/httpapi"
	"github.com/mwiater/mcpdispatch/internal/transport/stdio"
	"github.com/mwiater/mcpdispatch/internal/webfetch"
)

// Name is the server name announced during initialize.
const Name = "mcpdispatch"

// App is a fully wired server. The registry is frozen before Build returns.
type App struct {
	Config     appconfig.Config
	Registry   *tools.Registry
	Metrics    *prometheus.Registry
	Dispatcher *dispatch.Dispatcher
	Server     *server.Server
	Docs       *docsearch.Lazy
	Logger     *zap.Logger
}

// Build validates cfg and wires every component. Any error is a startup
// failure.
func Build(cfg appconfig.Config, version string, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = "dev"
	}

	deps, docs, err := buildDeps(cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := tools.NewRegistry()
	if err := toolbox.Register(reg, deps); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	reg.Freeze()

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d := dispatch.New(reg,
		dispatch.WithTimeout(cfg.HandlerTimeoutDuration()),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(dispatch.NewMetrics(metricsReg)),
	)
	srv := server.New(server.Info{Name: Name, Version: version}, reg, d, logger)

	logger.Info("tool registry ready", zap.Int("tools", reg.Len()), zap.Duration("handlerTimeout", d.Timeout()))
	return &App{
		Config:     cfg,
		Registry:   reg,
		Metrics:    metricsReg,
		Dispatcher: d,
		Server:     srv,
		Docs:       docs,
		Logger:     logger,
	}, nil
}

func buildDeps(cfg appconfig.Config, logger *zap.Logger) (toolbox.Deps, *docsearch.Lazy, error) {
	client := &http.Client{}

	var weather toolbox.WeatherSource
	switch cfg.Weather.Provider {
	case appconfig.WeatherOpenMeteo:
		weather = toolbox.NewOpenMeteo(cfg.Weather.GeocodeURL, cfg.Weather.ForecastURL, nil)
	default:
		weather = toolbox.NewMockWeather()
	}

	fetcher := webfetch.New(webfetch.Config{
		ReaderURL: cfg.Fetch.ReaderURL,
		Timeout:   cfg.Fetch.TimeoutDuration(),
		Retries:   cfg.Fetch.Retries,
		CacheTTL:  cfg.Fetch.CacheTTLDuration(),
		MaxBytes:  cfg.Fetch.MaxBytes,
	}, client, logger.Named("webfetch"))

	loader := docsearch.NewLoader(docsearch.Source{
		CorpusPath: cfg.Docs.CorpusPath,
		ArchiveURL: cfg.Docs.ArchiveURL,
		CacheDir:   cfg.Docs.CacheDir,
		Options: docsearch.CorpusOptions{
			Extensions: cfg.Docs.Extensions,
			Exclude:    cfg.Docs.Exclude,
		},
	}, client, logger.Named("docsearch"))
	docs := docsearch.NewLazy(loader, cfg.Docs.BuildTimeoutDuration(), logger.Named("docsearch"))

	deps := toolbox.Deps{Weather: weather, Fetcher: fetcher, Docs: docs}
	if cfg.Context7.Enabled() {
		c7, err := context7.New(context7.Config{
			BaseURL:           cfg.Context7.BaseURL,
			APIKey:            cfg.Context7.APIKey,
			RequestsPerMinute: cfg.Context7.RequestsPerMinute,
			Retries:           cfg.Context7.Retries,
			CacheSize:         cfg.Context7.CacheSize,
		}, nil, logger.Named("context7"))
		if err != nil {
			return toolbox.Deps{}, nil, err
		}
		deps.Context7 = c7
	} else {
		logger.Debug("context7 tools disabled: no API key configured")
	}
	return deps, docs, nil
}

// ServeStdio runs the pipe transport on in/out until EOF or cancellation.
func (a *App) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	t := &stdio.Transport{
		In:              in,
		Out:             out,
		Handler:         a.Server,
		MaxMessageBytes: a.Config.Stdio.MaxMessageBytes,
		Logger:          a.Logger.Named("stdio"),
	}
	return t.Serve(ctx)
}

// HTTPTransport builds the request/response transport from the config.
func (a *App) HTTPTransport() *httpapi.Transport {
	h := a.Config.HTTP
	return httpapi.New(httpapi.Config{
		Host:            h.Host,
		Port:            h.Port,
		MaxBodyBytes:    h.MaxBodyBytes,
		AllowedOrigins:  h.AllowedOrigins,
		AuthToken:       h.AuthToken,
		ShutdownTimeout: h.ShutdownTimeoutDuration(),
	}, a.Server, a.Metrics, a.Logger.Named("http"))
}

// ServeHTTP binds the configured address and serves until ctx is cancelled.
func (a *App) ServeHTTP(ctx context.Context) error {
	return a.HTTPTransport().ListenAndServe(ctx)
}

// Serve runs the transport named by the configuration.
func (a *App) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if a.Config.Transport == appconfig.TransportHTTP {
		return a.ServeHTTP(ctx)
	}
	return a.ServeStdio(ctx, in, out)
}
