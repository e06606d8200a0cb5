package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/seofernando25/catfish/internal/core/events/bus"
	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/observability/metrics"
	"github.com/seofernando25/catfish/internal/core/ticker"
	"github.com/seofernando25/catfish/internal/game"
	"github.com/seofernando25/catfish/internal/server"
)

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideRegistry,
	ProvideMetrics,
	bus.New,
	ProvideTicker,
	ProvideSim,
	ProvideServer,
	wire.Struct(new(App), "*"),
)

// App is everything cmd/server needs once the graph is built.
type App struct {
	Server *server.Server
	Logger *log.Logger
}

func ProvideLogger(cfg server.Config) (*log.Logger, func()) {
	logger := log.New(log.ParseLevel(cfg.LogLevel))
	return logger, logger.Sync
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) (*metrics.Collector, error) {
	return metrics.New(reg)
}

func ProvideTicker(cfg server.Config, logger log.Log, m *metrics.Collector) *ticker.Ticker {
	return ticker.New(ticker.Config{
		Tickrate: cfg.Tickrate,
		Logger:   logger,
		Metrics:  m,
	})
}

func ProvideSim(cfg server.Config, tk *ticker.Ticker, logger log.Log, m *metrics.Collector, b bus.EventBus) (*game.Sim, func()) {
	sim := game.New(cfg.Game, tk, game.Deps{Logger: logger, Metrics: m, Bus: b})
	return sim, sim.Close
}

func ProvideServer(cfg server.Config, sim *game.Sim, logger log.Log, m *metrics.Collector, b bus.EventBus) (*server.Server, func(), error) {
	srv, err := server.New(cfg, sim, server.Deps{Logger: logger, Metrics: m, Bus: b})
	if err != nil {
		return nil, nil, err
	}
	return srv, srv.Close, nil
}
