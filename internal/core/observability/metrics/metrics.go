package metrics

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of the simulation and the
// replication pipeline. All methods are safe on a nil receiver so components
// can run without metrics in tests.
type Collector struct {
	gatherer prometheus.Gatherer

	TicksProcessed prometheus.Counter
	TicksBehind    prometheus.Gauge
	Entities       prometheus.Gauge
	Sessions       prometheus.Gauge

	ReplicationOps      *prometheus.CounterVec
	ReplicationAttempts *prometheus.HistogramVec
	UpdatesSkipped      prometheus.Counter
	Messages            *prometheus.CounterVec
}

// New registers the collector against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.TicksProcessed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catfish_ticks_processed_total",
		Help: "Simulation ticks executed by the tick clock.",
	})); err != nil {
		return nil, err
	}
	if c.TicksBehind, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catfish_ticks_behind",
		Help: "Ticks the clock had to catch up on during its last advance.",
	})); err != nil {
		return nil, err
	}
	if c.Entities, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catfish_world_entities",
		Help: "Live entities in the world.",
	})); err != nil {
		return nil, err
	}
	if c.Sessions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catfish_sessions",
		Help: "Connected client sessions.",
	})); err != nil {
		return nil, err
	}
	if c.ReplicationOps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catfish_replication_ops_total",
		Help: "Replication operations by event and outcome.",
	}, []string{"event", "result"})); err != nil {
		return nil, err
	}
	if c.ReplicationAttempts, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catfish_replication_attempts",
		Help:    "Emit attempts needed per replication operation.",
		Buckets: []float64{1, 2, 3, 4, 5, 6},
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if c.UpdatesSkipped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catfish_replication_updates_skipped_total",
		Help: "Entity updates not sent because the payload was unchanged.",
	})); err != nil {
		return nil, err
	}
	if c.Messages, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catfish_messages_total",
		Help: "Protocol messages by direction and type.",
	}, []string{"direction", "type"})); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveTicks(processed, behind int) {
	if c == nil {
		return
	}
	c.TicksProcessed.Add(float64(processed))
	c.TicksBehind.Set(float64(behind))
}

func (c *Collector) SetEntities(n int) {
	if c == nil {
		return
	}
	c.Entities.Set(float64(n))
}

func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.Sessions.Set(float64(n))
}

func (c *Collector) ObserveReplication(event, result string, attempts int) {
	if c == nil {
		return
	}
	c.ReplicationOps.WithLabelValues(event, result).Inc()
	c.ReplicationAttempts.WithLabelValues(event).Observe(float64(attempts))
}

func (c *Collector) UpdateSkipped() {
	if c == nil {
		return
	}
	c.UpdatesSkipped.Inc()
}

func (c *Collector) Message(direction, typ string) {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues(direction, typ).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, errors.Errorf("collector already registered with incompatible type: %v", err)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
