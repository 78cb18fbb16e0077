package metrics

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	bpsimutil "argela.com/bpsim/util"
)

// Serves the session, pool and storm gauges in the Prometheus exposition
// format. The gauges are refreshed in the background.
type Collector interface {
	// Returns the handler serving the metrics.
	GetHTTPHandler(next http.Handler) http.Handler
	// Stops the refreshing and unregisters the metrics.
	Shutdown()
}

type prometheusCollector struct {
	metrics   *metrics
	refresher *bpsimutil.PeriodicExecutor
	handler   http.Handler
}

// Computes the gauges once and starts refreshing them at the interval.
func NewCollector(sessions StatisticsSource, storm StormStatusSource, interval time.Duration) (Collector, error) {
	if interval <= 0 {
		return nil, errors.Errorf("invalid metrics interval %s", interval)
	}

	m := newMetrics(sessions, storm)
	if err := m.Update(); err != nil {
		m.UnregisterAll()
		return nil, errors.WithMessage(err, "cannot compute the initial metrics")
	}

	refresher, err := bpsimutil.NewPeriodicExecutor("metrics refresher", m.Update,
		func() (time.Duration, error) {
			return interval, nil
		},
	)
	if err != nil {
		m.UnregisterAll()
		return nil, err
	}

	// The scrapes are counted in the same registry.
	handler := promhttp.InstrumentMetricHandler(m.Registry,
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
			ErrorLog:      log.StandardLogger(),
			ErrorHandling: promhttp.ContinueOnError,
		}),
	)

	return &prometheusCollector{
		metrics:   m,
		refresher: refresher,
		handler:   handler,
	}, nil
}

func (c *prometheusCollector) GetHTTPHandler(next http.Handler) http.Handler {
	return c.handler
}

func (c *prometheusCollector) Shutdown() {
	c.refresher.Shutdown()
	c.metrics.UnregisterAll()
}
