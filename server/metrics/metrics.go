package metrics

// Functions to manage the Prometheus metrics.
//
// To add new statistic you should:
// 1. Update the metrics structure.
// 2. Prepare the metric instance in the newMetrics function.
// 3. Change the Update function to collect new metric values.

import (
	"reflect"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/session"
)

// Source of the session and address pool statistics.
type StatisticsSource interface {
	Statistics() *session.Statistics
}

// Source of the storm status.
type StormStatusSource interface {
	Status() datamodel.StormStatus
}

// Set of the simulator metrics.
type metrics struct {
	Registry *prometheus.Registry
	sessions StatisticsSource
	storm    StormStatusSource

	SessionsByState      *prometheus.GaugeVec
	SessionsByVlan       *prometheus.GaugeVec
	PoolUsedAddresses    *prometheus.GaugeVec
	PoolAvailableAddress *prometheus.GaugeVec
	PoolUtilization      *prometheus.GaugeVec
	StormRunning         prometheus.Gauge
	StormTotal           prometheus.Gauge
	StormSent            prometheus.Gauge
	StormFailed          prometheus.Gauge
}

// Constructor of the metrics. They are automatically registered in the
// Prometheus registry together with the Go runtime and process metrics.
func newMetrics(sessions StatisticsSource, storm StormStatusSource) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	namespace := "bpsim"

	metrics := metrics{
		Registry: registry,
		sessions: sessions,
		storm:    storm,

		SessionsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Simulated sessions by state",
		}, []string{"state"}),
		SessionsByVlan: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "vlan_total",
			Help:      "Simulated sessions by VLAN",
		}, []string{"vlan"}),
		PoolUsedAddresses: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "used_addresses",
			Help:      "Addresses allocated in the VLAN subnet",
		}, []string{"vlan"}),
		PoolAvailableAddress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "available_addresses",
			Help:      "Addresses available in the VLAN subnet",
		}, []string{"vlan"}),
		PoolUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "utilization",
			Help:      "Utilization of the VLAN subnet",
		}, []string{"vlan"}),
		StormRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storm",
			Name:      "running",
			Help:      "Whether a DHCP storm is running",
		}),
		StormTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storm",
			Name:      "sessions_total",
			Help:      "Sessions in the working set of the last DHCP storm",
		}),
		StormSent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storm",
			Name:      "sent_total",
			Help:      "Discovers sent by the last DHCP storm",
		}),
		StormFailed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storm",
			Name:      "failed_total",
			Help:      "Sessions the last DHCP storm failed to start",
		}),
	}

	return &metrics
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}

// Calculate current metric values. The per-VLAN series of the VLANs no
// longer in use are removed.
func (m *metrics) Update() error {
	stats := m.sessions.Statistics()

	for _, state := range datamodel.States() {
		m.SessionsByState.With(prometheus.Labels{"state": string(state)}).Set(float64(stats.StateCount[state]))
	}

	m.SessionsByVlan.Reset()
	for vlan, count := range stats.VlanSessionCount {
		m.SessionsByVlan.With(prometheus.Labels{"vlan": strconv.Itoa(vlan)}).Set(float64(count))
	}

	m.PoolUsedAddresses.Reset()
	m.PoolAvailableAddress.Reset()
	m.PoolUtilization.Reset()
	if stats.VlanPoolStatistics != nil {
		for _, vlan := range stats.VlanPoolStatistics.VlanStatistics {
			labels := prometheus.Labels{"vlan": strconv.Itoa(vlan.VlanID)}
			m.PoolUsedAddresses.With(labels).Set(float64(vlan.UsedIPs))
			m.PoolAvailableAddress.With(labels).Set(float64(vlan.AvailableIPs))
			m.PoolUtilization.With(labels).Set(vlan.UtilizationPercent / 100.)
		}
	}

	status := m.storm.Status()
	m.StormRunning.Set(boolToFloat(status.Running))
	m.StormTotal.Set(float64(status.Total))
	m.StormSent.Set(float64(status.Sent))
	m.StormFailed.Set(float64(status.Failed))
	return nil
}

// Unregister all metrics from the Prometheus registry.
func (m *metrics) UnregisterAll() {
	v := reflect.ValueOf(*m)
	typeMetrics := v.Type()
	for i := 0; i < typeMetrics.NumField(); i++ {
		fieldObj := v.Field(i)
		if !fieldObj.CanInterface() {
			// Field is not exported.
			continue
		}
		rawField := fieldObj.Interface()
		collector, ok := rawField.(prometheus.Collector)
		if !ok {
			continue
		}
		m.Registry.Unregister(collector)
	}
}
