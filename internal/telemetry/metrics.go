// Package telemetry records operation metrics in a Prometheus registry. The
// CLI is short-lived, so metrics are exported as a node_exporter textfile
// rather than scraped.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Metrics struct {
	registry *prometheus.Registry

	remoteOps      *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	fleetOps       *prometheus.CounterVec
	fleetDuration  *prometheus.HistogramVec
	instances      *prometheus.GaugeVec
	launches       *prometheus.CounterVec
	launchNodes    prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remoteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardfleet_remote_operations_total",
			Help: "Remote operations against fleet nodes by operation and result.",
		}, []string{"operation", "result"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardfleet_remote_operation_duration_seconds",
			Help:    "Duration of remote operations against fleet nodes.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"operation"}),
		fleetOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardfleet_fleet_operations_total",
			Help: "Cloud provider operations by provider, operation and result.",
		}, []string{"provider", "operation", "result"}),
		fleetDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardfleet_fleet_operation_duration_seconds",
			Help:    "Duration of cloud provider operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		instances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardfleet_fleet_instances",
			Help: "Instances seen by the last readiness check, by category.",
		}, []string{"category"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardfleet_launches_total",
			Help: "Job dispatches by mode.",
		}, []string{"mode"}),
		launchNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardfleet_launch_nodes",
			Help: "Nodes targeted by the last dispatch.",
		}),
	}
	m.registry.MustRegister(m.remoteOps, m.remoteDuration, m.fleetOps, m.fleetDuration, m.instances, m.launches, m.launchNodes)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordRemoteOp is safe to call on a nil *Metrics.
func (m *Metrics) RecordRemoteOp(operation string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.remoteOps.WithLabelValues(operation, result(success)).Inc()
	m.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordFleetOp(provider, operation string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.fleetOps.WithLabelValues(provider, operation, result(success)).Inc()
	m.fleetDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

func (m *Metrics) SetReadiness(total, running, unaddressed int) {
	if m == nil {
		return
	}
	m.instances.WithLabelValues("total").Set(float64(total))
	m.instances.WithLabelValues("running").Set(float64(running))
	m.instances.WithLabelValues("unaddressed").Set(float64(unaddressed))
}

func (m *Metrics) RecordLaunch(mode string, nodes int) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(mode).Inc()
	m.launchNodes.Set(float64(nodes))
}

// WriteTextfile writes the registry in text exposition format. An empty
// path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return err
	}
	log.Debug().Str("path", path).Msg("metrics written")
	return nil
}
