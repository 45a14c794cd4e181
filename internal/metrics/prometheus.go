package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all netfence metrics.
type Registry struct {
	// Synchronization metrics
	SyncRuns       *prometheus.CounterVec
	SyncDuration   prometheus.Histogram
	SyncDomains    prometheus.Gauge
	DomainFailures *prometheus.CounterVec
	AllowSetSize   prometheus.Gauge

	// Registry metrics
	RegistryDomains prometheus.Gauge

	// Deny events observed via nflog
	DeniedPackets *prometheus.CounterVec

	// Watch mode
	Reloads *prometheus.CounterVec
	Uptime  prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netfence_sync_runs_total",
		Help: "Total synchronization cycles by result",
	}, []string{"result"})

	r.SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netfence_sync_duration_seconds",
		Help:    "Duration of synchronization cycles",
		Buckets: prometheus.DefBuckets,
	})

	r.SyncDomains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netfence_sync_domains",
		Help: "Domains processed by the last synchronization cycle",
	})

	r.DomainFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netfence_domain_failures_total",
		Help: "Total per-domain resolution failures",
	}, []string{"domain"})

	r.AllowSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netfence_allowset_size",
		Help: "Addresses in the allow set after the last synchronization",
	})

	r.RegistryDomains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netfence_registry_domains",
		Help: "Domain patterns currently in the registry",
	})

	r.DeniedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netfence_denied_packets_total",
		Help: "Packets denied by the terminal rules",
	}, []string{"direction"})

	r.Reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netfence_reloads_total",
		Help: "Watch-mode refreshes by trigger and status",
	}, []string{"trigger", "status"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netfence_uptime_seconds",
		Help: "Watch-mode process uptime in seconds",
	})

	return r
}

// RecordSyncRun records the outcome of one synchronization cycle.
func (r *Registry) RecordSyncRun(result string, duration time.Duration, domains, addresses int) {
	r.SyncRuns.WithLabelValues(result).Inc()
	r.SyncDuration.Observe(duration.Seconds())
	r.SyncDomains.Set(float64(domains))
	r.AllowSetSize.Set(float64(addresses))
}

// RecordDomainFailure records a failed resolution for a domain.
func (r *Registry) RecordDomainFailure(domain string) {
	r.DomainFailures.WithLabelValues(domain).Inc()
}

// RecordDeniedPacket records a deny event seen on the nflog group.
func (r *Registry) RecordDeniedPacket(direction string) {
	r.DeniedPackets.WithLabelValues(direction).Inc()
}

// SetRegistryDomains updates the registry size gauge.
func (r *Registry) SetRegistryDomains(n int) {
	r.RegistryDomains.Set(float64(n))
}

// RecordReload records a watch-mode refresh.
func (r *Registry) RecordReload(trigger, status string) {
	r.Reloads.WithLabelValues(trigger, status).Inc()
}
