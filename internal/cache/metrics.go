package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters are process totals, summed over every Manager.
var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lithium_cache_hits_total",
		Help: "Cache lookups that found an unexpired entry.",
	})
	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lithium_cache_misses_total",
		Help: "Cache lookups that found no entry or an expired one.",
	})
	purgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lithium_cache_purged_total",
		Help: "Expired cache entries deleted by PurgeExpired or the reaper.",
	})
)

// entriesGaugeOpts describes the per-Manager size gauge. Only a Manager
// built WithRegisterer exports it, and a registry holds one at a time.
var entriesGaugeOpts = prometheus.GaugeOpts{
	Name: "lithium_cache_entries",
	Help: "Entries currently stored, expired ones included.",
}

// registerSizeGauge exports m.Size on reg, sampled at scrape time.
func (m *Manager) registerSizeGauge(reg prometheus.Registerer) {
	gauge := prometheus.NewGaugeFunc(entriesGaugeOpts, func() float64 {
		return float64(m.Size())
	})
	if err := reg.Register(gauge); err != nil {
		m.logger.Warn("cache size gauge not registered", "error", err)
		return
	}
	m.registry = reg
	m.sizeGauge = gauge
}

func (m *Manager) unregisterSizeGauge() {
	if m.registry != nil {
		m.registry.Unregister(m.sizeGauge)
	}
}
