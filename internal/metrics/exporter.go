// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the scrubber's aggregated counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/breakwater/internal/controlplane"
	"grimm.is/breakwater/internal/dataplane/types"
)

// Exporter implements prometheus.Collector over a control-plane manager. Each
// scrape sums the per-CPU stats slots.
type Exporter struct {
	mgr *controlplane.Manager

	counterDescs [types.StatMax]*prometheus.Desc
	conntrack    *prometheus.Desc
	reputation   *prometheus.Desc
	blacklist    *prometheus.Desc
	whitelist    *prometheus.Desc
	threatIntel  *prometheus.Desc
	geoip        *prometheus.Desc
	ringDropped  *prometheus.Desc
}

// NewExporter creates a collector over the given manager.
func NewExporter(mgr *controlplane.Manager) *Exporter {
	e := &Exporter{mgr: mgr}
	for i := uint32(0); i < types.StatMax; i++ {
		name := types.StatName(i)
		e.counterDescs[i] = prometheus.NewDesc(
			"breakwater_"+name+"_total",
			"Scrubber counter "+name,
			nil, nil,
		)
	}
	e.conntrack = prometheus.NewDesc("breakwater_conntrack_entries",
		"Tracked flows across all CPUs", nil, nil)
	e.reputation = prometheus.NewDesc("breakwater_reputation_entries",
		"Scored sources across all CPUs", nil, nil)
	e.blacklist = prometheus.NewDesc("breakwater_blacklist_prefixes",
		"Prefixes in the blacklist LPM", nil, nil)
	e.whitelist = prometheus.NewDesc("breakwater_whitelist_prefixes",
		"Prefixes in the whitelist LPM", nil, nil)
	e.threatIntel = prometheus.NewDesc("breakwater_threat_intel_prefixes",
		"Prefixes in the threat-intel LPM", nil, nil)
	e.geoip = prometheus.NewDesc("breakwater_geoip_prefixes",
		"Prefixes in the GeoIP LPM", nil, nil)
	e.ringDropped = prometheus.NewDesc("breakwater_event_ring_dropped_total",
		"Events discarded because the ring was full", nil, nil)
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.counterDescs {
		ch <- d
	}
	ch <- e.conntrack
	ch <- e.reputation
	ch <- e.blacklist
	ch <- e.whitelist
	ch <- e.threatIntel
	ch <- e.geoip
	ch <- e.ringDropped
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	scrub := e.mgr.Scrubber()
	sum := scrub.Stats().Sum()
	for i := uint32(0); i < types.StatMax; i++ {
		ch <- prometheus.MustNewConstMetric(
			e.counterDescs[i], prometheus.CounterValue, float64(sum[i]))
	}
	ch <- prometheus.MustNewConstMetric(e.conntrack, prometheus.GaugeValue,
		float64(scrub.Conntrack().Len()))
	ch <- prometheus.MustNewConstMetric(e.reputation, prometheus.GaugeValue,
		float64(scrub.Reputation().Len()))
	ch <- prometheus.MustNewConstMetric(e.blacklist, prometheus.GaugeValue,
		float64(scrub.Blacklist().Len()))
	ch <- prometheus.MustNewConstMetric(e.whitelist, prometheus.GaugeValue,
		float64(scrub.Whitelist().Len()))
	ch <- prometheus.MustNewConstMetric(e.threatIntel, prometheus.GaugeValue,
		float64(scrub.ThreatIntel().Len()))
	ch <- prometheus.MustNewConstMetric(e.geoip, prometheus.GaugeValue,
		float64(scrub.GeoIP().Len()))
	ch <- prometheus.MustNewConstMetric(e.ringDropped, prometheus.CounterValue,
		float64(scrub.Ring().Dropped()))
}

// Register registers the exporter with the given registry, or the default
// registry when nil.
func (e *Exporter) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return reg.Register(e)
}
