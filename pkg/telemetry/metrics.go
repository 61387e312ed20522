// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

// StatsSource is the part of a device the metrics collector scrapes.
type StatsSource interface {
	Statistics() *lpf2.Statistics
	Latest() lpf2.Reading
}

var (
	pollsDesc = prometheus.NewDesc(
		"lpf2_polls_total",
		"Poll ticks by outcome.",
		[]string{"port", "outcome"}, nil,
	)
	pollRateDesc = prometheus.NewDesc(
		"lpf2_poll_rate",
		"Poll ticks per second since the statistics were reset.",
		[]string{"port"}, nil,
	)
	errorRateDesc = prometheus.NewDesc(
		"lpf2_error_rate",
		"Dropped frames per second since the statistics were reset.",
		[]string{"port"}, nil,
	)
	valueDesc = prometheus.NewDesc(
		"lpf2_value",
		"Latest decoded value of the selected mode.",
		[]string{"port", "mode", "index"}, nil,
	)
)

// Metrics is a prometheus.Collector over the poll statistics and latest
// reading of every registered device.
type Metrics struct {
	mu      sync.RWMutex
	sources map[string]StatsSource
}

// NewMetrics returns an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{sources: make(map[string]StatsSource)}
}

// Add registers src under the port label, replacing any previous source.
func (m *Metrics) Add(port string, src StatsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[port] = src
}

// Remove drops the source for port.
func (m *Metrics) Remove(port string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, port)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- pollsDesc
	ch <- pollRateDesc
	ch <- errorRateDesc
	ch <- valueDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for port, src := range m.sources {
		c := src.Statistics().Snapshot()
		for _, o := range []struct {
			name  string
			count uint64
		}{
			{"valid", c.ValidFrames},
			{"empty", c.EmptyPolls},
			{"ack", c.AckReplies},
			{"checksum", c.ChecksumErrors},
			{"short_read", c.ShortReads},
			{"unexpected_mode", c.UnexpectedMode},
			{"unknown_format", c.UnknownFormat},
			{"other", c.OtherFrames},
			{"transport", c.TransportErrors},
		} {
			ch <- prometheus.MustNewConstMetric(pollsDesc, prometheus.CounterValue, float64(o.count), port, o.name)
		}
		ch <- prometheus.MustNewConstMetric(pollRateDesc, prometheus.GaugeValue, c.PollRate, port)
		ch <- prometheus.MustNewConstMetric(errorRateDesc, prometheus.GaugeValue, c.ErrorRate, port)

		r := src.Latest()
		mode := strconv.Itoa(r.Mode)
		for i, v := range r.Values {
			ch <- prometheus.MustNewConstMetric(valueDesc, prometheus.GaugeValue, v, port, mode, strconv.Itoa(i))
		}
	}
}

// BridgeMetrics counts WebSocket bridge sessions per hub port.
type BridgeMetrics struct {
	Active *prometheus.GaugeVec
	Opened *prometheus.CounterVec
	Failed *prometheus.CounterVec
}

// NewBridgeMetrics creates the bridge session metrics and registers them
// with reg.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lpf2_bridge_sessions",
			Help: "Bridge sessions currently attached to a port.",
		}, []string{"port"}),
		Opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpf2_bridge_sessions_opened_total",
			Help: "Bridge sessions that attached a port.",
		}, []string{"port"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpf2_bridge_sessions_failed_total",
			Help: "Bridge sessions whose port could not be opened.",
		}, []string{"port"}),
	}
	reg.MustRegister(m.Active, m.Opened, m.Failed)
	return m
}

// Instrument wraps a transport opener so that every session is counted
// under its port name until the transport is closed.
func (m *BridgeMetrics) Instrument(port string, open func() (lpf2.Transport, error)) (lpf2.Transport, error) {
	tr, err := open()
	if err != nil {
		m.Failed.WithLabelValues(port).Inc()
		return nil, err
	}
	m.Opened.WithLabelValues(port).Inc()
	m.Active.WithLabelValues(port).Inc()
	return &countedTransport{Transport: tr, done: m.Active.WithLabelValues(port).Dec}, nil
}

type countedTransport struct {
	lpf2.Transport
	once sync.Once
	done func()
}

func (t *countedTransport) Close() error {
	t.once.Do(t.done)
	return t.Transport.Close()
}
