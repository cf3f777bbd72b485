// Mgmt
// Copyright (C) 2013-2026+ James Shubin and the project contributors
// Written by James Shubin <james@shubin.ca> and the project contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the DeliveryEngine's internal state to Prometheus:
// queue depths, active link count, and backpressure events.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMetricsListen is a distinct port from the well-known Prometheus
// default so both can run on one host during development.
const DefaultMetricsListen = "127.0.0.1:9234"

// Metrics is the struct that contains the library's Prometheus collectors.
// Run Init() on it before Start().
type Metrics struct {
	Listen string // the listen specification for the net/http server

	evtQueueDepth  *prometheus.GaugeVec   // current depth of an EvtDescQueue, by link id
	datQueueDepth  *prometheus.GaugeVec   // current depth of a DatChunkQueue, by link id
	linksActive    prometheus.Gauge       // count of live LinkObjects
	backpressure   *prometheus.CounterVec // TOO_MANY_QUEUING_EVTDESC / BUFFER_FULL events, by kind

	srv *http.Server
}

// Init builds the collectors and registers them with the default registry.
func (obj *Metrics) Init() error {
	if len(obj.Listen) == 0 {
		obj.Listen = DefaultMetricsListen
	}

	obj.evtQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ioc_evt_queue_depth",
			Help: "Current number of queued EvtDesc entries.",
		},
		[]string{"link"},
	)
	prometheus.MustRegister(obj.evtQueueDepth)

	obj.datQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ioc_dat_queue_depth",
			Help: "Current number of queued DatDesc chunks.",
		},
		[]string{"link"},
	)
	prometheus.MustRegister(obj.datQueueDepth)

	obj.linksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ioc_links_active",
		Help: "Number of currently connected LinkObjects.",
	})
	prometheus.MustRegister(obj.linksActive)

	obj.backpressure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ioc_backpressure_total",
			Help: "Backpressure events, by ioerr.Kind string.",
		},
		[]string{"kind"},
	)
	prometheus.MustRegister(obj.backpressure)

	return nil
}

// Start runs an http server in a goroutine, responding to /metrics.
func (obj *Metrics) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	obj.srv = &http.Server{Addr: obj.Listen, Handler: mux}
	go obj.srv.ListenAndServe()
	return nil
}

// Stop shuts down the http server.
func (obj *Metrics) Stop(ctx context.Context) error {
	if obj.srv == nil {
		return nil
	}
	return obj.srv.Shutdown(ctx)
}

// SetEvtQueueDepth records linkID's current EvtDescQueue length.
func (obj *Metrics) SetEvtQueueDepth(linkID string, n int) {
	obj.evtQueueDepth.With(prometheus.Labels{"link": linkID}).Set(float64(n))
}

// SetDatQueueDepth records linkID's current DatChunkQueue length.
func (obj *Metrics) SetDatQueueDepth(linkID string, n int) {
	obj.datQueueDepth.With(prometheus.Labels{"link": linkID}).Set(float64(n))
}

// SetLinksActive records the current count of connected links.
func (obj *Metrics) SetLinksActive(n int) {
	obj.linksActive.Set(float64(n))
}

// IncBackpressure counts one occurrence of an ioerr.Kind string such as
// "TooManyQueuingEvtDesc" or "BufferFull".
func (obj *Metrics) IncBackpressure(kind string) {
	obj.backpressure.With(prometheus.Labels{"kind": kind}).Inc()
}
