/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package source

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "sdds"
	metricsSubsystem = "source"
)

// Metrics exports the source counters. Values are read from the running
// pipeline at scrape time.
type Metrics struct {
	registry *prometheus.Registry
}

func NewMetrics(s *SourceServer) *Metrics {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, value func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value())
		})
	}
	gauge := func(name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, value)
	}

	registry.MustRegister(
		counter("packets_received_total", "UDP datagrams received",
			func() uint64 { return s.reader.Stats().Packets }),
		counter("bytes_received_total", "UDP payload bytes received",
			func() uint64 { return s.reader.Stats().Bytes }),
		counter("sender_changes_total", "Datagrams from a sender other than the first one",
			func() uint64 { return s.reader.Stats().SenderChanges }),
		counter("dropped_packets_total", "Packets missing from the sequence",
			func() uint64 { return s.recon.Status().DroppedPackets }),
		counter("time_slips_total", "Time tag discontinuities",
			func() uint64 { return s.recon.Status().TimeSlips }),
		counter("invalid_packets_total", "Datagrams that are not SDDS frames",
			func() uint64 { return s.recon.Status().InvalidPackets }),
		counter("blocks_pushed_total", "Sample blocks pushed downstream",
			func() uint64 { return s.recon.Status().BlocksPushed }),
		counter("metadata_pushes_total", "Stream metadata pushed downstream",
			func() uint64 { return s.recon.Status().MetadataPushes }),
		gauge("buffers_to_work", "Filled buffers waiting for the reconstructor",
			func() float64 { return float64(s.pool.FullLen()) }),
		gauge("empty_buffers_available", "Empty buffers waiting for the reader",
			func() float64 { return float64(s.pool.EmptyLen()) }),
		gauge("sample_rate_hertz", "Input sample rate",
			func() float64 { return s.recon.Status().SampleRate }),
		gauge("bits_per_sample", "Input sample width",
			func() float64 { return float64(s.recon.Status().BitsPerSample) }),
	)
	return &Metrics{registry: registry}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
