/*
NAME
  muxmetrics.go

DESCRIPTION
  Package muxmetrics exposes Prometheus counters for a mux run: total
  packets and bytes written, buffer-model overflow reschedules, and
  per-PID byte counts. A *Metrics is entirely optional — the scheduler
  only calls into it when Config.Metrics is set, so a CLI run that
  never wires an HTTP handler pays nothing for it.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package muxmetrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the scheduler-facing surface Metrics implements, kept
// narrow so the mux loop doesn't need to import prometheus directly.
type Recorder interface {
	PacketWritten(pid uint16, bytes int)
	Overflow()
}

// Metrics is a Recorder backed by its own prometheus.Registry, so a
// process running several muxes can give each its own handler.
type Metrics struct {
	reg *prometheus.Registry

	packetsTotal   prometheus.Counter
	bytesTotal     prometheus.Counter
	overflowsTotal prometheus.Counter
	pidBytesTotal  *prometheus.CounterVec
}

// New builds a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		packetsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "bdmux_packets_written_total",
			Help: "Transport stream packets written, across all PIDs.",
		}),
		bytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "bdmux_bytes_written_total",
			Help: "Bytes written to the mux output, across all PIDs.",
		}),
		overflowsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "bdmux_buffer_overflows_total",
			Help: "Times the BDAV-STD buffer model vetoed a packet and rescheduled it.",
		}),
		pidBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bdmux_pid_bytes_total",
			Help: "Bytes written per PID.",
		}, []string{"pid"}),
	}
}

// PacketWritten records one transport packet's worth of output.
func (m *Metrics) PacketWritten(pid uint16, bytes int) {
	m.packetsTotal.Inc()
	m.bytesTotal.Add(float64(bytes))
	m.pidBytesTotal.WithLabelValues(strconv.Itoa(int(pid))).Add(float64(bytes))
}

// Overflow records one buffer-model admission veto.
func (m *Metrics) Overflow() {
	m.overflowsTotal.Inc()
}

// Handler exposes the registry in the Prometheus text exposition
// format, ready to mount on an http.ServeMux.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
