// Package metrics exposes a minimal Prometheus registry plus a
// gopsutil-backed system sampler, grounded on
// go-server/internal/metrics/metrics.go and system.go. This is
// deliberately a small subset of the teacher's metrics surface
// (connections/messages/errors/system CPU-memory/NATS status) rather
// than its full connections.go/enhanced.go/runtime_metrics.go trio: the
// specification treats observability as ambient infrastructure, not a
// feature to build out, so only enough is wired to prove the stack
// works end to end.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
)

type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	MessagesReceived  prometheus.Counter
	MessagesSent      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	NATSConnected     prometheus.Gauge

	goroutines prometheus.GaugeFunc
	heapBytes  prometheus.GaugeFunc
	cpuPercent prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_connections_total",
			Help: "Total number of WebSocket connections accepted.",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_connections_active",
			Help: "Number of currently active WebSocket connections.",
		}),
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_messages_received_total",
			Help: "Total number of client messages decoded.",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_messages_sent_total",
			Help: "Total number of server messages written to a socket.",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_errors_total",
			Help: "Total number of errors by category.",
		}, []string{"category"}),
		NATSConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_nats_connected",
			Help: "1 if the NATS relay is connected, 0 otherwise.",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_process_cpu_percent",
			Help: "Smoothed system CPU utilization percentage, sampled via gopsutil.",
		}),
	}

	m.goroutines = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "odin_goroutines",
		Help: "Number of live goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	m.heapBytes = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "odin_heap_alloc_bytes",
		Help: "Bytes of allocated heap objects, per runtime.ReadMemStats.",
	}, func() float64 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		return float64(stats.HeapAlloc)
	})

	return m
}

// RunSampler polls system CPU usage every 5 seconds until done is closed.
// Started once at process bootstrap.
func (m *Metrics) RunSampler(done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			percents, err := cpu.Percent(0, false)
			if err != nil || len(percents) == 0 {
				continue
			}
			m.cpuPercent.Set(percents[0])
		}
	}
}
