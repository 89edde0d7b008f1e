// Package metrics exposes per-store Prometheus instruments.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan kinds.
const (
	ScanLoad = "load"
	ScanFind = "find"
)

// Metrics groups the instruments of one store. The zero value is not usable, see New.
type Metrics struct {
	RecordsAppended prometheus.Counter
	BytesAppended   prometheus.Counter
	PointReads      prometheus.Counter
	Scans           *prometheus.CounterVec
	CorruptRecords  prometheus.Counter
	IndexKeys       prometheus.Gauge
}

// New builds the instruments for the store at file and registers them with reg.
// A nil reg leaves them unregistered. Instruments already registered for the
// same file are reused.
func New(reg prometheus.Registerer, namespace, file string) *Metrics {
	labels := prometheus.Labels{"file": file}
	m := &Metrics{
		RecordsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "records_appended_total",
			Help:        "Records appended to the log.",
			ConstLabels: labels,
		}),
		BytesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "bytes_appended_total",
			Help:        "Bytes appended to the log, headers included.",
			ConstLabels: labels,
		}),
		PointReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "point_reads_total",
			Help:        "Records read at a known offset.",
			ConstLabels: labels,
		}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "scans_total",
			Help:        "Full scans of the log, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		CorruptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "corrupt_records_total",
			Help:        "Records that failed checksum verification.",
			ConstLabels: labels,
		}),
		IndexKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "index_keys",
			Help:        "Keys held by the in-memory index.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m
	}
	m.RecordsAppended = register(reg, m.RecordsAppended)
	m.BytesAppended = register(reg, m.BytesAppended)
	m.PointReads = register(reg, m.PointReads)
	m.Scans = register(reg, m.Scans)
	m.CorruptRecords = register(reg, m.CorruptRecords)
	m.IndexKeys = register(reg, m.IndexKeys)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		// an incompatible collector owns the name, keep ours unregistered.
	}
	return c
}
