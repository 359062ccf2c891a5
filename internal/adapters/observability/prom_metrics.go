package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	bursts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_bursts_total",
		Help: "Completed burst cycles.",
	})
	dodged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_bursts_dodged_total",
		Help: "Scheduled ticks skipped because the OD job owned the photodiode path.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_bursts_failed_total",
		Help: "Cycles abandoned due to LED actuation failures.",
	})
	empty := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_empty_bursts_total",
		Help: "Channel bursts that collected zero samples.",
	})
	samples := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_samples_total",
		Help: "Voltage samples successfully collected.",
	})
	sampleErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_sample_errors_total",
		Help: "Single-sample driver faults, skipped within the burst.",
	})
	storeErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_store_errors_total",
		Help: "Failed burst inserts into the readings table.",
	})
	publishErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "led_publish_errors_total",
		Help: "Failed MQTT publishes of burst readings.",
	})
	lastReading := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "led_last_reading_volts",
		Help: "Most recent averaged burst reading.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "led_burst_duration_seconds",
		Help:    "Wall-clock duration of one full burst cycle.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	prometheus.MustRegister(bursts, dodged, failed, empty, samples, sampleErrs,
		storeErrs, publishErrs, lastReading, duration)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"led_bursts_total":         bursts,
			"led_bursts_dodged_total":  dodged,
			"led_bursts_failed_total":  failed,
			"led_empty_bursts_total":   empty,
			"led_samples_total":        samples,
			"led_sample_errors_total":  sampleErrs,
			"led_store_errors_total":   storeErrs,
			"led_publish_errors_total": publishErrs,
		},
		gauges: map[string]prometheus.Gauge{
			"led_last_reading_volts": lastReading,
		},
		histos: map[string]prometheus.Observer{
			"led_burst_duration_seconds": duration,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
		return
	}
	log.Printf("ERROR: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
