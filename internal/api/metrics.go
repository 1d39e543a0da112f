package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
)

// gometricsCollector bridges rcrowley/go-metrics (the registry every
// internal/workers.Loop registers its per-worker ticks/errors Meter into)
// to prometheus/client_golang, so /metrics serves one exposition format
// instead of asking operators to scrape two.
type gometricsCollector struct{}

func (gometricsCollector) Describe(ch chan<- *prometheus.Desc) {
	// Metric set is dynamic (one per worker, registered at startup), so
	// Describe is intentionally unchecked; Collect is the source of truth.
}

func (gometricsCollector) Collect(ch chan<- prometheus.Metric) {
	gometrics.DefaultRegistry.Each(func(name string, i interface{}) {
		fqName := "btcdash_" + sanitizeMetricName(name)
		switch m := i.(type) {
		case gometrics.Meter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName+"_total", "go-metrics meter count", nil, nil),
				prometheus.CounterValue, float64(m.Count()))
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName+"_rate1m", "go-metrics meter 1-minute rate", nil, nil),
				prometheus.GaugeValue, m.Rate1())
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName+"_total", "go-metrics counter", nil, nil),
				prometheus.CounterValue, float64(m.Count()))
		case gometrics.Gauge:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName, "go-metrics gauge", nil, nil),
				prometheus.GaugeValue, float64(m.Value()))
		}
	})
}

func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// registerMetrics exposes GET /metrics via promhttp, reading through
// gometricsCollector.
func (s *Server) registerMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(gometricsCollector{})
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	s.router.GET("/metrics", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		h.ServeHTTP(w, r)
	})
}
