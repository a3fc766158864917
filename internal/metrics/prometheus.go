//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	opTotal     *prom.CounterVec
	opSeconds   *prom.HistogramVec
	cacheHits   *prom.CounterVec
	cacheMisses *prom.CounterVec
	retries     *prom.CounterVec
}

func (p *promRecorder) IncOpTotal(op string, success bool) {
	p.opTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveOpSeconds(op string, success bool, seconds float64) {
	p.opSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncCacheHit(op string) {
	p.cacheHits.WithLabelValues(op).Inc()
}

func (p *promRecorder) IncCacheMiss(op string) {
	p.cacheMisses.WithLabelValues(op).Inc()
}

func (p *promRecorder) IncRetry(op string) {
	p.retries.WithLabelValues(op).Inc()
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := &promRecorder{
		opTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "graph_ops_total",
			Help: "Total number of graph operations",
		}, []string{"op", "success"}),
		opSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "graph_op_seconds",
			Help:    "Graph operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		cacheHits: prom.NewCounterVec(prom.CounterOpts{
			Name: "graph_cache_hits_total",
			Help: "Total number of cache hits",
		}, []string{"op"}),
		cacheMisses: prom.NewCounterVec(prom.CounterOpts{
			Name: "graph_cache_misses_total",
			Help: "Total number of cache misses",
		}, []string{"op"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Name: "graph_db_retries_total",
			Help: "Total number of retried database statements",
		}, []string{"op"}),
	}

	registry.MustRegister(p.opTotal, p.opSeconds, p.cacheHits, p.cacheMisses, p.retries)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
