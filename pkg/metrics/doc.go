// Package metrics exposes Prometheus counters and histograms for the billing engine.
//
// A Collector keeps its own registry so tests and multiple servers never share
// global state:
//
//	m := metrics.New(metrics.WithRuntimeMetrics())
//	m.CounterFunc("resolver_misses_total", "Price ids that resolved to no plan.", func() float64 {
//		return float64(resolver.Misses())
//	})
//	r.Handle("/metrics", m.Handler())
//
// Middleware labels HTTP metrics with the chi route pattern, not the raw path,
// to keep label cardinality bounded.
package metrics
