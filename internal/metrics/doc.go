/*
Package metrics provides Prometheus-based instrumentation for the proxy's
cache engine and the server's version store: cache hit/miss/eviction
counts, open/close/unlink latency histograms, chunked-transfer byte
counters, and RPC error counts.

	collector, err := metrics.NewCollector(metrics.DefaultConfig("proxy"))
	if err != nil {
		log.Fatal(err)
	}
	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	collector.RecordHit("read")
*/
package metrics
