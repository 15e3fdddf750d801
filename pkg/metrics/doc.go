/*
Package metrics exposes Prometheus metrics and health endpoints for a hook
process.

All collectors are registered on the default registry at init. Handler
serves them; Mux adds /health and /ready on top, backed by a process-wide
HealthChecker that nodes update as their listener or parent link comes and
goes.

	metrics.SetCritical("listener")
	metrics.UpdateComponent("listener", true, addr)
	go http.ListenAndServe(":9100", metrics.Mux())

Timer wraps the usual start/observe pattern:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCCallDuration, method)
*/
package metrics
