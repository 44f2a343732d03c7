// Package httpserver implements the boot agent's diagnostics HTTP server.
//
// The server runs on the gateway VM and is reachable only through the IAP
// tunnel. It exposes liveness and readiness probes, drain/undrain toggles
// for planned maintenance, a /status endpoint summarizing the agent's last
// run, and optionally pprof. Prometheus metrics are served on a separate
// listener.
package httpserver
