// Package metrics exposes Prometheus counters for iapgw and a small HTTP
// server serving them on a dedicated listener.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProvisionSteps counts pipeline step executions by step name and outcome
	// (applied, skipped, failed).
	ProvisionSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iapgw_provision_steps_total",
		Help: "Provisioning pipeline step executions by outcome.",
	}, []string{"step", "outcome"})

	// SecretFetches counts secret fetch attempts by outcome
	// (ok, sentinel, error).
	SecretFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iapgw_secret_fetches_total",
		Help: "Secret fetch attempts during materialization by outcome.",
	}, []string{"outcome"})

	// ArtifactDownloads counts gateway artifact downloads by outcome.
	ArtifactDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iapgw_artifact_downloads_total",
		Help: "Gateway artifact download attempts by outcome.",
	}, []string{"outcome"})

	// Materializations counts environment file rewrites.
	Materializations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iapgw_materializations_total",
		Help: "Number of times the secret environment file was rewritten.",
	})
)

// MetricsServer serves the Prometheus registry over HTTP.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown or failure.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
