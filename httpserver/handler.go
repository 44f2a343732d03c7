package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// AgentStatus is what /status reports. The agent updates it after every
// ensure or refresh run.
type AgentStatus struct {
	// GatewayUnit is the systemd unit the agent manages.
	GatewayUnit string `json:"gateway_unit"`

	// ArtifactSHA256 of the currently installed gateway binary.
	ArtifactSHA256 string `json:"artifact_sha256"`

	// SecretCount materialized into the env file on the last run.
	SecretCount int `json:"secret_count"`

	// SkippedSecrets that were sentinel placeholders or failed to fetch.
	SkippedSecrets int `json:"skipped_secrets"`

	// LastRun of ensure or refresh.
	LastRun time.Time `json:"last_run"`

	// LastError from the most recent run, empty on success.
	LastError string `json:"last_error,omitempty"`
}

// StatusSource yields the current agent status. Implemented by the agent's
// run state.
type StatusSource interface {
	Status() AgentStatus
}

// Handler serves the diagnostics endpoints backed by the agent's run state.
type Handler struct {
	source StatusSource
	log    *slog.Logger
}

func NewHandler(source StatusSource, log *slog.Logger) *Handler {
	return &Handler{source: source, log: log}
}

// HandleStatus returns the agent's last run summary as JSON.
//
// URL format: GET /status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.source.Status()); err != nil {
		h.log.Error("Failed to encode status response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
