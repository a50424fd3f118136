package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining,omitempty"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	} else if !h.Lifecycle.Ready() {
		issues = append(issues, "startup not complete")
	}

	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.DailyCreditLimit <= 0 || h.Config.LifetimeCreditLimit <= 0 {
		issues = append(issues, "credit limits must be > 0")
	}
	if h.Config.InactivityTimeout <= 0 || h.Config.HeartbeatTimeout <= 0 {
		issues = append(issues, "janitor timeouts must be > 0")
	}
	if h.Config.FlushInterval <= 0 || h.Config.MaxBatchSize <= 0 {
		issues = append(issues, "flush settings must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		Draining: h.Lifecycle.IsDraining(),
		Issues:   issues,
	})
}
