package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/lifecycle"
)

func readyTestConfig() config.Config {
	return config.Config{
		MaxBodyBytes:        1 << 20,
		DailyCreditLimit:    5,
		LifetimeCreditLimit: 15,
		InactivityTimeout:   30 * time.Minute,
		HeartbeatTimeout:    15 * time.Minute,
		FlushInterval:       2 * time.Second,
		MaxBatchSize:        50,
	}
}

func TestHealthHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestReadyHandler_ReadyAfterStartup(t *testing.T) {
	life := &lifecycle.Lifecycle{}
	life.SetStarted()
	h := ReadyHandler{Config: readyTestConfig(), Lifecycle: life}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_NotReadyBeforeStartup(t *testing.T) {
	h := ReadyHandler{Config: readyTestConfig(), Lifecycle: &lifecycle.Lifecycle{}}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_DrainingReturns503(t *testing.T) {
	life := &lifecycle.Lifecycle{}
	life.SetStarted()
	life.SetDraining(true)
	h := ReadyHandler{Config: readyTestConfig(), Lifecycle: life}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if draining, _ := resp["draining"].(bool); !draining {
		t.Fatalf("expected draining=true, body=%q", rr.Body.String())
	}
}
