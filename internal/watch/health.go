package watch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/minsuk-ha/sentinel/internal/brokerage"
	"github.com/minsuk-ha/sentinel/internal/logger"
)

// TokenHealth exposes the brokerage token snapshot; nil when the brokerage
// integration is disabled.
type TokenHealth interface {
	Health() brokerage.Health
}

// HealthServer is the watcher's optional operational endpoint: current
// session, last cycle counters, and token state.
type HealthServer struct {
	engine *Engine
	tokens TokenHealth
}

// NewHealthServer builds the watcher health endpoint.
func NewHealthServer(engine *Engine, tokens TokenHealth) *HealthServer {
	return &HealthServer{engine: engine, tokens: tokens}
}

// Serve listens on addr until the process exits. Run in its own goroutine.
func (h *HealthServer) Serve(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	logger.Info("watch health listener on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("health listener stopped: %v", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	last := h.engine.LastCycle()
	body := map[string]any{
		"status":     "ok",
		"session":    last.Session,
		"polled":     last.Polled,
		"dispatched": last.Dispatched,
		"failed":     last.Failed,
		"time":       time.Now().UTC().Format(time.RFC3339),
	}
	if h.tokens != nil {
		body["token"] = h.tokens.Health()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
