package hub

import (
	"net/http"
	"strconv"
	"time"

	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/store"
)

// Server ties the gateway and relay handlers onto one mux alongside the
// operational endpoints.
type Server struct {
	gateway *Gateway
	relay   *Relay
	db      *store.Store
}

// NewServer assembles the hub's HTTP surface.
func NewServer(gateway *Gateway, relay *Relay, db *store.Store) *Server {
	return &Server{gateway: gateway, relay: relay, db: db}
}

// Handler returns the hub's routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/alert", s.gateway.HandleAlert)
	mux.HandleFunc("/bridge/ingest", s.relay.HandleIngest)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/jobs", s.handleJobs)
	return mux
}

type healthResponse struct {
	Status    string `json:"status"`
	Errors24h int    `json:"errors_24h"`
	Time      string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	errs, err := s.db.ErrorsCount(24)
	if err != nil {
		logger.Error("health check query failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Errors24h: errs,
		Time:      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleJobs is GET /jobs?hours=24&limit=50, newest first.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24, 1, 24*30)
	limit := queryInt(r, "limit", 50, 1, 500)
	jobs, err := s.db.RecentJobs(hours, limit)
	if err != nil {
		logger.Error("jobs query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours": hours,
		"count": len(jobs),
		"jobs":  jobs,
	})
}

func queryInt(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}
