package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/models"
)

// Gateway accepts alerts from the watcher, wraps them in a signed envelope,
// and forwards them to the bridge ingest endpoint.
type Gateway struct {
	gatewayKey      string // shared key for callers; empty disables the check
	connectorSecret string // HMAC secret shared with the relay
	relay           *resty.Client
	relayPath       string
}

// NewGateway builds a gateway forwarding to relayURL. When relayURL is empty
// the gateway targets its own process via loopbackURL, which is the common
// single-binary deployment.
func NewGateway(gatewayKey, connectorSecret, relayURL, loopbackURL string) *Gateway {
	target := relayURL
	if target == "" {
		target = loopbackURL
	}
	return &Gateway{
		gatewayKey:      gatewayKey,
		connectorSecret: connectorSecret,
		relay: resty.New().
			SetBaseURL(strings.TrimRight(target, "/")).
			SetTimeout(10 * time.Second),
		relayPath: "/bridge/ingest",
	}
}

type alertResponse struct {
	Accepted       bool   `json:"accepted"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Error          string `json:"error,omitempty"`
}

// HandleAlert is POST /alert. It authenticates the caller, derives the
// idempotency key, and forwards the signed envelope to the bridge.
func (g *Gateway) HandleAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, alertResponse{Error: "method not allowed"})
		return
	}
	if g.gatewayKey != "" && r.Header.Get("x-sentinel-key") != g.gatewayKey {
		writeJSON(w, http.StatusUnauthorized, alertResponse{Error: "invalid gateway key"})
		return
	}

	var alert models.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		writeJSON(w, http.StatusBadRequest, alertResponse{Error: "malformed alert: " + err.Error()})
		return
	}
	if err := alert.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, alertResponse{Error: err.Error()})
		return
	}

	key := IdempotencyKey(alert.InstrumentID, alert.Level, alert.TriggeredAt)
	env := models.IngestEnvelope{
		IdempotencyKey: key,
		Source:         "sentinel-watch",
		Type:           "market_alert",
		Timestamp:      time.Now().UTC(),
		Alert:          alert,
	}
	if err := g.forward(r.Context(), env); err != nil {
		logger.Error("relay forward failed for %s: %v", key, err)
		writeJSON(w, http.StatusBadGateway, alertResponse{Error: "relay unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, alertResponse{Accepted: true, IdempotencyKey: key})
}

// forward signs the marshalled envelope and posts it to the bridge. The body
// bytes used for the signature are the body bytes sent.
func (g *Gateway) forward(ctx context.Context, env models.IngestEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	resp, err := g.relay.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Signature", ComputeSignature(g.connectorSecret, body)).
		SetHeader("Idempotency-Key", env.IdempotencyKey).
		SetBody(body).
		Post(g.relayPath)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("bridge rejected envelope: %d %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
