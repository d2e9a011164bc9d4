package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/models"
	"github.com/minsuk-ha/sentinel/internal/push"
	"github.com/minsuk-ha/sentinel/internal/store"
)

// Pusher delivers one formatted message. Satisfied by *push.Dispatcher; nil
// disables delivery (jobs are still recorded and deduplicated).
type Pusher interface {
	Send(ctx context.Context, text string) (push.Result, error)
}

// Relay is the bridge side of the hub: it verifies signed envelopes, records
// them exactly once, and hands fresh ones to the pusher.
type Relay struct {
	secret  string
	db      *store.Store
	pusher  Pusher
	baseURL string // public base for job links in pushed messages
}

// NewRelay builds the bridge ingest handler.
func NewRelay(connectorSecret string, db *store.Store, pusher Pusher, baseURL string) *Relay {
	return &Relay{secret: connectorSecret, db: db, pusher: pusher, baseURL: baseURL}
}

type ingestResponse struct {
	OK         bool   `json:"ok"`
	Dedup      bool   `json:"dedup"`
	Queued     bool   `json:"queued"`
	Dispatched bool   `json:"dispatched"`
	JobID      int64  `json:"job_id,omitempty"`
	Ack        string `json:"ack,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HandleIngest is POST /bridge/ingest. Signature verification happens before
// anything touches the database, so a forged request leaves no trace.
func (rl *Relay) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ingestResponse{Error: "method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "failed to read body"})
		return
	}
	if !VerifySignature(rl.secret, body, r.Header.Get("X-Signature")) {
		writeJSON(w, http.StatusUnauthorized, ingestResponse{Error: "signature mismatch"})
		return
	}

	var env models.IngestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "malformed envelope: " + err.Error()})
		return
	}
	// The header key wins when present; either way the stored key is
	// sanitized so it matches what a re-derivation would produce.
	if hk := r.Header.Get("Idempotency-Key"); hk != "" {
		env.IdempotencyKey = hk
	}
	env.IdempotencyKey = SanitizeASCII(env.IdempotencyKey)
	if err := env.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: err.Error()})
		return
	}

	jobID, duplicate, err := rl.db.InsertJob(env)
	if err != nil {
		logger.Error("job insert failed for %s: %v", env.IdempotencyKey, err)
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Error: "storage failure"})
		return
	}
	if duplicate {
		logger.Info("duplicate delivery suppressed: %s (job %d)", env.IdempotencyKey, jobID)
		writeJSON(w, http.StatusOK, ingestResponse{OK: true, Dedup: true, JobID: jobID})
		return
	}

	if err := rl.db.AddJobEvent(jobID, "received", env.Source, nil); err != nil {
		logger.Warn("audit event failed for job %d: %v", jobID, err)
	}
	resp := ingestResponse{OK: true, Queued: true, JobID: jobID, Ack: uuid.NewString()}
	resp.Dispatched = rl.dispatch(r.Context(), jobID, env, resp.Ack)
	writeJSON(w, http.StatusOK, resp)
}

// dispatch pushes one fresh job and records the outcome. A failed push marks
// the job failed; the envelope stays on disk for inspection and replay.
func (rl *Relay) dispatch(ctx context.Context, jobID int64, env models.IngestEnvelope, ack string) bool {
	if rl.pusher == nil {
		return false
	}
	jobURL := ""
	if rl.baseURL != "" {
		jobURL = rl.baseURL + "/jobs"
	}
	res, err := rl.pusher.Send(ctx, push.FormatAlert(env, ack, jobURL))
	if err != nil {
		logger.Error("push failed for job %d (%s): %v", jobID, env.IdempotencyKey, err)
		if dbErr := rl.db.UpdateJobPush(jobID, "", models.JobFailed, res.Attempts); dbErr != nil {
			logger.Error("failed to record push failure for job %d: %v", jobID, dbErr)
		}
		if dbErr := rl.db.AddJobEvent(jobID, "error", err.Error(), nil); dbErr != nil {
			logger.Warn("audit event failed for job %d: %v", jobID, dbErr)
		}
		return false
	}
	if dbErr := rl.db.UpdateJobPush(jobID, ack, models.JobDispatched, res.Attempts); dbErr != nil {
		logger.Error("failed to record push success for job %d: %v", jobID, dbErr)
	}
	if dbErr := rl.db.AddJobEvent(jobID, "dispatched", "", map[string]int{"attempts": res.Attempts}); dbErr != nil {
		logger.Warn("audit event failed for job %d: %v", jobID, dbErr)
	}
	logger.Info("alert dispatched: %s %s job=%d attempts=%d",
		env.Alert.InstrumentID, env.Alert.Level, jobID, res.Attempts)
	return true
}
