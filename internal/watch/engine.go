// Package watch runs the polling engine: session gating, quote fetching,
// level classification, and alert handoff to the hub gateway.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minsuk-ha/sentinel/internal/classify"
	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/models"
)

// QuoteProvider fetches a delta observation over a symbol fallback chain.
// Satisfied by *quote.Client.
type QuoteProvider interface {
	Delta(ctx context.Context, symbols []string) (models.Quote, error)
}

// FuturesProvider fetches a token-gated futures quote. Satisfied by
// *brokerage.FuturesClient.
type FuturesProvider interface {
	Quote(ctx context.Context, code string) (models.Quote, error)
}

// AlertSender hands a dispatched alert to the hub. Satisfied by *Client.
type AlertSender interface {
	SendAlert(ctx context.Context, alert models.Alert) error
}

// SessionClock classifies wall-clock time into a trading session.
// Satisfied by *session.Calendar.
type SessionClock interface {
	Classify(now time.Time) models.Session
}

// StateStore persists per-instrument hysteresis state across restarts.
// Satisfied by *store.Store.
type StateStore interface {
	SaveInstrumentState(st models.InstrumentState) error
	LoadInstrumentStates() (map[string]models.InstrumentState, error)
}

// Options tunes one engine.
type Options struct {
	DedupWindow   time.Duration
	Freshness     time.Duration
	ReentryAlerts bool
}

// CycleStats summarizes one poll cycle for logging and the health listener.
type CycleStats struct {
	Session    models.Session
	Polled     int
	Dispatched int
	Failed     int
}

// Engine drives one poll cycle at a time: classify the session, fetch every
// in-session instrument concurrently, grade the deltas, and dispatch level
// transitions. Instruments fail independently; one bad feed never blocks the
// rest of the cycle.
type Engine struct {
	quotes     QuoteProvider
	futures    FuturesProvider
	sender     AlertSender
	store      StateStore
	classifier *classify.Classifier
	clock      SessionClock

	instruments []models.Instrument
	companions  map[string][]string
	opts        Options
	now         func() time.Time

	mu     sync.Mutex
	states map[string]models.InstrumentState
	last   CycleStats
}

// NewEngine builds an engine. futures may be nil when no futures instruments
// are configured.
func NewEngine(
	quotes QuoteProvider,
	futures FuturesProvider,
	sender AlertSender,
	st StateStore,
	classifier *classify.Classifier,
	clock SessionClock,
	instruments []models.Instrument,
	companions map[string][]string,
	opts Options,
) *Engine {
	return &Engine{
		quotes:      quotes,
		futures:     futures,
		sender:      sender,
		store:       st,
		classifier:  classifier,
		clock:       clock,
		instruments: instruments,
		companions:  companions,
		opts:        opts,
		now:         time.Now,
		states:      make(map[string]models.InstrumentState),
	}
}

// SetClock injects a deterministic clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// LoadStates restores persisted hysteresis state. Unknown instruments start
// from a zero state, which means their first graded level always dispatches.
func (e *Engine) LoadStates() error {
	states, err := e.store.LoadInstrumentStates()
	if err != nil {
		return fmt.Errorf("failed to load instrument states: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inst := range e.instruments {
		if st, ok := states[inst.ID]; ok {
			e.states[inst.ID] = st
		} else {
			e.states[inst.ID] = models.InstrumentState{InstrumentID: inst.ID}
		}
	}
	return nil
}

// LastCycle returns the most recent cycle summary.
func (e *Engine) LastCycle() CycleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

type fetchResult struct {
	quote models.Quote
	err   error
}

// RunCycle executes one poll cycle. It returns an error only when every
// in-session instrument failed, which callers treat as a cycle-level outage.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	now := e.now()
	sess := e.clock.Classify(now)
	stats := CycleStats{Session: sess}

	active := make([]models.Instrument, 0, len(e.instruments))
	for _, inst := range e.instruments {
		if inst.PolledIn(sess) {
			active = append(active, inst)
		}
	}
	if len(active) == 0 {
		logger.Debug("session %s: no instruments in scope", sess)
		e.setLast(stats)
		return stats, nil
	}
	stats.Polled = len(active)

	results := e.fetchAll(ctx, active, now)

	// Companion deltas must come from this cycle's fetches before any
	// volatility instrument is graded.
	deltas := make(map[string]float64, len(results))
	for id, r := range results {
		if r.err == nil {
			deltas[id] = r.quote.ChangePct
		}
	}

	for _, inst := range active {
		r := results[inst.ID]
		if r.err != nil {
			stats.Failed++
			logger.Warn("fetch failed for %s: %v", inst.ID, r.err)
			continue
		}
		if e.step(ctx, inst, r.quote, deltas, sess, now) {
			stats.Dispatched++
		}
	}
	e.setLast(stats)

	logger.Info("cycle done: session=%s polled=%d dispatched=%d failed=%d",
		sess, stats.Polled, stats.Dispatched, stats.Failed)
	if stats.Failed == stats.Polled {
		return stats, fmt.Errorf("all %d instruments failed in session %s", stats.Polled, sess)
	}
	return stats, nil
}

// fetchAll pulls every active instrument's quote concurrently and applies
// the staleness guard.
func (e *Engine) fetchAll(ctx context.Context, active []models.Instrument, now time.Time) map[string]fetchResult {
	results := make(map[string]fetchResult, len(active))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, inst := range active {
		wg.Add(1)
		go func(inst models.Instrument) {
			defer wg.Done()
			q, err := e.fetch(ctx, inst)
			if err == nil && e.opts.Freshness > 0 && q.Age(now) > e.opts.Freshness {
				err = fmt.Errorf("stale quote for %s: print is %s old", inst.ID, q.Age(now).Round(time.Minute))
			}
			mu.Lock()
			results[inst.ID] = fetchResult{quote: q, err: err}
			mu.Unlock()
		}(inst)
	}
	wg.Wait()
	return results
}

func (e *Engine) fetch(ctx context.Context, inst models.Instrument) (models.Quote, error) {
	if inst.Category == models.CategoryFutures {
		if e.futures == nil {
			return models.Quote{}, fmt.Errorf("no futures provider for %s", inst.ID)
		}
		return e.futures.Quote(ctx, inst.Symbols[0])
	}
	return e.quotes.Delta(ctx, inst.Symbols)
}

// step grades one observation and runs the hysteresis state machine. State is
// persisted every cycle; the dispatched level only advances when the hub
// accepted the alert, so a failed handoff is retried next cycle.
func (e *Engine) step(ctx context.Context, inst models.Instrument, q models.Quote, deltas map[string]float64, sess models.Session, now time.Time) bool {
	var companions []float64
	for _, id := range e.companions[inst.ID] {
		if d, ok := deltas[id]; ok {
			companions = append(companions, d)
		}
	}
	level := e.classifier.Classify(inst.Category, q.ChangePct, companions)

	e.mu.Lock()
	st := e.states[inst.ID]
	e.mu.Unlock()

	d := classify.Decide(level, st, now, e.opts.DedupWindow, e.opts.ReentryAlerts)
	dispatched := false
	if d.Dispatch {
		alert := models.Alert{
			InstrumentID: inst.ID,
			Level:        d.WireLevel,
			DeltaPct:     q.ChangePct,
			Session:      sess,
			TriggeredAt:  now.UTC(),
			Note:         fmt.Sprintf("%s=%.2f via %s", q.Symbol, q.Price, q.Source),
		}
		if err := e.sender.SendAlert(ctx, alert); err != nil {
			logger.Error("alert handoff failed for %s %s: %v", inst.ID, d.WireLevel, err)
			st.LastCheckedAt = now
			e.saveState(inst.ID, st)
			return false
		}
		dispatched = true
		logger.Info("alert dispatched: %s %s delta=%.2f%% session=%s", inst.ID, d.WireLevel, q.ChangePct, sess)
	}
	st = classify.Apply(st, level, d, now)
	e.saveState(inst.ID, st)
	return dispatched
}

func (e *Engine) saveState(id string, st models.InstrumentState) {
	e.mu.Lock()
	e.states[id] = st
	e.mu.Unlock()
	if err := e.store.SaveInstrumentState(st); err != nil {
		logger.Error("failed to persist state for %s: %v", id, err)
	}
}

func (e *Engine) setLast(stats CycleStats) {
	e.mu.Lock()
	e.last = stats
	e.mu.Unlock()
}
