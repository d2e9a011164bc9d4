// Package models defines the core domain entities: instruments, alerts,
// severity levels, trading sessions, and relay job records.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Category tags an instrument with the threshold table and session gating
// that apply to it.
type Category string

const (
	CategoryIndex      Category = "index"
	CategoryVolatility Category = "volatility"
	CategoryFutures    Category = "futures"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryIndex, CategoryVolatility, CategoryFutures:
		return true
	}
	return false
}

// Session is a named trading-hours window derived from local time and the
// holiday calendar.
type Session string

const (
	SessionDay           Session = "DAY"
	SessionNight         Session = "NIGHT"
	SessionFuturesWindow Session = "FUTURES_WINDOW"
	SessionClosed        Session = "CLOSED"
)

// Level is a discrete alert severity. The ordering NONE < LV1 < LV2 < LV3 is
// significant: hysteresis decisions compare levels directly.
type Level int

const (
	LevelNone Level = iota
	Level1
	Level2
	Level3
)

// LevelCleared is the wire representation of a transition back to NONE.
// It is not a Level of its own; it only ever appears in Alert.Level.
const LevelCleared = "CLEARED"

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case Level1:
		return "LV1"
	case Level2:
		return "LV2"
	case Level3:
		return "LV3"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel converts a wire-format level string back into a Level.
// CLEARED parses as LevelNone.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "NONE", LevelCleared:
		return LevelNone, nil
	case "LV1":
		return Level1, nil
	case "LV2":
		return Level2, nil
	case "LV3":
		return Level3, nil
	}
	return LevelNone, fmt.Errorf("unknown level %q", s)
}

// Instrument is a watched market series. Configured at startup, updated every
// poll cycle; only its State survives restarts.
type Instrument struct {
	ID        string   // display identifier, may contain non-ASCII (e.g. ΔKOSPI)
	Category  Category
	Symbols   []string // provider symbols, tried in order until one succeeds
	Sessions  []Session
	LastDelta float64
	LastValue float64
}

// Validate checks instrument field constraints.
func (i *Instrument) Validate() error {
	if i.ID == "" {
		return errors.New("instrument ID must not be empty")
	}
	if !i.Category.Valid() {
		return fmt.Errorf("unknown instrument category %q", i.Category)
	}
	if len(i.Symbols) == 0 {
		return errors.New("instrument must have at least one symbol")
	}
	if len(i.Sessions) == 0 {
		return errors.New("instrument must be gated on at least one session")
	}
	return nil
}

// PolledIn reports whether the instrument should be polled in session s.
func (i *Instrument) PolledIn(s Session) bool {
	for _, g := range i.Sessions {
		if g == s {
			return true
		}
	}
	return false
}

// InstrumentState is the per-instrument persisted hysteresis state.
// PreviousLevel always reflects the last level that was actually dispatched.
type InstrumentState struct {
	InstrumentID  string
	PreviousLevel Level
	LastAlertAt   time.Time
	LastCheckedAt time.Time
}

// Quote is a single observation from a data provider.
type Quote struct {
	Symbol     string
	Price      float64
	ChangePct  float64
	MarketTime time.Time // provider-reported time of the print
	Source     string
}

// Age returns how old the provider-reported print is at now.
func (q Quote) Age(now time.Time) time.Duration {
	if q.MarketTime.IsZero() {
		return 0
	}
	return now.Sub(q.MarketTime)
}

// Alert is the wire event handed from the polling engine to the ingest
// gateway. Immutable once constructed.
type Alert struct {
	InstrumentID string    `json:"instrument_id"`
	Level        string    `json:"level"` // LV1..LV3 or CLEARED
	DeltaPct     float64   `json:"delta_pct"`
	Session      Session   `json:"session"`
	TriggeredAt  time.Time `json:"triggered_at"`
	Note         string    `json:"note,omitempty"`
}

// Validate checks alert field constraints.
func (a *Alert) Validate() error {
	if a.InstrumentID == "" {
		return errors.New("alert instrument_id must not be empty")
	}
	if _, err := ParseLevel(a.Level); err != nil {
		return err
	}
	if a.TriggeredAt.IsZero() {
		return errors.New("alert triggered_at must be set")
	}
	return nil
}

// AccessToken is a brokerage OAuth2 access token. The token manager owns the
// single shared instance; callers receive read-only copies.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token exists and has not expired at now.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}
