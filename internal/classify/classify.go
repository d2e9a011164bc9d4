// Package classify grades percent moves into alert levels and decides,
// against per-instrument hysteresis state, whether a grade is dispatched.
package classify

import (
	"time"

	"github.com/minsuk-ha/sentinel/internal/models"
)

// Thresholds is a monotonic ladder of absolute percent-change cutoffs.
type Thresholds struct {
	LV1 float64
	LV2 float64
	LV3 float64
}

// Monotonic reports whether the ladder is ordered 0 < LV1 <= LV2 <= LV3.
func (t Thresholds) Monotonic() bool {
	return t.LV1 > 0 && t.LV1 <= t.LV2 && t.LV2 <= t.LV3
}

// Classifier grades deltas per category and applies the cross-instrument
// volatility filter.
type Classifier struct {
	thresholds      map[models.Category]Thresholds
	filterThreshold float64 // companion index move below which volatility alerts are squelched
}

// New builds a classifier from per-category ladders. filterThreshold gates
// volatility-category alerts on companion index movement.
func New(thresholds map[models.Category]Thresholds, filterThreshold float64) *Classifier {
	return &Classifier{thresholds: thresholds, filterThreshold: filterThreshold}
}

// grade compares |deltaPct| against the ladder from highest to lowest;
// first match wins.
func grade(deltaPct float64, th Thresholds) models.Level {
	a := deltaPct
	if a < 0 {
		a = -a
	}
	switch {
	case a >= th.LV3:
		return models.Level3
	case a >= th.LV2:
		return models.Level2
	case a >= th.LV1:
		return models.Level1
	}
	return models.LevelNone
}

// Classify maps an instrument's percent change to a level. companionDeltas
// are the same-cycle deltas of the configured companion index instruments:
// a volatility instrument grades to NONE when every companion moved less
// than the filter threshold, regardless of its own magnitude. The filter is
// applied before the ladder comparison.
func (c *Classifier) Classify(cat models.Category, deltaPct float64, companionDeltas []float64) models.Level {
	if cat == models.CategoryVolatility && c.filterThreshold > 0 && len(companionDeltas) > 0 {
		calm := true
		for _, d := range companionDeltas {
			if d < 0 {
				d = -d
			}
			if d >= c.filterThreshold {
				calm = false
				break
			}
		}
		if calm {
			return models.LevelNone
		}
	}
	th, ok := c.thresholds[cat]
	if !ok {
		return models.LevelNone
	}
	return grade(deltaPct, th)
}

// Decision is the outcome of the hysteresis state machine for one
// observation.
type Decision struct {
	Dispatch  bool
	WireLevel string // LV1..LV3, or CLEARED on a transition to NONE
	Changed   bool   // level differs from the previously dispatched one
	Reentry   bool   // same level re-dispatched after the dedup window
}

// Decide runs the dispatch state machine over states {NONE, LV1, LV2, LV3}.
// The transition guard is (level changed) OR (cooldown elapsed):
//
//   - newLevel != previous: always dispatch, including transitions to NONE,
//     which go out as a CLEARED pseudo-alert. A *first* occurrence of a level
//     is never suppressed.
//   - newLevel == previous != NONE: dispatch only once now-lastAlert has
//     reached window, and only when reentry dispatch is enabled; a disabled
//     flag refreshes the timestamp without emitting.
//   - NONE == NONE: never dispatch.
func Decide(newLevel models.Level, st models.InstrumentState, now time.Time, window time.Duration, reentryAlerts bool) Decision {
	if newLevel != st.PreviousLevel {
		d := Decision{Dispatch: true, Changed: true, WireLevel: newLevel.String()}
		if newLevel == models.LevelNone {
			d.WireLevel = models.LevelCleared
		}
		return d
	}
	if newLevel == models.LevelNone {
		return Decision{}
	}
	if now.Sub(st.LastAlertAt) < window {
		return Decision{}
	}
	return Decision{Dispatch: reentryAlerts, Reentry: true, WireLevel: newLevel.String()}
}

// Apply folds a decision back into the per-instrument state. PreviousLevel
// tracks dispatched levels only; LastAlertAt moves on every dispatch and on
// an elapsed-window reentry even when reentry alerts are disabled, so the
// cooldown restarts either way.
func Apply(st models.InstrumentState, newLevel models.Level, d Decision, now time.Time) models.InstrumentState {
	st.LastCheckedAt = now
	if d.Dispatch || d.Reentry {
		st.PreviousLevel = newLevel
		st.LastAlertAt = now
	}
	return st
}
