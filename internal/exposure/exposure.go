// Package exposure bounds the financial risk of taking cash during an
// outage. It computes how much of the offline cash cap the open session has
// used and manages the session boundaries that reset it.
//
// The governor only signals state. Refusing further cash once the cap is
// reached is the register's job.
package exposure

import (
	"errors"
	"fmt"
)

// DefaultCap is the per-session offline cash cap in minor units.
const DefaultCap int64 = 20000

// DefaultWarnPercent is the usage at which the meter turns to warn.
const DefaultWarnPercent int64 = 90

// CardTerminalWarning is shown on every offline banner. A card terminal's
// offline authorization can be declined after the goods are handed over.
const CardTerminalWarning = "Do not use the card terminal's offline mode. Offline card approvals can be declined later. Take cash only."

// ErrInvalidCap is returned for a cap that is not positive. It is a
// configuration error and must not be silently replaced by a default.
var ErrInvalidCap = errors.New("exposure cap must be positive")

// Level is the presentation state of the exposure meter.
type Level string

const (
	LevelOK         Level = "ok"
	LevelWarn       Level = "warn"
	LevelCapReached Level = "cap_reached"
)

// State is the cash exposure of one offline session. It is derived, never
// stored.
type State struct {
	SessionID   string `json:"session_id"`
	CashTotal   int64  `json:"cash_total"`
	Cap         int64  `json:"cap"`
	PercentUsed int64  `json:"percent_used"` // not clamped; may exceed 100
	Remaining   int64  `json:"remaining"`
	Level       Level  `json:"level"`
}

// CapReached reports whether no more cash may be taken in this session.
func (s State) CapReached() bool {
	return s.Level == LevelCapReached
}

// Compute derives the exposure state. percentUsed is cashTotal*100/cap
// rounded down, remaining is never negative. warnPercent <= 0 means
// DefaultWarnPercent.
func Compute(sessionID string, cashTotal, cap, warnPercent int64) (State, error) {
	if cap <= 0 {
		return State{}, fmt.Errorf("%w: got %d", ErrInvalidCap, cap)
	}
	if warnPercent <= 0 {
		warnPercent = DefaultWarnPercent
	}

	percent := cashTotal * 100 / cap
	state := State{
		SessionID:   sessionID,
		CashTotal:   cashTotal,
		Cap:         cap,
		PercentUsed: percent,
		Remaining:   max(0, cap-cashTotal),
		Level:       LevelOK,
	}

	switch {
	case cashTotal >= cap:
		state.Level = LevelCapReached
	case percent >= warnPercent:
		state.Level = LevelWarn
	}
	return state, nil
}

// DisplayPercent formats PercentUsed for the meter, flagging overruns as
// "100%+" instead of showing a number past the cap.
func (s State) DisplayPercent() string {
	if s.PercentUsed > 100 {
		return "100%+"
	}
	return fmt.Sprintf("%d%%", s.PercentUsed)
}
