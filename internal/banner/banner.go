// Package banner models the operator banner: a persistent offline bar with
// outage duration, queued orders, the cash exposure meter and the card
// terminal warning, plus a short confirmation on recovery.
package banner

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/tillguard/internal/clock"
	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/exposure"
)

// RecoveryFlash is how long the "connection restored" banner stays up.
const RecoveryFlash = 4 * time.Second

// Kind selects which banner is shown.
type Kind string

const (
	KindHidden    Kind = "hidden"
	KindOffline   Kind = "offline"
	KindRecovered Kind = "recovered"
)

// View is everything a UI needs to draw the banner.
type View struct {
	Kind         Kind            `json:"kind"`
	OfflineSince *time.Time      `json:"offline_since,omitempty"`
	OfflineFor   time.Duration   `json:"offline_for"`
	QueuedOrders int             `json:"queued_orders"`
	Exposure     *exposure.State `json:"exposure,omitempty"`
	Warning      string          `json:"warning,omitempty"`
}

// Tracker remembers recovery edges long enough to show the recovery banner
// once per edge.
type Tracker struct {
	clock clock.Clock
	flash time.Duration

	mu         sync.Mutex
	flashUntil time.Time
}

// NewTracker creates a Tracker. A zero flash uses RecoveryFlash.
func NewTracker(c clock.Clock, flash time.Duration) *Tracker {
	if c == nil {
		c = clock.System{}
	}
	if flash <= 0 {
		flash = RecoveryFlash
	}
	return &Tracker{clock: c, flash: flash}
}

// Observe records a connectivity emission. A recovery edge starts the flash;
// going offline cancels it.
func (t *Tracker) Observe(s connectivity.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !s.IsOnline:
		t.flashUntil = time.Time{}
	case s.WasOffline:
		t.flashUntil = t.clock.Now().Add(t.flash)
	}
}

// Recovering reports whether the recovery banner is still up.
func (t *Tracker) Recovering() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.Now().Before(t.flashUntil)
}

// Watch feeds every emission of conn into the tracker until ctx is done.
func (t *Tracker) Watch(ctx context.Context, conn interface {
	Subscribe() (<-chan connectivity.State, func())
}) error {
	states, cancel := conn.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-states:
			if !ok {
				return nil
			}
			t.Observe(s)
		}
	}
}

// Build assembles the view. exp is the exposure of the open offline session,
// or nil when none is open.
func (t *Tracker) Build(conn connectivity.State, queued int, exp *exposure.State) View {
	if !conn.IsOnline {
		return View{
			Kind:         KindOffline,
			OfflineSince: conn.OfflineSince,
			OfflineFor:   conn.OfflineFor(t.clock.Now()),
			QueuedOrders: queued,
			Exposure:     exp,
			Warning:      exposure.CardTerminalWarning,
		}
	}
	if t.Recovering() {
		return View{Kind: KindRecovered, QueuedOrders: queued}
	}
	return View{Kind: KindHidden}
}
