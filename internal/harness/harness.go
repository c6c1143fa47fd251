package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/tillguard/internal/banner"
	"github.com/roach88/tillguard/internal/cache"
	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/register"
	"github.com/roach88/tillguard/internal/store"
	"github.com/roach88/tillguard/internal/testutil"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every place expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one line per observable event, prefixed with the step
	// number.
	Trace []string `json:"trace"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Banner is the operator banner after the last step. Empty when
	// hidden.
	Banner string `json:"banner"`
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Transcript renders the trace and final banner as text.
func (r *Result) Transcript(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, line := range r.Trace {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("banner:\n")
	if r.Banner == "" {
		b.WriteString("(hidden)\n")
	} else {
		b.WriteString(r.Banner)
	}
	return b.String()
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger sends component logs to l instead of discarding them.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Harness is one wired register driven step by step.
type Harness struct {
	store    *store.Store
	clock    *testutil.ManualClock
	pinger   *testutil.ScriptedPinger
	monitor  *connectivity.Monitor
	gov      *exposure.Governor
	engine   *engine.Engine
	register *register.Register
	menu     *cache.Menu
	tracker  *banner.Tracker
	backend  *backend

	step   int
	result *Result
}

// Run executes a scenario in a fresh database and returns the result.
// A returned error means the scenario could not be executed; failed
// expectations are reported in Result.Errors instead.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir, err := os.MkdirTemp("", "tillguard-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := newHarness(filepath.Join(dir, "register.db"), s, cfg.logger)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	for i, step := range s.Steps {
		h.step = i + 1
		if err := h.apply(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", h.step, err)
		}
	}

	for i, a := range s.Assertions {
		msg, err := h.check(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("assertion %d: %w", i, err)
		}
		if msg != "" {
			h.result.AddError(fmt.Sprintf("assertion %d (%s): %s", i, a.Type, msg))
		}
	}

	status, err := h.register.Status(ctx)
	if err != nil {
		return nil, err
	}
	h.result.Banner = banner.Render(status.Banner)

	return h.result, nil
}

func newHarness(dbPath string, s *Scenario, logger *slog.Logger) (*Harness, error) {
	clk := testutil.NewManualClock(testutil.Epoch)

	st, err := store.Open(dbPath, store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cap := s.Cap
	if cap == 0 {
		cap = exposure.DefaultCap
	}
	gov, err := exposure.NewGovernor(st, cap,
		exposure.WithWarnPercent(s.WarnPercent),
		exposure.WithSessionIDs(testutil.NewSequenceIDs("sess").Generate),
		exposure.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	pinger := testutil.NewScriptedPinger()
	monitor := connectivity.New(pinger,
		connectivity.WithClock(clk),
		connectivity.WithLogger(logger),
	)
	b := newBackend()
	eng := engine.New(st, b, monitor,
		engine.WithSessions(gov),
		engine.WithClock(clk),
		engine.WithIDGenerator(testutil.NewSequenceIDs("ord")),
		engine.WithLogger(logger),
	)
	tracker := banner.NewTracker(clk, 0)

	return &Harness{
		store:    st,
		clock:    clk,
		pinger:   pinger,
		monitor:  monitor,
		gov:      gov,
		engine:   eng,
		register: register.New(eng, gov, st, monitor, tracker, register.WithLogger(logger)),
		menu:     cache.NewMenu(st, b, monitor, 0, logger),
		tracker:  tracker,
		backend:  b,
		result:   &Result{Pass: true, Trace: []string{}, Errors: []string{}},
	}, nil
}

func (h *Harness) tracef(format string, args ...any) {
	h.result.Trace = append(h.result.Trace, fmt.Sprintf("%02d ", h.step)+fmt.Sprintf(format, args...))
}

func (h *Harness) apply(ctx context.Context, step Step) error {
	switch {
	case step.Heartbeat != "":
		return h.heartbeat(ctx, step.Heartbeat == "up")
	case step.Advance != 0:
		h.clock.Advance(step.Advance)
		h.tracef("advance %s", banner.FormatDuration(step.Advance))
		return nil
	case step.Place != nil:
		return h.place(ctx, *step.Place)
	case step.Sync:
		if !h.monitor.Current().IsOnline {
			h.tracef("sync skipped: offline")
			return nil
		}
		return h.sync(ctx)
	case step.Override != nil:
		return h.override(ctx, *step.Override)
	case step.Menu != nil:
		return h.loadMenu(ctx, step.Menu)
	case step.Drop != nil:
		h.backend.dropOnce(step.Drop)
		h.tracef("backend drops next submission of %s", strings.Join(step.Drop, ", "))
		return nil
	case step.Reject != nil:
		h.backend.rejectAlways(step.Reject)
		h.tracef("backend rejects %s", strings.Join(step.Reject, ", "))
		return nil
	}
	return errors.New("empty step")
}

// heartbeat runs one monitor check and reacts to the edges the way the
// agent's background loops do: going offline opens the session, recovery
// syncs the queue and then closes the session.
func (h *Harness) heartbeat(ctx context.Context, up bool) error {
	wasOnline := h.monitor.Current().IsOnline
	h.pinger.Set(up)
	state := h.monitor.Check(ctx)
	h.tracker.Observe(state)

	switch {
	case !up && wasOnline:
		h.tracef("offline")
		session, _, err := h.gov.OpenSession(ctx)
		if err != nil {
			return err
		}
		h.tracef("session %s opened, cap %s", session.ID, banner.FormatMoney(session.Cap))

	case !up:
		h.tracef("still offline after %s", banner.FormatDuration(state.OfflineFor(h.clock.Now())))

	case state.WasOffline:
		h.tracef("online, recovered")
		if err := h.sync(ctx); err != nil {
			return err
		}
		session, err := h.gov.CloseSession(ctx)
		switch {
		case errors.Is(err, store.ErrNoActiveSession):
		case err != nil:
			return err
		default:
			h.tracef("session %s closed", session.ID)
		}

	default:
		h.tracef("online")
	}
	return nil
}

func (h *Harness) place(ctx context.Context, p PlaceStep) error {
	order := pos.OfflineOrder{
		ID:            p.ID,
		LineItems:     []pos.LineItem{{ProductID: "item", Name: "Item", Quantity: 1, UnitPrice: p.Amount}},
		PaymentMethod: pos.PaymentMethod(p.Method),
	}
	label := fmt.Sprintf("place %s %s %s", p.ID, p.Method, banner.FormatMoney(p.Amount))

	receipt, err := h.register.PlaceOrder(ctx, order)
	var got string
	switch {
	case err == nil:
		got = string(receipt.Outcome)
		if receipt.Outcome == engine.OutcomeQueued {
			h.tracef("%s: queued in %s", label, receipt.Order.SessionID)
		} else {
			h.tracef("%s: submitted as %s", label, receipt.ServerOrderID)
		}
	case errors.Is(err, register.ErrCashCapReached):
		got = ExpectRefused
		h.tracef("%s: refused, cash cap reached", label)
	case engine.IsCardOffline(err):
		got = ExpectCardOffline
		h.tracef("%s: refused, card offline", label)
	case engine.IsRejected(err):
		got = ExpectRejected
		h.tracef("%s: rejected by server", label)
	default:
		return err
	}

	if p.Expect != "" && got != p.Expect {
		h.result.AddError(fmt.Sprintf("step %d: %s: expected %s, got %s", h.step, label, p.Expect, got))
	}
	return nil
}

func (h *Harness) sync(ctx context.Context) error {
	before, wasOpen, err := h.gov.Current(ctx)
	if err != nil {
		return err
	}

	report, err := h.engine.Sync(ctx)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("sync: %d of %d synced", report.Synced, report.Attempted)
	for _, f := range report.Failed {
		next := "will retry"
		if !f.Retryable {
			next = "needs attention"
		}
		line += fmt.Sprintf(", %s failed (%s)", f.OrderID, next)
	}
	h.tracef("%s", line)

	// A pass that drains the open session while online closes it.
	if wasOpen {
		_, stillOpen, err := h.gov.Current(ctx)
		if err != nil {
			return err
		}
		if !stillOpen {
			h.tracef("session %s closed", before.SessionID)
		}
	}
	return nil
}

func (h *Harness) override(ctx context.Context, o OverrideStep) error {
	state, err := h.gov.OverrideCap(ctx, o.Manager, o.Cap)
	switch {
	case errors.Is(err, store.ErrNoActiveSession):
		h.tracef("override refused: no open session")
		return nil
	case errors.Is(err, exposure.ErrManagerRequired), errors.Is(err, exposure.ErrInvalidCap):
		h.tracef("override refused: %v", err)
		return nil
	case err != nil:
		return err
	}

	h.tracef("override by %s: cap %s, %s used, %s left",
		strings.TrimSpace(o.Manager), banner.FormatMoney(state.Cap), state.DisplayPercent(), banner.FormatMoney(state.Remaining))
	return nil
}

func (h *Harness) loadMenu(ctx context.Context, items []MenuItem) error {
	h.backend.setMenu(items)

	res, err := h.menu.Load(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		ids = append(ids, it.ID)
	}
	h.tracef("menu from %s: %s", res.Source, strings.Join(ids, ", "))
	return nil
}
