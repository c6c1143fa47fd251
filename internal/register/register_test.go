package register

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillguard/internal/banner"
	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/store"
	"github.com/roach88/tillguard/internal/testutil"
	"github.com/roach88/tillguard/internal/upstream"
)

type switchConn struct {
	mu    sync.Mutex
	state connectivity.State
}

func (c *switchConn) Current() connectivity.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *switchConn) Subscribe() (<-chan connectivity.State, func()) {
	return make(chan connectivity.State), func() {}
}

func (c *switchConn) Trigger() {}

func (c *switchConn) set(s connectivity.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// backend accepts every order unless it is down, in which case it answers
// 503 Service Unavailable.
type backend struct {
	mu   sync.Mutex
	down bool
}

func (b *backend) CreateOrder(_ context.Context, order pos.OfflineOrder) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return "", &upstream.StatusError{StatusCode: 503, Body: "service unavailable"}
	}
	return "srv-" + order.ID, nil
}

func (b *backend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

type fixture struct {
	reg     *Register
	engine  *engine.Engine
	gov     *exposure.Governor
	store   *store.Store
	conn    *switchConn
	backend *backend
	clock   *testutil.ManualClock
}

func newFixture(t *testing.T, cap int64) fixture {
	t.Helper()
	clk := testutil.NewManualClock(time.Time{})
	s, err := store.Open(filepath.Join(t.TempDir(), "register.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	gov, err := exposure.NewGovernor(s, cap, exposure.WithSessionIDs(testutil.NewSequenceIDs("sess").Generate))
	require.NoError(t, err)

	since := clk.Now()
	conn := &switchConn{state: connectivity.State{IsOnline: false, OfflineSince: &since}}

	api := &backend{}
	eng := engine.New(s, api, conn,
		engine.WithClock(clk),
		engine.WithIDGenerator(testutil.NewSequenceIDs("ord")),
		engine.WithSessions(gov),
	)
	reg := New(eng, gov, s, conn, banner.NewTracker(clk, 0))
	return fixture{reg: reg, engine: eng, gov: gov, store: s, conn: conn, backend: api, clock: clk}
}

func order(method pos.PaymentMethod, amount int64) pos.OfflineOrder {
	return pos.OfflineOrder{
		LineItems:     []pos.LineItem{{ProductID: "latte", Name: "Latte", Quantity: 1, UnitPrice: amount}},
		PaymentMethod: method,
	}
}

func TestPlaceOrder_RefusesCashOnceCapReached(t *testing.T) {
	f := newFixture(t, 10000)
	ctx := context.Background()

	for _, amount := range []int64{2000, 3000, 6000} {
		r, err := f.reg.PlaceOrder(ctx, order(pos.PaymentCash, amount))
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeQueued, r.Outcome)
	}

	_, err := f.reg.PlaceOrder(ctx, order(pos.PaymentCash, 100))
	assert.ErrorIs(t, err, ErrCashCapReached)

	n, err := f.store.CountUnsyncedOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "refused order must not be queued")

	// Pending orders carry no cash risk.
	r, err := f.reg.PlaceOrder(ctx, order(pos.PaymentPending, 100))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeQueued, r.Outcome)
}

// The register believes it is online but the server answers 503, so every
// cash order falls back to the queue. The cap still holds.
func TestPlaceOrder_CapHoldsWhenOnlineSubmissionFallsBack(t *testing.T) {
	f := newFixture(t, 10000)
	f.conn.set(connectivity.State{IsOnline: true})
	f.backend.setDown(true)
	ctx := context.Background()

	var queued, refused int
	for i := 0; i < 5; i++ {
		r, err := f.reg.PlaceOrder(ctx, order(pos.PaymentCash, 6000))
		switch {
		case err == nil:
			assert.Equal(t, engine.OutcomeQueued, r.Outcome)
			queued++
		case errors.Is(err, ErrCashCapReached):
			refused++
		default:
			t.Fatalf("order %d: unexpected error %v", i+1, err)
		}
	}
	assert.Equal(t, 2, queued, "the order that crosses the cap is still taken")
	assert.Equal(t, 3, refused)

	state, active, err := f.gov.Current(ctx)
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, int64(12000), state.CashTotal)
	assert.True(t, state.CapReached())
}

// A session opened by an online fallback closes once its orders sync, so the
// next outage starts from an empty meter.
func TestPlaceOrder_FallbackSessionClosesWhenDrained(t *testing.T) {
	f := newFixture(t, 10000)
	f.conn.set(connectivity.State{IsOnline: true})
	f.backend.setDown(true)
	ctx := context.Background()

	r, err := f.reg.PlaceOrder(ctx, order(pos.PaymentCash, 4000))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", r.Order.SessionID)

	f.backend.setDown(false)
	report, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)

	_, active, err := f.gov.Current(ctx)
	require.NoError(t, err)
	assert.False(t, active, "drained session is closed while online")

	since := f.clock.Now()
	f.conn.set(connectivity.State{IsOnline: false, OfflineSince: &since})
	r, err = f.reg.PlaceOrder(ctx, order(pos.PaymentCash, 9000))
	require.NoError(t, err)
	assert.Equal(t, "sess-2", r.Order.SessionID)

	state, active, err := f.gov.Current(ctx)
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, int64(9000), state.CashTotal)
}

func TestPlaceOrder_CardOffline(t *testing.T) {
	f := newFixture(t, 10000)

	_, err := f.reg.PlaceOrder(context.Background(), order(pos.PaymentCard, 450))
	assert.True(t, engine.IsCardOffline(err))
}

func TestPlaceOrder_OnlineIgnoresCap(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	_, err := f.reg.PlaceOrder(ctx, order(pos.PaymentCash, 1500))
	require.NoError(t, err)

	f.conn.set(connectivity.State{IsOnline: true})
	r, err := f.reg.PlaceOrder(ctx, order(pos.PaymentCash, 1500))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSubmitted, r.Outcome)
}

func TestStatus_Offline(t *testing.T) {
	f := newFixture(t, 10000)
	ctx := context.Background()

	for _, amount := range []int64{2000, 3000} {
		_, err := f.reg.PlaceOrder(ctx, order(pos.PaymentCash, amount))
		require.NoError(t, err)
	}
	f.clock.Advance(90 * time.Second)

	st, err := f.reg.Status(ctx)
	require.NoError(t, err)

	assert.False(t, st.Connection.IsOnline)
	assert.Equal(t, 2, st.QueuedOrders)
	require.NotNil(t, st.Exposure)
	assert.Equal(t, int64(5000), st.Exposure.CashTotal)
	assert.Equal(t, int64(50), st.Exposure.PercentUsed)
	assert.Equal(t, int64(5000), st.Exposure.Remaining)
	assert.Nil(t, st.LastSync)

	assert.Equal(t, banner.KindOffline, st.Banner.Kind)
	assert.Equal(t, 90*time.Second, st.Banner.OfflineFor)
	assert.Equal(t, exposure.CardTerminalWarning, st.Banner.Warning)
}

func TestStatus_OnlineWithoutSession(t *testing.T) {
	f := newFixture(t, 10000)
	f.conn.set(connectivity.State{IsOnline: true})

	st, err := f.reg.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, st.Connection.IsOnline)
	assert.Zero(t, st.QueuedOrders)
	assert.Nil(t, st.Exposure)
	assert.Equal(t, banner.KindHidden, st.Banner.Kind)
}
