package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/store"
	"github.com/roach88/tillguard/internal/testutil"
)

// unreachableURL refuses connections immediately.
const unreachableURL = "http://127.0.0.1:1"

// fakeBackend is the hosted cafe backend as the agent sees it.
type fakeBackend struct {
	srv    *httptest.Server
	down   atomic.Bool
	mu     sync.Mutex
	reject map[string]bool
	keys   []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{reject: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/menu", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":[
			{"id":"latte","name":"Latte","price_cents":450},
			{"id":"tea","name":"Tea","price_cents":300}
		]}`)
	})
	mux.HandleFunc("GET /api/kds", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"orders":[{
			"id":"o1","status":"preparing","customer_name":"Ada",
			"created_at":"2026-03-02T07:00:00Z",
			"coffee_orders":[{"id":"c1","drink_name":"Latte","customizations":{"milk":"oat"}}]
		}]}`)
	})
	mux.HandleFunc("POST /api/orders", func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		b.mu.Lock()
		b.keys = append(b.keys, key)
		rejected := b.reject[key]
		b.mu.Unlock()

		if rejected {
			http.Error(w, "unknown product", http.StatusUnprocessableEntity)
			return
		}
		fmt.Fprintf(w, `{"order_id":"srv-%s"}`, key)
	})

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func (b *fakeBackend) Reject(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject[id] = true
}

func (b *fakeBackend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...)
}

// writeConfig writes a config pointing at baseURL with a fresh database and
// returns the config and database paths.
func writeConfig(t *testing.T, baseURL string, extra string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "tillguard.db")
	cfgPath = filepath.Join(dir, "tillguard.yaml")

	content := fmt.Sprintf(`
upstream:
  base_url: %s
store:
  path: %s
log:
  level: error
%s`, baseURL, dbPath, extra)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, dbPath
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (stdout string, stderr string, err error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// decodeResponse parses a JSON CLI response and re-decodes its data into v.
func decodeResponse(t *testing.T, raw string, v any) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), "output: %s", raw)
	if v != nil {
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, v))
	}
	return resp
}

// withStore opens the database directly to seed or inspect it.
func withStore(t *testing.T, dbPath string, fn func(s *store.Store)) {
	t.Helper()
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	fn(s)
}

func cashOrder(id, sessionID string, amount int64, offset time.Duration) pos.OfflineOrder {
	return pos.OfflineOrder{
		ID:            id,
		SessionID:     sessionID,
		LineItems:     []pos.LineItem{{ProductID: "latte", Name: "Latte", Quantity: 1, UnitPrice: amount}},
		TotalAmount:   amount,
		PaymentMethod: pos.PaymentCash,
		CreatedAt:     testutil.Epoch.Add(offset),
	}
}

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
