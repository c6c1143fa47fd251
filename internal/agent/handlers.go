package agent

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/pos"
)

// placeOrderRequest is the body of POST /v1/orders. The total is always
// computed from the items; ID may be supplied for client-side retries.
type placeOrderRequest struct {
	ID            string            `json:"id,omitempty"`
	Items         []pos.LineItem    `json:"items"`
	CustomerName  string            `json:"customer_name,omitempty"`
	PaymentMethod pos.PaymentMethod `json:"payment_method"`
}

type overrideRequest struct {
	Manager string `json:"manager"`
	Cap     int64  `json:"cap"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.svc.Conn.Current().IsOnline,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Register.Status(r.Context())
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Menu.Load(r.Context())
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleKitchen(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Kitchen.Load(r.Context())
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.svc.Queue.GetOfflineOrders(r.Context())
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// handlePlaceOrder answers 201 for an order the server accepted and 202 for
// one queued offline.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	order := pos.OfflineOrder{
		ID:            req.ID,
		LineItems:     req.Items,
		CustomerName:  req.CustomerName,
		PaymentMethod: req.PaymentMethod,
	}
	order.TotalAmount = order.ComputeTotal()

	receipt, err := s.svc.Register.PlaceOrder(r.Context(), order)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}

	status := http.StatusCreated
	if receipt.Outcome == engine.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, receipt)
}

func (s *Server) handleClearSynced(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Queue.ClearSyncedOrders(r.Context())
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

// handleSync runs a sync pass and returns its report. Offline, nothing is
// attempted; the pass runs on its own at the recovery edge.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Conn.Current().IsOnline {
		writeError(w, http.StatusConflict, CodeOffline, "offline; queued orders sync automatically when the connection returns")
		return
	}
	report, err := s.svc.Sync.Sync(r.Context())
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	state, err := s.svc.Exposure.OverrideCap(r.Context(), req.Manager, req.Cap)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
