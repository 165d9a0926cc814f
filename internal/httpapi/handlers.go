package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/checkout"
	"github.com/roach88/marketcart/internal/scheduler"
	"github.com/roach88/marketcart/internal/store"
)

// NoticeNotSaved is shown when a change could not be persisted.
const NoticeNotSaved = "Your cart could not be saved. Your changes are kept for this session."

type cartResponse struct {
	Items  cart.Cart   `json:"items"`
	Totals cart.Totals `json:"totals"`
	Notice string      `json:"notice,omitempty"`
}

type windowsResponse struct {
	Windows []scheduler.Window `json:"windows"`
}

type orderResponse struct {
	Summary checkout.Summary `json:"summary"`
	Notice  string           `json:"notice,omitempty"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type discountRequest struct {
	Percent int `json:"percent"`
}

// ErrorResponse is the body of every 4xx/5xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"dirty":  s.cart.Dirty(),
	})
}

func (s *server) getCart(w http.ResponseWriter, r *http.Request) {
	s.respondCart(w, http.StatusOK, nil)
}

func (s *server) addItem(w http.ResponseWriter, r *http.Request) {
	var item cart.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	s.afterMutation(w, http.StatusCreated, s.cart.Add(r.Context(), item))
}

func (s *server) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	s.afterMutation(w, http.StatusOK, s.cart.SetQuantity(r.Context(), itemID(r), req.Quantity))
}

func (s *server) removeItem(w http.ResponseWriter, r *http.Request) {
	s.afterMutation(w, http.StatusOK, s.cart.Remove(r.Context(), itemID(r)))
}

func (s *server) grantDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	s.afterMutation(w, http.StatusOK, s.cart.GrantDiscount(r.Context(), itemID(r), req.Percent))
}

func (s *server) stripDiscount(w http.ResponseWriter, r *http.Request) {
	s.afterMutation(w, http.StatusOK, s.cart.StripDiscount(r.Context(), itemID(r)))
}

func (s *server) clearCart(w http.ResponseWriter, r *http.Request) {
	s.afterMutation(w, http.StatusOK, s.cart.Clear(r.Context()))
}

func (s *server) retry(w http.ResponseWriter, r *http.Request) {
	s.afterMutation(w, http.StatusOK, s.cart.Retry(r.Context()))
}

func (s *server) listWindows(w http.ResponseWriter, r *http.Request) {
	windows := s.windows.Windows()
	if windows == nil {
		windows = []scheduler.Window{}
	}
	respondJSON(w, http.StatusOK, windowsResponse{Windows: windows})
}

func (s *server) getCheckout(w http.ResponseWriter, r *http.Request) {
	snapshot, ok, err := s.checkout.LoadSnapshot(r.Context())
	if err != nil {
		s.logger.Warn("checkout snapshot unreadable", "error", err)
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no checkout on record")
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var form checkout.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	summary, err := s.checkout.PlaceOrder(r.Context(), form)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, orderResponse{Summary: summary})
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusConflict, "empty_cart", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		respondJSON(w, http.StatusCreated, orderResponse{Summary: summary, Notice: NoticeNotSaved})
	default:
		s.logger.Error("place order failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "order could not be placed")
	}
}

// afterMutation maps a repository error to a response. Store failures keep
// the in-memory change and are reported as a notice.
func (s *server) afterMutation(w http.ResponseWriter, status int, err error) {
	switch {
	case err == nil:
		s.respondCart(w, status, nil)
	case errors.Is(err, cart.ErrInvalidItem):
		respondError(w, http.StatusBadRequest, "invalid_item", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.respondCart(w, status, err)
	default:
		s.logger.Error("cart mutation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "cart could not be updated")
	}
}

func (s *server) respondCart(w http.ResponseWriter, status int, persistErr error) {
	items := s.cart.Snapshot()
	resp := cartResponse{Items: items, Totals: items.Totals()}
	if persistErr != nil || s.cart.Dirty() {
		resp.Notice = NoticeNotSaved
	}
	respondJSON(w, status, resp)
}

func itemID(r *http.Request) cart.ItemID {
	return cart.ItemID(chi.URLParam(r, "id"))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: code, Details: message})
}
