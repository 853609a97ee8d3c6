package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/mstepanov-dev/storefront-core/internal/catalog"
	"github.com/mstepanov-dev/storefront-core/internal/metrics"
	"github.com/mstepanov-dev/storefront-core/internal/promotion"
	"github.com/mstepanov-dev/storefront-core/internal/settlement"
	"github.com/mstepanov-dev/storefront-core/internal/shipping"
	"github.com/rs/zerolog/log"
)

// SettlementService is the surface the HTTP layer needs from the engine.
type SettlementService interface {
	InitiateGatewayCheckout(ctx context.Context, req *settlement.CheckoutRequest) (*settlement.PendingOrder, string, error)
	FinalizeGateway(ctx context.Context, transactionID string, outcome settlement.Outcome, payload json.RawMessage) (*settlement.Order, error)
	CreateCODOrder(ctx context.Context, req *settlement.CheckoutRequest) (*settlement.Order, error)
	ConfirmCODPayment(ctx context.Context, orderID uuid.UUID) (*settlement.Order, error)
	OrderByID(ctx context.Context, id uuid.UUID) (*settlement.Order, error)
	AvailableStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (int, error)
}

type CheckoutHandler struct {
	svc     SettlementService
	metrics *metrics.ServerMetrics
}

func NewCheckoutHandler(svc SettlementService, m *metrics.ServerMetrics) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, metrics: m}
}

type initiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Total         string `json:"total"`
	RedirectURL   string `json:"redirect_url"`
}

// Checkout starts the gateway settlement path.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req settlement.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pending, redirectURL, err := h.svc.InitiateGatewayCheckout(r.Context(), &req)
	if err != nil {
		h.observe("gateway", "error", start)
		h.writeError(w, err)
		return
	}
	h.observe("gateway", "initiated", start)

	writeJSON(w, http.StatusCreated, initiateResponse{
		TransactionID: pending.TransactionID,
		Total:         pending.Total.StringFixed(2),
		RedirectURL:   redirectURL,
	})
}

type callbackRequest struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// PaymentCallback receives the gateway's asynchronous verdict. Replays for
// an already-settled transaction get a 200, not an error.
func (h *CheckoutHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var req callbackRequest
	if err := json.Unmarshal(body, &req); err != nil || req.TransactionID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var outcome settlement.Outcome
	switch req.Status {
	case "success":
		outcome = settlement.OutcomeSuccess
	case "fail", "failed":
		outcome = settlement.OutcomeFail
	case "cancel", "cancelled":
		outcome = settlement.OutcomeCancel
	default:
		http.Error(w, "unknown payment status", http.StatusBadRequest)
		return
	}

	order, err := h.svc.FinalizeGateway(r.Context(), req.TransactionID, outcome, body)
	if err != nil {
		h.observe("gateway", "error", start)
		h.writeError(w, err)
		return
	}
	h.observe("gateway", string(outcome), start)

	resp := map[string]any{"status": "ok"}
	if order != nil {
		resp["order_id"] = order.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckoutCOD settles a cash-on-delivery order in one step.
func (h *CheckoutHandler) CheckoutCOD(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req settlement.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.svc.CreateCODOrder(r.Context(), &req)
	if err != nil {
		h.observe("cod", "error", start)
		h.writeError(w, err)
		return
	}
	h.observe("cod", "created", start)

	writeJSON(w, http.StatusCreated, order)
}

func (h *CheckoutHandler) ConfirmCODPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	order, err := h.svc.ConfirmCODPayment(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	order, err := h.svc.OrderByID(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *CheckoutHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.FromString(chi.URLParam(r, "productID"))
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	var variantID *uuid.UUID
	if raw := r.URL.Query().Get("variant_id"); raw != "" {
		id, err := uuid.FromString(raw)
		if err != nil {
			http.Error(w, "invalid variant id", http.StatusBadRequest)
			return
		}
		variantID = &id
	}

	available, err := h.svc.AvailableStock(r.Context(), productID, variantID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product_id": productID,
		"variant_id": variantID,
		"available":  available,
	})
}

type insufficientStockResponse struct {
	Error     string `json:"error"`
	Product   string `json:"product"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// writeError maps the settlement error taxonomy onto HTTP statuses.
// User-correctable pre-flight failures are reported verbatim; anything else
// is a generic settlement failure.
func (h *CheckoutHandler) writeError(w http.ResponseWriter, err error) {
	var stockErr *settlement.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusUnprocessableEntity, insufficientStockResponse{
			Error:     "insufficient stock",
			Product:   stockErr.ProductName,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
	case errors.Is(err, promotion.ErrInvalidCoupon),
		errors.Is(err, settlement.ErrInvalidShippingAddress),
		errors.Is(err, shipping.ErrChargeNotFound),
		errors.Is(err, settlement.ErrEmptyCart):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrVariantNotFound),
		errors.Is(err, settlement.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Error().Err(err).Msg("handler: settlement failed")
		http.Error(w, "settlement failed", http.StatusInternalServerError)
	}
}

func (h *CheckoutHandler) observe(path, outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.Checkouts.WithLabelValues(path, outcome).Inc()
	h.metrics.SettlementDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Info().Msgf("Failed to encode response: %v", err)
	}
}
