package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mstepanov-dev/storefront-core/internal/handler"
	"github.com/mstepanov-dev/storefront-core/internal/metrics"
)

func NewRouter(h *handler.CheckoutHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Post("/checkout/cod", h.CheckoutCOD)
		r.Post("/payment/callback", h.PaymentCallback)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/confirm-cod", h.ConfirmCODPayment)
		r.Get("/stock/{productID}", h.GetStock)
	})

	return r
}
