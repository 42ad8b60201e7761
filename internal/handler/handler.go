// Package handler exposes the catalog and the order service over a JSON HTTP
// API.
package handler

import (
	"net/http"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// PaymentLimits caps what the simulated card and PayPal gateways approve.
	PaymentLimits payment.Limits
}

// Handler serves the /api routes, delegating business logic to the order
// service and product repository.
type Handler struct {
	products     product.Repository
	orderService *order.Service
	limits       payment.Limits
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products product.Repository,
	orderService *order.Service,
) *Handler {
	return &Handler{
		products:     products,
		orderService: orderService,
		limits:       cfg.PaymentLimits,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/process", h.ProcessOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
}
