package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// PlaceOrder decodes the request, delegates to the order service and writes
// the stored order, or an error mapped from the domain failure.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, errorBody{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	req, err := decodePlaceOrder(body)
	if err != nil {
		writeError(w, errorBody{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	items := make([]order.Item, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.Item{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	var pay payment.Strategy
	if req.Payment != nil {
		pay, err = payment.FromMethod(payment.Method(req.Payment.Method), req.Payment.Account, h.limits)
		if err != nil {
			writeError(w, errorBody{Code: http.StatusBadRequest, Message: err.Error()})
			return
		}
	}

	o, err := h.orderService.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Customer:      customer.Customer{FirstName: req.FirstName, LastName: req.LastName},
		Items:         items,
		DiscountCodes: req.DiscountCodes,
		Payment:       pay,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.Stringer("total", o.Total()),
	)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// ListOrders returns the order history.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListOrders(r.Context())
	if err != nil {
		writeInternal(w, r, errors.Wrap(err, "list orders"))
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, o := range orders {
			encodeOrder(e, o)
		}
		e.ArrEnd()
	})
}

// GetOrder returns a stored order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderService.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// ProcessOrder retries a stored order with the payment from the body.
func (h *Handler) ProcessOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, errorBody{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	p, err := decodeProcessOrder(body)
	if err != nil {
		writeError(w, errorBody{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	var pay payment.Strategy
	if p != nil {
		pay, err = payment.FromMethod(payment.Method(p.Method), p.Account, h.limits)
		if err != nil {
			writeError(w, errorBody{Code: http.StatusBadRequest, Message: err.Error()})
			return
		}
	}

	o, err := h.orderService.ProcessOrder(r.Context(), r.PathValue("id"), pay)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// CancelOrder cancels a completed order and restores its stock.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderService.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// writeOrderError maps domain errors to HTTP status codes.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr  *order.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
		isErr  *order.InsufficientStockError
		pErr   *order.ProcessError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrNoPayment):
		writeError(w, errorBody{Code: http.StatusBadRequest, Message: err.Error()})
	case errors.Is(err, order.ErrNotFound):
		writeError(w, errorBody{Code: http.StatusNotFound, Message: "order not found"})
	case errors.Is(err, order.ErrInvalidStatus):
		writeError(w, errorBody{Code: http.StatusConflict, Message: err.Error()})
	case errors.Is(err, discount.ErrUnknownCode):
		writeError(w, errorBody{Code: http.StatusUnprocessableEntity, Message: err.Error()})
	case errors.As(err, &iqErr), errors.As(err, &pnfErr):
		writeError(w, errorBody{Code: http.StatusUnprocessableEntity, Message: err.Error()})
	case errors.As(err, &isErr):
		writeError(w, errorBody{Code: http.StatusConflict, Message: isErr.Error()})
	case errors.As(err, &pErr):
		writeError(w, errorBody{
			Code:    processStatus(pErr.Reason),
			Message: pErr.Error(),
			OrderID: pErr.OrderID,
			Reason:  string(pErr.Reason),
		})
	default:
		writeInternal(w, r, err)
	}
}

func processStatus(reason order.FailureReason) int {
	switch reason {
	case order.ReasonPaymentDeclined:
		return http.StatusPaymentRequired
	case order.ReasonEmptyOrder:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}
