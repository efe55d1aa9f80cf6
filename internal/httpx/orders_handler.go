package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/coordinator"
	"github.com/ariefcatur/go-order-engine/internal/inventory"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

type OrdersHandler struct {
	Orders  *coordinator.Coordinator
	Catalog inventory.Catalog
	Log     *zap.Logger
	Timeout time.Duration
}

type ctxKey struct{}

type quantityReq struct {
	Quantity int `json:"quantity"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type paidReq struct {
	TransactionID string `json:"transaction_id"`
}

type statusReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type stockResp struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	InStock   bool   `json:"in_stock"`
	Available bool   `json:"available"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(h.identify)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Delete("/", h.deleteOrder)
			r.Post("/items", h.addItem)
			r.Delete("/items", h.clearItems)
			r.Patch("/items/{itemId}", h.updateItem)
			r.Delete("/items/{itemId}", h.removeItem)
			r.Post("/confirm", h.confirm)
			r.Post("/cancel", h.cancel)
			r.Post("/recalculate", h.recalculate)

			r.Group(func(r chi.Router) {
				r.Use(adminOnly)
				r.Post("/paid", h.markPaid)
				r.Post("/payment-failed", h.paymentFailed)
				r.Post("/ship", h.ship)
				r.Post("/deliver", h.deliver)
				r.Put("/status", h.updateStatus)
			})
		})
	})
	r.Get("/variants", h.listVariants)
	r.Get("/variants/{id}/stock", h.variantStock)
}

// identify turns the identity headers set by the gateway into a Caller.
func (h *OrdersHandler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if uid == "" {
			writeMsg(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing "+HeaderUserID)
			return
		}
		c := coordinator.Caller{UserID: uid, Admin: strings.EqualFold(r.Header.Get(HeaderUserRole), roleAdmin)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, c)))
	})
}

func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).Admin {
			writeMsg(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) coordinator.Caller {
	c, _ := r.Context().Value(ctxKey{}).(coordinator.Caller)
	return c
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	t := h.Timeout
	if t <= 0 {
		t = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), t)
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMsg(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json")
		return false
	}
	return true
}

// reply writes a view or maps the workflow error.
func (h *OrdersHandler) reply(w http.ResponseWriter, code int, v orders.View, err error) {
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, code, v)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateOrderInput
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.CreateOrder(ctx, caller(r), req)
	h.reply(w, http.StatusCreated, v, err)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	list, err := h.Orders.ListOrders(ctx, caller(r))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.GetOrder(ctx, caller(r), chi.URLParam(r, "id"))
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	if err := h.Orders.DeleteOrder(ctx, caller(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req coordinator.LineInput
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.AddItem(ctx, caller(r), chi.URLParam(r, "id"), req)
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req quantityReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.UpdateItemQuantity(ctx, caller(r), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), req.Quantity)
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.RemoveItem(ctx, caller(r), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"))
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) clearItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.ClearItems(ctx, caller(r), chi.URLParam(r, "id"))
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.ConfirmOrder(ctx, caller(r), chi.URLParam(r, "id"))
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.CancelOrder(ctx, caller(r), chi.URLParam(r, "id"), req.Reason)
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) recalculate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.RecalculateTotal(ctx, caller(r), chi.URLParam(r, "id"))
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) markPaid(w http.ResponseWriter, r *http.Request) {
	var req paidReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.MarkAsPaid(ctx, chi.URLParam(r, "id"), req.TransactionID)
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) paymentFailed(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.MarkPaymentFailed(ctx, chi.URLParam(r, "id"), req.Reason)
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) ship(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.MarkAsShipped(ctx, chi.URLParam(r, "id"))
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) deliver(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.MarkAsDelivered(ctx, chi.URLParam(r, "id"))
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	v, err := h.Orders.UpdateStatus(ctx, chi.URLParam(r, "id"), orders.Status(strings.ToUpper(req.Status)), req.Note)
	h.reply(w, http.StatusOK, v, err)
}

func (h *OrdersHandler) listVariants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	vs, err := h.Catalog.ListVariants(ctx)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (h *OrdersHandler) variantStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	qty := 1
	if s := r.URL.Query().Get("qty"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeMsg(w, http.StatusBadRequest, "INVALID_ARGUMENT", "qty must be an integer")
			return
		}
		qty = n
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	ok, err := h.Orders.CheckStock(ctx, id, qty)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{
		VariantID: id,
		Quantity:  qty,
		InStock:   ok,
		Available: h.Orders.IsVariantAvailable(ctx, id),
	})
}
