package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"go.uber.org/zap"
)

type errorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CurrentStatus string `json:"current_status,omitempty"`
	TargetStatus  string `json:"target_status,omitempty"`
	Operation     string `json:"operation,omitempty"`
	VariantID     string `json:"variant_id,omitempty"`
	Requested     int    `json:"requested,omitempty"`
	Available     *int   `json:"available,omitempty"`
}

var kindCodes = []struct {
	kind error
	code int
	name string
}{
	{orders.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{orders.ErrOutOfStock, http.StatusConflict, "OUT_OF_STOCK"},
	{orders.ErrVariantUnavailable, http.StatusConflict, "VARIANT_UNAVAILABLE"},
	{orders.ErrOrderNotModifiable, http.StatusConflict, "ORDER_NOT_MODIFIABLE"},
	{orders.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{orders.ErrEmptyOrder, http.StatusConflict, "EMPTY_ORDER"},
	{orders.ErrConflict, http.StatusConflict, "CONFLICT"},
	{orders.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{orders.ErrOwnershipMismatch, http.StatusForbidden, "FORBIDDEN"},
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, code int, name, msg string) {
	writeJSON(w, code, errorBody{Error: name, Message: msg})
}

// writeError renders a workflow error. Untyped errors are internal and their
// text stays in the log.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	e, ok := orders.AsError(err)
	if !ok {
		log.Error("internal error", zap.Error(err))
		writeMsg(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	code, name := http.StatusInternalServerError, "INTERNAL"
	for _, kc := range kindCodes {
		if errors.Is(e.Kind, kc.kind) {
			code, name = kc.code, kc.name
			break
		}
	}
	body := errorBody{
		Error:         name,
		Message:       e.Error(),
		CurrentStatus: string(e.Current),
		TargetStatus:  string(e.Target),
		Operation:     e.Op,
		VariantID:     e.VariantID,
	}
	if e.Kind == orders.ErrOutOfStock {
		body.Requested = e.Requested
		body.Available = &e.Available
	}
	writeJSON(w, code, body)
}
