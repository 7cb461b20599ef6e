package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/orders"
)

var validate = validator.New()

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its status. Persistence details stay in the log.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Code: string(apperr.KindOf(err))}
	if status >= http.StatusInternalServerError {
		apperr.LogError(log, err, "request failed")
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body and runs struct validation on it.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid json: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return orders.ValidationError(err)
	}
	return nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func page(r *http.Request) orders.Page {
	return orders.Page{Number: queryInt(r, "page"), Size: queryInt(r, "size")}
}
