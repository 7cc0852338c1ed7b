package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createCustomerReq struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// createCustomer is find-or-create by email, so retries are harmless.
func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerReq
	if !decode(r, &req) {
		badJSON(w)
		return
	}
	c, err := h.Customers.FindOrCreateByEmail(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customerView{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone})
}

func (h *Handler) customerOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.CustomerOrders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]orderView, 0, len(list))
	for i := range list {
		out = append(out, toOrderView(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

