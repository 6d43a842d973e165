package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.keys.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, h.debug, err)
			return
		}
		ctx := zctx.With(r.Context(), zap.String("api_key", info.Name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) writeCreated(w http.ResponseWriter, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) writeOK(w http.ResponseWriter, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	writeJSON(w, http.StatusOK, &e)
}

// Items.

// ListItems returns every catalog item.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context())
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, item := range items {
				encodeItem(e, item)
			}
		})
	})
}

// GetItem returns one item.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "item")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	item, err := h.items.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeItem(e, *item) })
}

// CreateItem validates and stores a new item.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	item, err := decodeItem(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	if err := h.items.Create(r.Context(), &item); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeCreated(w, func(e *jx.Encoder) { encodeItem(e, item) })
}

// UpdateItem replaces an item. A currency change that would mix currencies
// inside an existing order is rejected with 422.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "item")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	item, err := decodeItem(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	item.ID = id
	if err := h.orders.CheckItemCurrency(r.Context(), id, item.Currency); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	if err := h.items.Update(r.Context(), &item); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeItem(e, item) })
}

// DeleteItem removes an item and its order memberships.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "item", h.items.Delete)
}

// Discounts.

// ListDiscounts returns every discount.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.discounts.List(r.Context())
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, d := range discounts {
				encodeDiscount(e, d)
			}
		})
	})
}

// GetDiscount returns one discount.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "discount")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	d, err := h.discounts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeDiscount(e, *d) })
}

// CreateDiscount validates and stores a new discount.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := decodeDiscount(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	if err := h.discounts.Create(r.Context(), &d); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeCreated(w, func(e *jx.Encoder) { encodeDiscount(e, d) })
}

// UpdateDiscount replaces a discount.
func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "discount")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	d, err := decodeDiscount(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	d.ID = id
	if err := h.discounts.Update(r.Context(), &d); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeDiscount(e, d) })
}

// DeleteDiscount removes a discount; orders that used it keep none.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "discount", h.discounts.Delete)
}

// Taxes.

// ListTaxes returns every tax.
func (h *Handler) ListTaxes(w http.ResponseWriter, r *http.Request) {
	taxes, err := h.taxes.List(r.Context())
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, t := range taxes {
				encodeTax(e, t)
			}
		})
	})
}

// GetTax returns one tax.
func (h *Handler) GetTax(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tax")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	t, err := h.taxes.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeTax(e, *t) })
}

// CreateTax validates and stores a new tax.
func (h *Handler) CreateTax(w http.ResponseWriter, r *http.Request) {
	t, err := decodeTax(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	if err := h.taxes.Create(r.Context(), &t); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeCreated(w, func(e *jx.Encoder) { encodeTax(e, t) })
}

// UpdateTax replaces a tax.
func (h *Handler) UpdateTax(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tax")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	t, err := decodeTax(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	t.ID = id
	if err := h.taxes.Update(r.Context(), &t); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeTax(e, t) })
}

// DeleteTax removes a tax; orders that used it become untaxed.
func (h *Handler) DeleteTax(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "tax", h.taxes.Delete)
}

// Orders.

// ListOrders returns every order with its derived total.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

// GetOrder returns one order with its derived total.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "order")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// CreateOrder stores an order built from a draft.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	draft, err := decodeDraft(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	o, err := h.orders.Create(r.Context(), draft)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	zctx.From(r.Context()).Info("Order created",
		zap.Int64("order_id", o.ID),
		zap.String("currency", string(o.Currency)),
	)
	h.writeCreated(w, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrder replaces an order's items and references. The item set is
// checked before anything is written, so a mixed-currency edit is rejected
// with the order left as it was.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "order")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	draft, err := decodeDraft(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	if _, _, err := h.orders.ValidateItems(r.Context(), draft.ItemIDs); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	o, err := h.orders.Update(r.Context(), id, draft)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// DeleteOrder removes an order.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "order", h.orders.Delete)
}

// ValidateOrderItems reports the currency an order with the given items
// would have, or why the set is rejected.
func (h *Handler) ValidateOrderItems(w http.ResponseWriter, r *http.Request) {
	draft, err := decodeDraft(r)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	items, currency, err := h.orders.ValidateItems(r.Context(), draft.ItemIDs)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	h.writeOK(w, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("currency", func(e *jx.Encoder) { e.Str(string(currency)) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, item := range items {
						encodeItem(e, item)
					}
				})
			})
		})
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, entity string, del func(ctx context.Context, id int64) error) {
	id, err := pathID(r, entity)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	if err := del(r.Context(), id); err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
