package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

// BuyItem creates a checkout session for a single item.
func (h *Handler) BuyItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "item")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	sessionID, err := h.payments.CreateItemCheckout(r.Context(), id)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("session_id", func(e *jx.Encoder) { e.Str(sessionID) })
	})
	writeJSON(w, http.StatusOK, &e)
}

// BuyOrder creates a payment intent for the order total.
func (h *Handler) BuyOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "order")
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}
	p, err := h.payments.CreateOrderPayment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.debug, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("client_secret", func(e *jx.Encoder) { e.Str(p.ClientSecret) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(string(p.Currency)) })
	})
	writeJSON(w, http.StatusOK, &e)
}

type itemPage struct {
	Item      catalog.Item
	Price     string
	Currency  string
	PublicKey string
	BuyURL    string
}

// ItemPage renders the item detail page.
func (h *Handler) ItemPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "item")
	if err != nil {
		h.pageError(w, r, err)
		return
	}
	item, err := h.items.GetByID(r.Context(), id)
	if err != nil {
		h.pageError(w, r, err)
		return
	}
	currency := item.Currency
	if currency == "" {
		currency = catalog.DefaultCurrency
	}

	h.pages.render(w, r, http.StatusOK, pageItem, itemPage{
		Item:      *item,
		Price:     item.Price.StringFixed(2),
		Currency:  currencySymbol(currency),
		PublicKey: h.publicKey(currency),
		BuyURL:    fmt.Sprintf("/buy/%d/", item.ID),
	})
}

type orderLine struct {
	Name  string
	Price string
}

type orderPage struct {
	Order      struct{ ID int64 }
	Items      []orderLine
	Discount   string
	Tax        string
	Total      string
	Currency   string
	PublicKey  string
	BuyURL     string
	SuccessURL string
	CancelURL  string
}

// OrderPage renders the order detail page with its derived total.
func (h *Handler) OrderPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "order")
	if err != nil {
		h.pageError(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.pageError(w, r, err)
		return
	}

	data := orderPage{
		Total:      o.TotalPrice().StringFixed(2),
		Currency:   currencySymbol(o.Currency),
		PublicKey:  h.publicKey(o.Currency),
		BuyURL:     fmt.Sprintf("/buy/order/%d/", o.ID),
		SuccessURL: "/success/",
		CancelURL:  "/cancel/",
	}
	data.Order.ID = o.ID
	for _, item := range o.Items {
		data.Items = append(data.Items, orderLine{Name: item.Name, Price: item.Price.StringFixed(2)})
	}
	if o.Discount != nil {
		data.Discount = fmt.Sprintf("%s (%s%%)", o.Discount.Name, o.Discount.PercentOff.String())
	}
	if o.Tax != nil {
		data.Tax = fmt.Sprintf("%s (%s%%)", o.Tax.Name, o.Tax.Percentage.String())
	}
	h.pages.render(w, r, http.StatusOK, pageOrder, data)
}

// SuccessPage is where the processor redirects after a completed payment.
func (h *Handler) SuccessPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, pageSuccess, nil)
}

// CancelPage is where the processor redirects after an abandoned payment.
func (h *Handler) CancelPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, pageCancel, nil)
}

func (h *Handler) notFoundPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusNotFound, pageNotFound, "The page you requested does not exist.")
}

func (h *Handler) pageError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		h.pages.render(w, r, http.StatusNotFound, pageNotFound, err.Error())
		return
	}
	zctx.From(r.Context()).Error("Page failed", zap.Error(err))
	msg := "Please try again later."
	if h.debug {
		msg = err.Error()
	}
	h.pages.render(w, r, http.StatusInternalServerError, pageError, msg)
}

func currencySymbol(c catalog.Currency) string {
	return strings.ToUpper(string(c))
}
