// Package handler serves the storefront pages, the payment endpoints and
// the admin JSON API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/stripe-storefront/internal/domain/auth"
	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/order"
	"github.com/xenking/stripe-storefront/internal/domain/payment"
	"github.com/xenking/stripe-storefront/pkg/httpmiddleware"
)

// OrderService is the order aggregate's write and read boundary.
type OrderService interface {
	List(ctx context.Context) ([]order.Details, error)
	Get(ctx context.Context, id int64) (*order.Details, error)
	Create(ctx context.Context, draft order.Draft) (*order.Details, error)
	Update(ctx context.Context, id int64, draft order.Draft) (*order.Details, error)
	Delete(ctx context.Context, id int64) error
	ValidateItems(ctx context.Context, itemIDs []int64) ([]catalog.Item, catalog.Currency, error)
	CheckItemCurrency(ctx context.Context, itemID int64, currency catalog.Currency) error
}

// PaymentService opens payment sessions.
type PaymentService interface {
	CreateItemCheckout(ctx context.Context, itemID int64) (string, error)
	CreateOrderPayment(ctx context.Context, orderID int64) (*payment.OrderPayment, error)
}

// Authenticator validates admin API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Debug exposes internal error messages in 500 responses.
	Debug bool
	// PublicKey returns the publishable Stripe key for a currency.
	PublicKey func(catalog.Currency) string
}

// Handler holds the dependencies of every route.
type Handler struct {
	items     catalog.ItemRepository
	discounts catalog.DiscountRepository
	taxes     catalog.TaxRepository
	orders    OrderService
	payments  PaymentService
	keys      Authenticator

	debug     bool
	publicKey func(catalog.Currency) string
	pages     *pages
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	items catalog.ItemRepository,
	discounts catalog.DiscountRepository,
	taxes catalog.TaxRepository,
	orders OrderService,
	payments PaymentService,
	keys Authenticator,
) *Handler {
	publicKey := cfg.PublicKey
	if publicKey == nil {
		publicKey = func(catalog.Currency) string { return "" }
	}
	return &Handler{
		items:     items,
		discounts: discounts,
		taxes:     taxes,
		orders:    orders,
		payments:  payments,
		keys:      keys,
		debug:     cfg.Debug,
		publicKey: publicKey,
		pages:     mustParsePages(),
	}
}

// RouterConfig holds what the router needs beyond the Handler.
type RouterConfig struct {
	// Middlewares run inside the router, so they can see the matched route.
	Middlewares []httpmiddleware.Middleware
	// BuyLimit guards the payment endpoints. Nil disables it.
	BuyLimit httpmiddleware.Middleware
	Live     http.HandlerFunc
	Ready    http.HandlerFunc
}

// Router mounts every route on a chi router.
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	for _, m := range cfg.Middlewares {
		r.Use(m)
	}
	r.NotFound(h.notFoundPage)

	if cfg.Live != nil {
		r.Get("/livez", cfg.Live)
	}
	if cfg.Ready != nil {
		r.Get("/readyz", cfg.Ready)
	}

	r.Get("/item/{id}/", h.ItemPage)
	r.Get("/order/{id}/", h.OrderPage)
	r.Get("/success/", h.SuccessPage)
	r.Get("/cancel/", h.CancelPage)

	r.Group(func(r chi.Router) {
		if cfg.BuyLimit != nil {
			r.Use(cfg.BuyLimit)
		}
		r.Get("/buy/{id}/", h.BuyItem)
		r.Get("/buy/order/{id}/", h.BuyOrder)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, h.debug, errNotFoundRoute)
		})

		r.Get("/items", h.ListItems)
		r.Post("/items", h.CreateItem)
		r.Get("/items/{id}", h.GetItem)
		r.Put("/items/{id}", h.UpdateItem)
		r.Delete("/items/{id}", h.DeleteItem)

		r.Get("/discounts", h.ListDiscounts)
		r.Post("/discounts", h.CreateDiscount)
		r.Get("/discounts/{id}", h.GetDiscount)
		r.Put("/discounts/{id}", h.UpdateDiscount)
		r.Delete("/discounts/{id}", h.DeleteDiscount)

		r.Get("/taxes", h.ListTaxes)
		r.Post("/taxes", h.CreateTax)
		r.Get("/taxes/{id}", h.GetTax)
		r.Put("/taxes/{id}", h.UpdateTax)
		r.Delete("/taxes/{id}", h.DeleteTax)

		r.Get("/orders", h.ListOrders)
		r.Post("/orders", h.CreateOrder)
		r.Post("/orders/validate", h.ValidateOrderItems)
		r.Get("/orders/{id}", h.GetOrder)
		r.Put("/orders/{id}", h.UpdateOrder)
		r.Delete("/orders/{id}", h.DeleteOrder)
	})
	return r
}
