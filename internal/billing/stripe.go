// Package billing implements payment.Processor on top of Stripe.
package billing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/payment"
)

const instrumentationName = "github.com/xenking/stripe-storefront/internal/billing"

// Credentials is a Stripe secret/publishable key pair.
type Credentials struct {
	SecretKey string
	PublicKey string
}

// Config configures a StripeProcessor.
type Config struct {
	// Default is used for any currency without its own secret key.
	Default Credentials
	// ByCurrency holds optional per-currency accounts.
	ByCurrency map[catalog.Currency]Credentials

	// Backend overrides the Stripe API backend. Nil means the library default.
	Backend        stripe.Backend
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

type account struct {
	creds    Credentials
	sessions *session.Client
	intents  *paymentintent.Client
}

// StripeProcessor creates checkout sessions and payment intents, choosing
// the account by currency. Keys are bound to per-account clients and never
// written to the stripe package globals.
type StripeProcessor struct {
	fallback   *account
	byCurrency map[catalog.Currency]*account

	tracer   trace.Tracer
	requests metric.Int64Counter
}

var _ payment.Processor = (*StripeProcessor)(nil)

// NewStripeProcessor validates cfg and builds one client pair per account.
func NewStripeProcessor(cfg Config) (*StripeProcessor, error) {
	if cfg.Default.SecretKey == "" {
		return nil, errors.New("stripe: default secret key is required")
	}

	backend := cfg.Backend
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	requests, err := mp.Meter(instrumentationName).Int64Counter("shop.payment.requests",
		metric.WithDescription("Payment processor calls by operation and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create requests counter")
	}

	newAccount := func(c Credentials) *account {
		return &account{
			creds:    c,
			sessions: &session.Client{B: backend, Key: c.SecretKey},
			intents:  &paymentintent.Client{B: backend, Key: c.SecretKey},
		}
	}

	p := &StripeProcessor{
		fallback:   newAccount(cfg.Default),
		byCurrency: make(map[catalog.Currency]*account, len(cfg.ByCurrency)),
		tracer:     tp.Tracer(instrumentationName),
		requests:   requests,
	}
	for currency, c := range cfg.ByCurrency {
		if c.SecretKey == "" {
			continue
		}
		if c.PublicKey == "" {
			c.PublicKey = cfg.Default.PublicKey
		}
		p.byCurrency[currency] = newAccount(c)
	}
	return p, nil
}

func (p *StripeProcessor) account(currency catalog.Currency) *account {
	if a, ok := p.byCurrency[currency]; ok {
		return a
	}
	return p.fallback
}

// PublicKey returns the publishable key of the account that serves currency.
func (p *StripeProcessor) PublicKey(currency catalog.Currency) string {
	return p.account(currency).creds.PublicKey
}

// CreateCheckoutSession implements payment.Processor.
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (_ string, rerr error) {
	ctx, span := p.tracer.Start(ctx, "stripe.CreateCheckoutSession",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.currency", string(req.Currency))),
	)
	defer p.finish(ctx, span, "checkout_session", &rerr)

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(req.UnitAmount),
				},
				Quantity: stripe.Int64(req.Quantity),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	s, err := p.account(req.Currency).sessions.New(params)
	if err != nil {
		return "", errors.Wrap(err, "stripe: create checkout session")
	}
	return s.ID, nil
}

// CreatePaymentIntent implements payment.Processor.
func (p *StripeProcessor) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (_ *payment.Intent, rerr error) {
	ctx, span := p.tracer.Start(ctx, "stripe.CreatePaymentIntent",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payment.currency", string(req.Currency)),
			attribute.Int64("payment.amount", req.Amount),
		),
	)
	defer p.finish(ctx, span, "payment_intent", &rerr)

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(string(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := p.account(req.Currency).intents.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "stripe: create payment intent")
	}
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProcessor) finish(ctx context.Context, span trace.Span, op string, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var sErr *stripe.Error
		if errors.As(err, &sErr) {
			span.SetAttributes(attribute.String("stripe.error_code", string(sErr.Code)))
		}
	}
	p.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	span.End()
}
