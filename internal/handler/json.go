package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/stripe-storefront/internal/domain/auth"
	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/order"
	"github.com/xenking/stripe-storefront/internal/domain/payment"
)

var errNotFoundRoute = errors.Wrap(catalog.ErrNotFound, "route")

// decodeError marks a malformed request body.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode request: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

// writeError maps domain errors to status codes. Internal messages are only
// exposed in debug mode.
func writeError(w http.ResponseWriter, r *http.Request, debug bool, err error) {
	var (
		code  = http.StatusInternalServerError
		msg   = err.Error()
		field string

		validationErr *catalog.ValidationError
		remoteErr     *payment.RemoteServiceError
		decodeErr     *decodeError
	)
	switch {
	case errors.As(err, &validationErr):
		code = http.StatusUnprocessableEntity
		msg = validationErr.Err.Error()
		field = validationErr.Field
	case errors.Is(err, catalog.ErrNotFound):
		code = http.StatusNotFound
	case errors.As(err, &decodeErr):
		code = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		code = http.StatusUnauthorized
		msg = "unauthorized"
	case errors.As(err, &remoteErr):
		code = http.StatusBadGateway
		if !debug {
			msg = "payment processor unavailable"
		}
	}

	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		if code == http.StatusInternalServerError && !debug {
			msg = http.StatusText(code)
		}
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		if field != "" {
			e.Field("field", func(e *jx.Encoder) { e.Str(field) })
		}
	})
	writeJSON(w, code, &e)
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeOptionalID(e *jx.Encoder, id *int64) {
	if id == nil {
		e.Null()
		return
	}
	e.Int64(*id)
}

func encodeItem(e *jx.Encoder, item catalog.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(item.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(item.Description) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, item.Price) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(string(item.Currency)) })
	})
}

func encodeDiscount(e *jx.Encoder, d catalog.Discount) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(d.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(d.Name) })
		e.Field("percent_off", func(e *jx.Encoder) { encodeMoney(e, d.PercentOff) })
	})
}

func encodeTax(e *jx.Encoder, t catalog.Tax) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(t.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(t.Name) })
		e.Field("percentage", func(e *jx.Encoder) { encodeMoney(e, t.Percentage) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Details) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("item_ids", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range o.ItemIDs {
					e.Int64(id)
				}
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					encodeItem(e, item)
				}
			})
		})
		e.Field("discount_id", func(e *jx.Encoder) { encodeOptionalID(e, o.DiscountID) })
		e.Field("tax_id", func(e *jx.Encoder) { encodeOptionalID(e, o.TaxID) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(string(o.Currency)) })
		e.Field("total_price", func(e *jx.Encoder) { encodeMoney(e, o.TotalPrice()) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

// decodeBody runs fn for every top-level field of a JSON object body.
func decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(r.Body, 4096)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
}

func decodeOptionalID(d *jx.Decoder) (*int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	id, err := d.Int64()
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func decodeItem(r *http.Request) (catalog.Item, error) {
	var item catalog.Item
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			item.Name, err = d.Str()
		case "description":
			item.Description, err = d.Str()
		case "price":
			item.Price, err = decodeDecimal(d)
		case "currency":
			var s string
			if s, err = d.Str(); err == nil {
				c, ok := catalog.ParseCurrency(s)
				if !ok {
					c = catalog.Currency(s)
				}
				item.Currency = c
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if item.Currency == "" {
		item.Currency = catalog.DefaultCurrency
	}
	return item, err
}

func decodeDiscount(r *http.Request) (catalog.Discount, error) {
	var v catalog.Discount
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			v.Name, err = d.Str()
		case "percent_off":
			v.PercentOff, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return v, err
}

func decodeTax(r *http.Request) (catalog.Tax, error) {
	var v catalog.Tax
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			v.Name, err = d.Str()
		case "percentage":
			v.Percentage, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return v, err
}

func decodeItemIDs(d *jx.Decoder) ([]int64, error) {
	ids := []int64{}
	err := d.Arr(func(d *jx.Decoder) error {
		id, err := d.Int64()
		ids = append(ids, id)
		return err
	})
	return ids, err
}

func decodeDraft(r *http.Request) (order.Draft, error) {
	var draft order.Draft
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "item_ids":
			draft.ItemIDs, err = decodeItemIDs(d)
		case "discount_id":
			draft.DiscountID, err = decodeOptionalID(d)
		case "tax_id":
			draft.TaxID, err = decodeOptionalID(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return draft, err
}

// pathID parses the {id} URL parameter. Ids that cannot exist are reported
// as not found.
func pathID(r *http.Request, entity string) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(catalog.ErrNotFound, "%s %q", entity, raw)
	}
	return id, nil
}
