package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/stripe-storefront/db"
	"github.com/xenking/stripe-storefront/internal/domain/auth"
	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/order"
	"github.com/xenking/stripe-storefront/internal/repository"
)

// seedFile mirrors db/seed/catalog.json. Orders reference the other
// entities by name.
type seedFile struct {
	Items     []catalog.Item
	Discounts []catalog.Discount
	Taxes     []catalog.Tax
	Orders    []seedOrder
}

type seedOrder struct {
	Items    []string
	Discount string
	Tax      string
}

func main() {
	var (
		databaseURL string
		catalogFile string
		apiKey      string
		secretKey   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file; the embedded demo catalog when empty")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&secretKey, "secret-key", "", "process secret used to hash API keys (or SHOP_SECRET_KEY env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	databaseURL = firstNonEmpty(databaseURL, os.Getenv("SHOP_DATABASE_URL"), os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	apiKey = firstNonEmpty(apiKey, os.Getenv("SHOP_SEED_API_KEY"))
	secretKey = firstNonEmpty(secretKey, os.Getenv("SHOP_SECRET_KEY"), os.Getenv("SECRET_KEY"))
	if apiKey != "" && secretKey == "" {
		lg.Fatal("Secret key is required to seed an API key: set --secret-key or SHOP_SECRET_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile, apiKey, secretKey); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile, apiKey, secretKey string) error {
	data := db.SeedCatalog
	if catalogFile != "" {
		b, err := os.ReadFile(catalogFile)
		if err != nil {
			return errors.Wrap(err, "read catalog file")
		}
		data = b
	}
	seed, err := decodeSeed(data)
	if err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool, lg); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	s := &seeder{
		lg:        lg,
		items:     repository.NewItemRepository(pool),
		discounts: repository.NewDiscountRepository(pool),
		taxes:     repository.NewTaxRepository(pool),
		orders:    repository.NewOrderRepository(pool),
	}
	if err := s.seed(ctx, seed); err != nil {
		return err
	}

	if apiKey != "" {
		keys := repository.NewAPIKeyRepository(pool)
		if err := keys.Save(ctx, &auth.APIKeyInfo{
			ID:      uuid.NewString(),
			KeyHash: auth.HashKey([]byte(secretKey), apiKey),
			Name:    "Default admin key",
			Scopes:  []string{"admin"},
		}); err != nil {
			return errors.Wrap(err, "seed api key")
		}
		lg.Info("Upserted API key")
	}
	return nil
}

type seeder struct {
	lg        *zap.Logger
	items     *repository.ItemRepository
	discounts *repository.DiscountRepository
	taxes     *repository.TaxRepository
	orders    *repository.OrderRepository
}

// seed creates whatever is missing by name, so it can run repeatedly.
// Orders are only created on an empty orders table.
func (s *seeder) seed(ctx context.Context, f *seedFile) error {
	existingItems, err := s.items.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list items")
	}
	itemIDs := map[string]int64{}
	for _, item := range existingItems {
		itemIDs[item.Name] = item.ID
	}
	for _, item := range f.Items {
		if _, ok := itemIDs[item.Name]; ok {
			continue
		}
		if err := s.items.Create(ctx, &item); err != nil {
			return errors.Wrapf(err, "create item %q", item.Name)
		}
		itemIDs[item.Name] = item.ID
		s.lg.Info("Created item", zap.Int64("id", item.ID), zap.String("name", item.Name))
	}

	existingDiscounts, err := s.discounts.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list discounts")
	}
	discountIDs := map[string]int64{}
	for _, d := range existingDiscounts {
		discountIDs[d.Name] = d.ID
	}
	for _, d := range f.Discounts {
		if _, ok := discountIDs[d.Name]; ok {
			continue
		}
		if err := s.discounts.Create(ctx, &d); err != nil {
			return errors.Wrapf(err, "create discount %q", d.Name)
		}
		discountIDs[d.Name] = d.ID
		s.lg.Info("Created discount", zap.Int64("id", d.ID), zap.String("name", d.Name))
	}

	existingTaxes, err := s.taxes.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list taxes")
	}
	taxIDs := map[string]int64{}
	for _, t := range existingTaxes {
		taxIDs[t.Name] = t.ID
	}
	for _, t := range f.Taxes {
		if _, ok := taxIDs[t.Name]; ok {
			continue
		}
		if err := s.taxes.Create(ctx, &t); err != nil {
			return errors.Wrapf(err, "create tax %q", t.Name)
		}
		taxIDs[t.Name] = t.ID
		s.lg.Info("Created tax", zap.Int64("id", t.ID), zap.String("name", t.Name))
	}

	existingOrders, err := s.orders.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list orders")
	}
	if len(existingOrders) > 0 {
		s.lg.Info("Orders already present, skipping", zap.Int("count", len(existingOrders)))
		return nil
	}

	svc := order.NewService(s.orders, s.items, s.discounts, s.taxes)
	for i, o := range f.Orders {
		draft, err := o.draft(itemIDs, discountIDs, taxIDs)
		if err != nil {
			return errors.Wrapf(err, "order %d", i)
		}
		created, err := svc.Create(ctx, draft)
		if err != nil {
			return errors.Wrapf(err, "create order %d", i)
		}
		s.lg.Info("Created order",
			zap.Int64("id", created.ID),
			zap.String("currency", string(created.Currency)),
			zap.String("total", created.TotalPrice().StringFixed(2)),
		)
	}
	return nil
}

func (o seedOrder) draft(items, discounts, taxes map[string]int64) (order.Draft, error) {
	var draft order.Draft
	for _, name := range o.Items {
		id, ok := items[name]
		if !ok {
			return draft, errors.Errorf("unknown item %q", name)
		}
		draft.ItemIDs = append(draft.ItemIDs, id)
	}
	if o.Discount != "" {
		id, ok := discounts[o.Discount]
		if !ok {
			return draft, errors.Errorf("unknown discount %q", o.Discount)
		}
		draft.DiscountID = &id
	}
	if o.Tax != "" {
		id, ok := taxes[o.Tax]
		if !ok {
			return draft, errors.Errorf("unknown tax %q", o.Tax)
		}
		draft.TaxID = &id
	}
	return draft, nil
}

func decodeSeed(data []byte) (*seedFile, error) {
	var f seedFile
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item catalog.Item
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "name":
						item.Name, err = d.Str()
					case "description":
						item.Description, err = d.Str()
					case "price":
						item.Price, err = decodeDecimal(d)
					case "currency":
						var s string
						s, err = d.Str()
						item.Currency = catalog.Currency(s)
					default:
						err = d.Skip()
					}
					return err
				})
				f.Items = append(f.Items, item)
				return err
			})
		case "discounts":
			return d.Arr(func(d *jx.Decoder) error {
				var v catalog.Discount
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "name":
						v.Name, err = d.Str()
					case "percent_off":
						v.PercentOff, err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				})
				f.Discounts = append(f.Discounts, v)
				return err
			})
		case "taxes":
			return d.Arr(func(d *jx.Decoder) error {
				var v catalog.Tax
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "name":
						v.Name, err = d.Str()
					case "percentage":
						v.Percentage, err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				})
				f.Taxes = append(f.Taxes, v)
				return err
			})
		case "orders":
			return d.Arr(func(d *jx.Decoder) error {
				var o seedOrder
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "items":
						err = d.Arr(func(d *jx.Decoder) error {
							name, err := d.Str()
							o.Items = append(o.Items, name)
							return err
						})
					case "discount":
						o.Discount, err = d.Str()
					case "tax":
						o.Tax, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				})
				f.Orders = append(f.Orders, o)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}
