package app

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/stripe-storefront/internal/billing"
	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

const defaultAddr = "0.0.0.0:8000"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string   `default:"0.0.0.0:8000" usage:"HTTP listen address"`
	SecretKey    string   `usage:"Process secret, also the HMAC pepper for admin API keys (SHOP_SECRET_KEY or SECRET_KEY)" flag:"secret-key"`
	Debug        bool     `default:"false" usage:"Expose internal error messages in responses"`
	AllowedHosts []string `default:"127.0.0.1,0.0.0.0,localhost" usage:"Host names the server answers to; * allows any" flag:"allowed-hosts"`
	Database     DatabaseConfig
	Stripe       StripeConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// DatabaseConfig is either a full URL or its parts.
type DatabaseConfig struct {
	URL      string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Host     string `usage:"PostgreSQL host, used when no URL is set"`
	Port     int    `default:"5432" usage:"PostgreSQL port"`
	Name     string `usage:"Database name"`
	User     string `usage:"Database user"`
	Password string `usage:"Database password"`
	SSLMode  string `default:"disable" usage:"PostgreSQL sslmode" flag:"database-sslmode"`
}

// StripeKeys is a secret/publishable key pair.
type StripeKeys struct {
	SecretKey string `usage:"Stripe secret key"`
	PublicKey string `usage:"Stripe publishable key"`
}

// StripeConfig holds the default account and the optional per-currency ones.
type StripeConfig struct {
	SecretKey  string `usage:"Default Stripe secret key (STRIPE_SECRET_KEY)" flag:"stripe-secret-key"`
	PublicKey  string `usage:"Default Stripe publishable key (STRIPE_PUBLIC_KEY)" flag:"stripe-public-key"`
	USD        StripeKeys
	EUR        StripeKeys
	SuccessURL string `default:"http://localhost:8000/success/" usage:"Checkout success redirect" flag:"stripe-success-url"`
	CancelURL  string `default:"http://localhost:8000/cancel/" usage:"Checkout cancel redirect" flag:"stripe-cancel-url"`
}

// RateLimitConfig controls the per-client limiter on the payment routes.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max payment requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then fills gaps from the legacy variable names.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	}, os.LookupEnv)
}

func loadConfig(acfg aconfig.Config, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyLegacyEnv(lookup)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv maps the unprefixed variable names used by earlier
// deployments and hosting platforms onto empty settings.
func (c *Config) applyLegacyEnv(lookup func(string) (string, bool)) {
	fill := func(dst *string, name string) {
		if *dst != "" {
			return
		}
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	fill(&c.SecretKey, "SECRET_KEY")
	fill(&c.Database.URL, "DATABASE_URL")
	fill(&c.Database.Host, "DB_HOST")
	fill(&c.Database.Name, "DB_NAME")
	fill(&c.Database.User, "DB_USER")
	fill(&c.Database.Password, "DB_PASSWORD")
	fill(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	fill(&c.Stripe.PublicKey, "STRIPE_PUBLIC_KEY")
	fill(&c.Stripe.USD.SecretKey, "STRIPE_USD_SECRET")
	fill(&c.Stripe.USD.PublicKey, "STRIPE_USD_PUBLIC")
	fill(&c.Stripe.EUR.SecretKey, "STRIPE_EUR_SECRET")
	fill(&c.Stripe.EUR.PublicKey, "STRIPE_EUR_PUBLIC")

	if v, ok := lookup("DB_PORT"); ok && c.Database.Port == 5432 {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v, ok := lookup("DEBUG"); ok && !c.Debug {
		c.Debug, _ = strconv.ParseBool(v)
	}
	if port, ok := lookup("PORT"); ok && port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if c.SecretKey == "" {
		return errors.New("secret key is required: set SHOP_SECRET_KEY or SECRET_KEY")
	}
	if c.Stripe.SecretKey == "" {
		return errors.New("stripe secret key is required: set SHOP_STRIPE_SECRET_KEY or STRIPE_SECRET_KEY")
	}
	if _, err := c.Database.DSN(); err != nil {
		return err
	}
	if c.RateLimit.Max < 1 {
		return errors.Errorf("rate limit max must be at least 1, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window <= 0 {
		return errors.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	return nil
}

// DSN returns the connection URL, building it from parts when no URL is set.
func (d DatabaseConfig) DSN() (string, error) {
	if d.URL != "" {
		return d.URL, nil
	}
	if d.Host == "" || d.Name == "" {
		return "", errors.New("database is required: set SHOP_DATABASE_URL, DATABASE_URL or DB_HOST and DB_NAME")
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	switch {
	case d.User != "" && d.Password != "":
		u.User = url.UserPassword(d.User, d.Password)
	case d.User != "":
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {strings.ToLower(d.SSLMode)}}.Encode()
	}
	return u.String(), nil
}

// Billing converts the Stripe settings into processor credentials.
func (s StripeConfig) Billing() billing.Config {
	return billing.Config{
		Default: billing.Credentials{SecretKey: s.SecretKey, PublicKey: s.PublicKey},
		ByCurrency: map[catalog.Currency]billing.Credentials{
			catalog.USD: {SecretKey: s.USD.SecretKey, PublicKey: s.USD.PublicKey},
			catalog.EUR: {SecretKey: s.EUR.SecretKey, PublicKey: s.EUR.PublicKey},
		},
	}
}
