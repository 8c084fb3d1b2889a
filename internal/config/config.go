package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	ServiceName string
	ServerPort  int
	LogLevel    string

	DatabaseURL string

	JWTAccessSecret []byte

	Currency string
	TaxRate  decimal.Decimal

	GatewayTimeout   time.Duration
	PersistRetries   int
	RecoveryInterval time.Duration
	RecoveryMinAge   time.Duration

	Stripe    StripeConfig
	PayPal    PayPalConfig
	Braintree BraintreeConfig

	KafkaBrokers []string
	OrderTopic   string
	AlertTopic   string

	ESURL      string
	ESUser     string
	ESPassword string
	OrderIndex string

	CSRFSecure bool
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

func (c StripeConfig) Enabled() bool { return c.SecretKey != "" }

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIBase      string
}

func (c PayPalConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

type BraintreeConfig struct {
	Environment string
	MerchantID  string
	PublicKey   string
	PrivateKey  string
}

func (c BraintreeConfig) Enabled() bool { return c.PublicKey != "" && c.PrivateKey != "" }

// Endpoint returns the GraphQL endpoint for the configured environment.
func (c BraintreeConfig) Endpoint() string {
	if c.Environment == "production" {
		return "https://payments.braintree-api.com/graphql"
	}
	return "https://payments.sandbox.braintree-api.com/graphql"
}

var defaultTaxRate = decimal.RequireFromString("0.08")

func Load() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("notice: .env file not found: %v. using system environment variables", err)
	}

	taxRate := defaultTaxRate
	if v := os.Getenv("TAX_RATE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			taxRate = d
		} else {
			log.Printf("notice: invalid TAX_RATE %q, using %s", v, defaultTaxRate)
		}
	}

	return Config{
		ServiceName: EnvDefault("SERVICE_NAME", "storefront"),
		ServerPort:  EnvIntDefault("SERVER_PORT", 8080),
		LogLevel:    EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTAccessSecret: []byte(os.Getenv("JWT_SECRET")),

		Currency: EnvDefault("CURRENCY", "USD"),
		TaxRate:  taxRate,

		GatewayTimeout:   EnvDurationDefault("GATEWAY_TIMEOUT", 10*time.Second),
		PersistRetries:   EnvIntDefault("PERSIST_RETRIES", 3),
		RecoveryInterval: EnvDurationDefault("RECOVERY_INTERVAL", time.Minute),
		RecoveryMinAge:   EnvDurationDefault("RECOVERY_MIN_AGE", 0),

		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		PayPal: PayPalConfig{
			ClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
			ClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
			APIBase:      EnvDefault("PAYPAL_API_BASE", "https://api-m.sandbox.paypal.com"),
		},
		Braintree: BraintreeConfig{
			Environment: EnvDefault("BRAINTREE_ENVIRONMENT", "sandbox"),
			MerchantID:  os.Getenv("BRAINTREE_MERCHANT_ID"),
			PublicKey:   os.Getenv("BRAINTREE_PUBLIC_KEY"),
			PrivateKey:  os.Getenv("BRAINTREE_PRIVATE_KEY"),
		},

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
		OrderTopic:   EnvDefault("KAFKA_ORDER_TOPIC", "order_events"),
		AlertTopic:   EnvDefault("KAFKA_ALERT_TOPIC", "checkout_alerts"),

		ESURL:      os.Getenv("ES_URL"),
		ESUser:     os.Getenv("ES_USER"),
		ESPassword: os.Getenv("ES_PASSWORD"),
		OrderIndex: EnvDefault("ES_ORDER_INDEX", "orders"),

		CSRFSecure: EnvBoolDefault("CSRF_SECURE", false),
	}
}
