package config

import "log"

// MustNonEmpty stops the process when a required setting is missing.
func MustNonEmpty(value, envName string) {
	if value == "" {
		log.Fatalf("missing required env %s", envName)
	}
}

func MustNonEmptyBytes(value []byte, envName string) {
	if len(value) == 0 {
		log.Fatalf("missing required env %s", envName)
	}
}

// MustRequired checks the settings the server cannot start without.
func (c Config) MustRequired() {
	MustNonEmpty(c.DatabaseURL, "DATABASE_URL")
	MustNonEmptyBytes(c.JWTAccessSecret, "JWT_SECRET")
	if c.Stripe.Enabled() {
		MustNonEmpty(c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	}
}
