package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// GatewayConfig carries the merchant credentials and endpoints for the
// external card-payment processor, plus the expiry policy for stranded
// redirect-pending intents.
type GatewayConfig struct {
	APIKey        string
	SecretKey     string
	BaseURL       string
	CallbackURL   string
	Currency      string
	Sandbox       bool
	Timeout       time.Duration
	IntentExpiry  time.Duration
	SweepInterval time.Duration
}

// ErrMissingCredentials is fatal at startup: without the merchant secret no
// request can be signed, so there is no point accepting traffic.
var ErrMissingCredentials = errors.New("gateway api key and secret key are required outside sandbox mode")

// LoadGatewayConfig reads the gateway section with defaults. Sandbox mode
// is the default so a fresh checkout runs without real credentials.
func LoadGatewayConfig() (*GatewayConfig, error) {
	viper.SetDefault("gateway.base_url", "https://api.sandbox.paygate.example.com")
	viper.SetDefault("gateway.callback_url", "http://localhost:8080/api/v1/payments/callback")
	viper.SetDefault("gateway.currency", "TRY")
	viper.SetDefault("gateway.sandbox", true)
	viper.SetDefault("gateway.timeout", 20*time.Second)
	viper.SetDefault("gateway.intent_expiry", 30*time.Minute)
	viper.SetDefault("gateway.sweep_interval", 5*time.Minute)

	cfg := &GatewayConfig{
		APIKey:        viper.GetString("gateway.api_key"),
		SecretKey:     viper.GetString("gateway.secret_key"),
		BaseURL:       viper.GetString("gateway.base_url"),
		CallbackURL:   viper.GetString("gateway.callback_url"),
		Currency:      viper.GetString("gateway.currency"),
		Sandbox:       viper.GetBool("gateway.sandbox"),
		Timeout:       viper.GetDuration("gateway.timeout"),
		IntentExpiry:  viper.GetDuration("gateway.intent_expiry"),
		SweepInterval: viper.GetDuration("gateway.sweep_interval"),
	}

	if !cfg.Sandbox && (cfg.APIKey == "" || cfg.SecretKey == "") {
		return nil, ErrMissingCredentials
	}

	return cfg, nil
}
