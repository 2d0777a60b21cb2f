// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the settings described in the external-interfaces table:
// required keys are validated at startup, optional keys gate features.
type Config struct {
	DatabaseURL string `mapstructure:"database_url" validate:"required"`
	QueueURL    string `mapstructure:"queue_url" validate:"required"`
	ChatToken   string `mapstructure:"chat_bot_token" validate:"required"`

	AdapterAClientID            string `mapstructure:"adapter_a_client_id"`
	AdapterAClientSecret        string `mapstructure:"adapter_a_client_secret"`
	AdapterADefaultMarketplace string `mapstructure:"adapter_a_default_marketplace"`

	AdapterBKey string `mapstructure:"adapter_b_key"`

	EncyclopediaKey string `mapstructure:"encyclopedia_key"`

	PushPublicKey  string `mapstructure:"push_public_key"`
	PushPrivateKey string `mapstructure:"push_private_key"`
	PushSubject    string `mapstructure:"push_subject"`

	AffiliateCampaign string `mapstructure:"affiliate_campaign"`

	BaseURL  string `mapstructure:"base_url"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	NodeEnv  string `mapstructure:"node_env"`
}

// Default returns a Config with sensible defaults for everything that
// isn't strictly required. Required keys (database_url, queue_url,
// chat_bot_token) are left empty — Load fails fast if they stay that way.
func Default() *Config {
	return &Config{
		AdapterADefaultMarketplace: "us",
		BaseURL:                    "http://localhost:8080",
		Port:                       8080,
		LogLevel:                   "info",
		NodeEnv:                    "development",
	}
}

// AdapterAEnabled reports whether adapter A has the credentials it needs.
func (c *Config) AdapterAEnabled() bool {
	return c.AdapterAClientID != "" && c.AdapterAClientSecret != ""
}

// AdapterBEnabled reports whether adapter B has the credentials it needs.
func (c *Config) AdapterBEnabled() bool {
	return c.AdapterBKey != ""
}

// PushEnabled reports whether the push channel has its VAPID keypair.
func (c *Config) PushEnabled() bool {
	return c.PushPublicKey != "" && c.PushPrivateKey != "" && c.PushSubject != ""
}

// AffiliateEnabled reports whether outbound listing URLs should be rewritten.
func (c *Config) AffiliateEnabled() bool {
	return c.AffiliateCampaign != ""
}

var validate = validator.New()

// Load reads configuration from the environment (and an optional .env
// file in the working directory, via viper's built-in merge), applies
// Default() for anything unset, and validates required keys.
//
// A missing required key is a config_missing error: fatal at startup,
// per the error taxonomy.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.ReadInConfig() // .env is optional; absence is not an error

	cfg := Default()
	for _, key := range []string{
		"database_url", "queue_url", "chat_bot_token",
		"adapter_a_client_id", "adapter_a_client_secret", "adapter_a_default_marketplace",
		"adapter_b_key", "encyclopedia_key",
		"push_public_key", "push_private_key", "push_subject",
		"affiliate_campaign", "base_url", "port", "log_level", "node_env",
	} {
		_ = v.BindEnv(key)
	}

	if s := v.GetString("database_url"); s != "" {
		cfg.DatabaseURL = s
	}
	if s := v.GetString("queue_url"); s != "" {
		cfg.QueueURL = s
	}
	if s := v.GetString("chat_bot_token"); s != "" {
		cfg.ChatToken = s
	}
	if s := v.GetString("adapter_a_client_id"); s != "" {
		cfg.AdapterAClientID = s
	}
	if s := v.GetString("adapter_a_client_secret"); s != "" {
		cfg.AdapterAClientSecret = s
	}
	if s := v.GetString("adapter_a_default_marketplace"); s != "" {
		cfg.AdapterADefaultMarketplace = s
	}
	if s := v.GetString("adapter_b_key"); s != "" {
		cfg.AdapterBKey = s
	}
	if s := v.GetString("encyclopedia_key"); s != "" {
		cfg.EncyclopediaKey = s
	}
	if s := v.GetString("push_public_key"); s != "" {
		cfg.PushPublicKey = s
	}
	if s := v.GetString("push_private_key"); s != "" {
		cfg.PushPrivateKey = s
	}
	if s := v.GetString("push_subject"); s != "" {
		cfg.PushSubject = s
	}
	if s := v.GetString("affiliate_campaign"); s != "" {
		cfg.AffiliateCampaign = s
	}
	if s := v.GetString("base_url"); s != "" {
		cfg.BaseURL = s
	}
	if n := v.GetInt("port"); n != 0 {
		cfg.Port = n
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("node_env"); s != "" {
		cfg.NodeEnv = s
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config_missing: %w", err)
	}
	return cfg, nil
}
