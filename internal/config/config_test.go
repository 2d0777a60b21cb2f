package config

import (
	"os"
	"testing"
)

func TestDefault_Values(t *testing.T) {
	c := Default()
	if c == nil {
		t.Fatal("Default() returned nil")
	}
	if c.AdapterADefaultMarketplace != "us" {
		t.Errorf("AdapterADefaultMarketplace = %v, want us", c.AdapterADefaultMarketplace)
	}
	if c.Port != 8080 {
		t.Errorf("Port = %v, want 8080", c.Port)
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %v, want info", c.LogLevel)
	}
	if c.NodeEnv != "development" {
		t.Errorf("NodeEnv = %v, want development", c.NodeEnv)
	}
	if c.AdapterAEnabled() {
		t.Error("AdapterAEnabled() should be false with no credentials")
	}
	if c.AdapterBEnabled() {
		t.Error("AdapterBEnabled() should be false with no key")
	}
	if c.PushEnabled() {
		t.Error("PushEnabled() should be false with no VAPID keys")
	}
	if c.AffiliateEnabled() {
		t.Error("AffiliateEnabled() should be false with no campaign")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "QUEUE_URL", "CHAT_BOT_TOKEN"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	if _, err := Load(); err == nil {
		t.Error("Load() with no required env vars should return config_missing error")
	}
}

func TestLoad_RequiredPresent(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("QUEUE_URL", "redis://localhost:6379/0")
	t.Setenv("CHAT_BOT_TOKEN", "test-token")
	t.Setenv("ADAPTER_A_CLIENT_ID", "cid")
	t.Setenv("ADAPTER_A_CLIENT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.DatabaseURL != "file:test.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if !cfg.AdapterAEnabled() {
		t.Error("AdapterAEnabled() should be true once client id/secret are set")
	}
}
