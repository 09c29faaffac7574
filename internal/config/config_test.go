package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")
	t.Setenv("MANAGER_PIN_HASH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" || cfg.ManagerPINHash != "" {
		t.Fatalf("expected no manager PIN when unset, got %q / %q", cfg.ManagerPIN, cfg.ManagerPINHash)
	}
}

func TestLoadPaymentDefaultsAndClamp(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", " Midtrans ")
	t.Setenv("PAYMENT_TIMEOUT", "30s")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Payment.Provider != "midtrans" {
		t.Fatalf("expected provider midtrans, got %q", cfg.Payment.Provider)
	}
	if cfg.Payment.Timeout != 10*time.Second {
		t.Fatalf("expected timeout clamped to 10s, got %s", cfg.Payment.Timeout)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("expected UTC location, got %v", cfg.Location)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected default address :8080, got %s", cfg.Address())
	}
}

func TestClampTimeout(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                8 * time.Second,
		time.Second:      5 * time.Second,
		7 * time.Second:  7 * time.Second,
		time.Minute:      10 * time.Second,
		-3 * time.Second: 8 * time.Second,
	}
	for in, want := range cases {
		if got := clampTimeout(in); got != want {
			t.Fatalf("clampTimeout(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("BUSINESS_TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
