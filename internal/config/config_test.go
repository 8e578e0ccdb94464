package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("expected default sweep interval 1m, got %s", cfg.SweepInterval)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected default cache TTL 30s, got %s", cfg.CacheTTL)
	}
	if cfg.SignupBonus != 100 || cfg.DailyBonus != 20 || cfg.ReferralBonus != 50 {
		t.Errorf("unexpected bonus defaults: %d/%d/%d", cfg.SignupBonus, cfg.DailyBonus, cfg.ReferralBonus)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("expected addr :8080, got %s", cfg.Addr())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("DAILY_BONUS", "35")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.SweepInterval != 15*time.Second {
		t.Errorf("expected sweep interval 15s, got %s", cfg.SweepInterval)
	}
	if cfg.DailyBonus != 35 {
		t.Errorf("expected daily bonus 35, got %d", cfg.DailyBonus)
	}
}
