package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ROLE_RESOLVE_TIMEOUT_MS", "")
	t.Setenv("NOTIF_PROVIDERS", "")
	t.Setenv("REMINDER_LEAD_MINUTES", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.RoleResolveTimeout != 2*time.Second {
		t.Fatalf("expected 2s role timeout, got %v", cfg.RoleResolveTimeout)
	}
	if cfg.ReminderLead != 2*time.Hour {
		t.Fatalf("expected 2h reminder lead, got %v", cfg.ReminderLead)
	}
	if !reflect.DeepEqual(cfg.NotifProviders, []string{"log"}) {
		t.Fatalf("unexpected providers %v", cfg.NotifProviders)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NOTIF_PROVIDERS", " WebPush, mqtt ,,telegram")
	t.Setenv("ROUTER_DEDUP_WINDOW_SECONDS", "30")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("MIGRATIONS", "true")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")

	cfg := Load()
	if !reflect.DeepEqual(cfg.NotifProviders, []string{"webpush", "mqtt", "telegram"}) {
		t.Fatalf("unexpected providers %v", cfg.NotifProviders)
	}
	if cfg.DedupWindow != 30*time.Second {
		t.Fatalf("unexpected dedup window %v", cfg.DedupWindow)
	}
	if cfg.TelegramChatID != -100123 {
		t.Fatalf("unexpected chat id %d", cfg.TelegramChatID)
	}
	if !cfg.Migrations {
		t.Fatalf("expected migrations enabled")
	}
	if cfg.RateLimitBurst != 30 {
		t.Fatalf("invalid value should fall back, got %d", cfg.RateLimitBurst)
	}
}
