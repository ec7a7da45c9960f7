package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_ID", "12345")
	t.Setenv("API_HASH", "abcdef0123456789")
	t.Setenv("BOT_TOKEN", "123456:test-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.APIID != 12345 {
		t.Errorf("expected API ID 12345, got %d", cfg.Telegram.APIID)
	}
	if cfg.Telegram.DeviceType != "random" {
		t.Errorf("expected random device type, got %s", cfg.Telegram.DeviceType)
	}
	if cfg.Mongo.URI != "mongodb://localhost:27017" || cfg.Mongo.Database != "otpbot" {
		t.Errorf("unexpected mongo defaults: %+v", cfg.Mongo)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no kafka brokers by default, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Sessions.TempMaxAge != 24*time.Hour {
		t.Errorf("expected 24h temp max age, got %s", cfg.Sessions.TempMaxAge)
	}
	if cfg.Sessions.SweepInterval != 5*time.Minute {
		t.Errorf("expected 5m sweep interval, got %s", cfg.Sessions.SweepInterval)
	}
	if cfg.Withdrawal.MinLeaderCard != 2 || cfg.Withdrawal.MinBinance != 5 {
		t.Errorf("unexpected withdrawal minimums: %+v", cfg.Withdrawal)
	}
	if cfg.Service.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Service.Port)
	}
}

func TestLoadRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"missing api id", "API_ID", "API_ID is required"},
		{"missing api hash", "API_HASH", "API_HASH is required"},
		{"missing bot token", "BOT_TOKEN", "BOT_TOKEN is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadParsesLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ADMIN_IDS", "100, 200,300")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("PROXY_LIST", "1.2.3.4:1080:user:pass")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Telegram.AdminIDs) != 3 || cfg.Telegram.AdminIDs[1] != 200 {
		t.Errorf("unexpected admin IDs: %v", cfg.Telegram.AdminIDs)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Telegram.ProxyList) != 1 {
		t.Errorf("unexpected proxy list: %v", cfg.Telegram.ProxyList)
	}
}

func TestLoadInvalidAdminIDs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ADMIN_IDS", "100,not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed admin ID")
	}
}

func TestLoadInvalidDeviceType(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEVICE_TYPE", "blackberry")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DEVICE_TYPE") {
		t.Fatalf("expected device type error, got %v", err)
	}
}

func TestLoadInvalidProxyEntry(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROXY_LIST", "1.2.3.4:1080")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "proxy") {
		t.Fatalf("expected proxy entry error, got %v", err)
	}
}

func TestLoadInvalidDurations(t *testing.T) {
	for _, key := range []string{
		"SESSION_TEMP_MAX_AGE",
		"SESSION_CLEANUP_INTERVAL",
		"AUTO_CANCEL_AGE",
		"SWEEP_INTERVAL",
		"SHUTDOWN_TIMEOUT",
	} {
		t.Run(key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(key, "soon")

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s error, got %v", key, err)
			}
		})
	}
}
