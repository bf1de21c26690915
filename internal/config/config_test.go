package config

import (
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANON_PROXY_ADDR", "10.0.0.2:9150")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "12")
	t.Setenv("DOWNLOAD_MAX_BYTES", "1048576")
	t.Setenv("MONITOR_POOL_SIZE", "8")
	t.Setenv("MONITOR_CAP_PER_OWNER", "3")

	cfg := Defaults()
	cfg.applyEnv()

	if cfg.AnonProxyAddr != "10.0.0.2:9150" {
		t.Errorf("proxy addr = %q", cfg.AnonProxyAddr)
	}
	if cfg.RequestTimeout != 12*time.Second {
		t.Errorf("request timeout = %s", cfg.RequestTimeout)
	}
	if cfg.DownloadMaxBytes != 1048576 {
		t.Errorf("download cap = %d", cfg.DownloadMaxBytes)
	}
	if cfg.MonitorPoolSize != 8 || cfg.MonitorCapPerOwner != 3 {
		t.Errorf("pool=%d cap=%d", cfg.MonitorPoolSize, cfg.MonitorCapPerOwner)
	}
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("MONITOR_POOL_SIZE", "-2")

	cfg := Defaults()
	cfg.applyEnv()

	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("invalid timeout should keep default, got %s", cfg.RequestTimeout)
	}
	if cfg.MonitorPoolSize != 4 {
		t.Errorf("invalid pool size should keep default, got %d", cfg.MonitorPoolSize)
	}
}

func TestValidateRejectsEmptyStore(t *testing.T) {
	cfg := Defaults()
	cfg.StoreURI = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty store URI")
	}
}
