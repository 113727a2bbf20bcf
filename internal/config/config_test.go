package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"geotrail/syncd/internal/filter"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults to load, got %v", err)
	}
	if cfg.Thresholds.Time != 5*time.Minute {
		t.Errorf("Expected 5m time threshold, got %s", cfg.Thresholds.Time)
	}
	if cfg.Drain.FailureCeiling != 5 {
		t.Errorf("Expected failure ceiling 5, got %d", cfg.Drain.FailureCeiling)
	}
	if cfg.RemoteConfigured() {
		t.Error("Expected remote to be unconfigured by default")
	}
	if cfg.Mutation.MaxRateWait < cfg.Mutation.MinInterval {
		t.Errorf("Expected mutation rate wait %s to cover min interval %s", cfg.Mutation.MaxRateWait, cfg.Mutation.MinInterval)
	}
}

func TestValidate_MutationRateWaitMustCoverMinInterval(t *testing.T) {
	cfg, _, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Mutation.MinInterval = 15 * time.Second
	cfg.Mutation.MaxRateWait = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error")
	}
	cfg.Mutation.MaxRateWait = 15 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected equal wait to pass, got %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.yaml")
	yaml := []byte("remote:\n  base_url: https://example.test\n  api_key: abc\nthresholds:\n  distance_meters: 250\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNCD_THRESHOLDS_TIME", "90s")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}
	if !cfg.RemoteConfigured() {
		t.Error("Expected remote to be configured from file")
	}
	if cfg.Thresholds.DistanceMeters != 250 {
		t.Errorf("Expected 250m from file, got %v", cfg.Thresholds.DistanceMeters)
	}
	if cfg.Thresholds.Time != 90*time.Second {
		t.Errorf("Expected env override 90s, got %s", cfg.Thresholds.Time)
	}
}

func TestValidate_RetentionMustExceedLookback(t *testing.T) {
	cfg, _, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Retention.SyncedAfter = time.Hour
	cfg.Reconcile.Lookback = 2 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error")
	}
}

func TestDatabaseConfig_IsPostgres(t *testing.T) {
	if !(DatabaseConfig{DSN: "postgres://u:p@localhost/db"}).IsPostgres() {
		t.Error("Expected postgres DSN to be detected")
	}
	if (DatabaseConfig{DSN: "/var/lib/syncd/syncd.db"}).IsPostgres() {
		t.Error("Expected file path to be sqlite")
	}
}

func TestLiveThresholds(t *testing.T) {
	live := NewLiveThresholds(filter.Thresholds{MinInterval: time.Minute})
	var src filter.ThresholdSource = live

	live.Set(filter.Thresholds{MinInterval: 2 * time.Minute, MinDistanceMeters: 10})
	if got := src.Thresholds(); got.MinInterval != 2*time.Minute || got.MinDistanceMeters != 10 {
		t.Errorf("Expected updated thresholds, got %+v", got)
	}
}
