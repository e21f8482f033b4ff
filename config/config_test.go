package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		envStorageRoot, envCompressEnabled, envCompressCodec, envCompressLevel,
		envBrokerURL, envTopicName, envClaimTimeoutSec, envMaxEstBytes,
		envMetricsWindow, envOverlayPath,
	} {
		os.Unsetenv(k)
	}
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	clearEnv(t)
	os.Setenv(envStorageRoot, "/var/lib/evochora")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageRoot != "/var/lib/evochora" {
		t.Fatalf("storage root = %q", cfg.StorageRoot)
	}
	if cfg.Compression.Codec != "none" {
		t.Fatalf("default codec = %q, want none", cfg.Compression.Codec)
	}
	if cfg.MetricsWindowSeconds != 60 {
		t.Fatalf("default metrics window = %d, want 60", cfg.MetricsWindowSeconds)
	}
}

func TestLoadRejectsRelativeStorageRoot(t *testing.T) {
	clearEnv(t)
	os.Setenv(envStorageRoot, "relative/path")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a non-absolute storage root")
	}
}

func TestLoadRejectsUnrecognizedCodec(t *testing.T) {
	clearEnv(t)
	os.Setenv(envStorageRoot, "/data")
	os.Setenv(envCompressCodec, "lz4")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unrecognized codec")
	}
}

func TestLoadRejectsMissingStorageRoot(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when storage root is unset")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	cfg := defaults()
	cfg.StorageRoot = "/data/evochora"
	Set(cfg)

	got := Get()
	if got.StorageRoot != "/data/evochora" {
		t.Fatalf("Get().StorageRoot = %q", got.StorageRoot)
	}
}
