package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults failed: %v", err)
	}
	if cfg.Tree.Dimensions != 2 || cfg.Tree.Alpha != 0.5 {
		t.Errorf("unexpected tree defaults: %+v", cfg.Tree)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("default backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Oram.BlobSize != 4096 {
		t.Errorf("default blob size = %d, want 4096", cfg.Oram.BlobSize)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
tree:
  maxCapacity: 16
oram:
  capacity: 2048
storage:
  backend: redis
  redis:
    addr: redis.internal:6379
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Tree.MaxCapacity != 16 {
		t.Errorf("maxCapacity = %d, want 16", cfg.Tree.MaxCapacity)
	}
	if cfg.Oram.Capacity != 2048 {
		t.Errorf("oram capacity = %d, want 2048", cfg.Oram.Capacity)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.Redis.Addr != "redis.internal:6379" {
		t.Errorf("storage not overridden: %+v", cfg.Storage)
	}
	// Untouched values keep their defaults.
	if cfg.Tree.Dimensions != 2 {
		t.Errorf("dimensions = %d, want default 2", cfg.Tree.Dimensions)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VEILTREE_STORAGE_BACKEND", "grpc")
	t.Setenv("VEILTREE_HOST_ADDR", "host.internal:9090")
	t.Setenv("VEILTREE_ORAM_CAPACITY", "512")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Storage.Backend != "grpc" {
		t.Errorf("backend = %q, want grpc", cfg.Storage.Backend)
	}
	if cfg.Storage.HostAddr != "host.internal:9090" {
		t.Errorf("host addr = %q", cfg.Storage.HostAddr)
	}
	if cfg.Oram.Capacity != 512 {
		t.Errorf("capacity = %d, want 512", cfg.Oram.Capacity)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Tree.Dimensions = 0 },
		func(c *Config) { c.Tree.MaxCapacity = 0 },
		func(c *Config) { c.Tree.Alpha = 1.5 },
		func(c *Config) { c.Oram.Capacity = -1 },
		func(c *Config) { c.Oram.RealSlots = 0 },
		func(c *Config) { c.Storage.Backend = "s3" },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
