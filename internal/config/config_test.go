package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "swapper.yaml", "web3:\n  chain_config: chains.yaml\n  default_chain: sandbox\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Storage.JobStore.Driver != "memory" || cfg.Queue.Driver != "memory" || cfg.Queue.Capacity != 1024 {
		t.Fatalf("unexpected storage/queue defaults: %+v %+v", cfg.Storage, cfg.Queue)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("chain config not resolved relative to config dir: %s", cfg.Web3.ChainConfig)
	}
	if cfg.Web3.DeadlineOffset() != 5*time.Minute {
		t.Fatalf("unexpected deadline offset %s", cfg.Web3.DeadlineOffset())
	}
	if cfg.Jobs.Workers != 1 || cfg.Jobs.MaxRetries != 3 {
		t.Fatalf("unexpected job defaults %+v", cfg.Jobs)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("unexpected metrics defaults %+v", cfg.Metrics)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
}

func TestLoadJSONWithEnvOverride(t *testing.T) {
	path := writeConfig(t, "swapper.json", `{
  "server": {"address": ":9000", "rate_limit": 10},
  "queue": {"driver": "redis", "redis": {"address": "127.0.0.1:6379"}},
  "web3": {"deadline_seconds": 0},
  "auth": {"api_keys": [
    {"name": "ops", "key": "k1", "permissions": ["*"]},
    {"name": "bot", "key_env": "SWAPPER_TEST_BOT_KEY", "permissions": ["swaps:write"]}
  ]}
}`)
	t.Setenv("SWAPPER_SERVER_ADDRESS", ":9100")
	t.Setenv("SWAPPER_JOBS_WORKERS", "4")
	t.Setenv("SWAPPER_TEST_BOT_KEY", "k2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":9100" {
		t.Fatalf("env override ignored, address %q", cfg.Server.Address)
	}
	if cfg.Jobs.Workers != 4 {
		t.Fatalf("env override ignored, workers %d", cfg.Jobs.Workers)
	}
	if cfg.Server.RateLimit != 10 || cfg.Server.RateWindow() != time.Minute {
		t.Fatalf("unexpected rate limit %+v", cfg.Server)
	}
	if cfg.Queue.Redis.Queue != "swapper:jobs" {
		t.Fatalf("unexpected redis queue %q", cfg.Queue.Redis.Queue)
	}
	if cfg.Web3.DeadlineOffset() != 0 {
		t.Fatalf("deadline_seconds 0 should disable the offset")
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[1].Key != "k2" || cfg.Auth.APIKeys[1].Permissions[0] != "swaps:write" {
		t.Fatalf("unexpected api keys %+v", cfg.Auth.APIKeys)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"mysql without dsn":   "storage:\n  job_store:\n    driver: mysql\n",
		"unknown queue":       "queue:\n  driver: kafka\n",
		"rabbitmq no url":     "queue:\n  driver: rabbitmq\n",
		"alerting no target":  "alerting:\n  enabled: true\n",
		"api key without key": "auth:\n  api_keys:\n    - name: ops\n",
	}
	for name, content := range cases {
		path := writeConfig(t, "swapper.yaml", content)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("empty path should fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}
