package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadKubehostConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KUBEHOST_DATA_DIR", dir)
	t.Setenv("KUBEHOST_CONFIG", filepath.Join(dir, "missing.yaml"))

	cfg, err := LoadKubehostConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClusterProvider != "kind" || cfg.ClusterName != "kubehost" {
		t.Fatalf("unexpected cluster defaults: %s/%s", cfg.ClusterProvider, cfg.ClusterName)
	}
	if cfg.RolloutTimeout != 120*time.Second {
		t.Fatalf("expected default rollout timeout 120s, got %s", cfg.RolloutTimeout)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected poll interval 5s, got %s", cfg.PollInterval)
	}
	if cfg.IngressWaitTimeout != 180*time.Second {
		t.Fatalf("expected ingress wait 180s, got %s", cfg.IngressWaitTimeout)
	}
	if cfg.SQLitePath != filepath.Join(dir, "kubehost.db") {
		t.Fatalf("unexpected sqlite path %s", cfg.SQLitePath)
	}
	if cfg.ShutdownGrace != 30*time.Second || cfg.LockTTL != 15*time.Minute {
		t.Fatalf("unexpected shutdown grace %s or lock ttl %s", cfg.ShutdownGrace, cfg.LockTTL)
	}
	if cfg.ImageRepository != "gitdeploy" {
		t.Fatalf("unexpected image repository %s", cfg.ImageRepository)
	}
}

func TestLoadKubehostConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
addr: ":9090"
cluster:
  provider: minikube
  name: dev
rollout:
  profile: strict
store:
  driver: memory
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KUBEHOST_DATA_DIR", dir)
	t.Setenv("KUBEHOST_CONFIG", path)
	t.Setenv("KUBEHOST_CLUSTER_NAME", "override")

	cfg, err := LoadKubehostConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("expected addr from file, got %s", cfg.Addr)
	}
	if cfg.ClusterProvider != "minikube" {
		t.Fatalf("expected provider from file, got %s", cfg.ClusterProvider)
	}
	if cfg.ClusterName != "override" {
		t.Fatalf("expected env to win over file, got %s", cfg.ClusterName)
	}
	if cfg.RolloutTimeout != 180*time.Second {
		t.Fatalf("expected strict profile timeout, got %s", cfg.RolloutTimeout)
	}
	if cfg.Store != "memory" {
		t.Fatalf("expected memory store, got %s", cfg.Store)
	}
}

func TestLoadKubehostConfigBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("cluster: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("KUBEHOST_CONFIG", path)
	if _, err := LoadKubehostConfig(); err == nil {
		t.Fatalf("expected parse error")
	}
}
