package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rollout profiles select the readiness timeout when none is set explicitly.
const (
	RolloutProfileDefault = "default"
	RolloutProfileStrict  = "strict"
)

// KubehostConfig holds runtime configuration for the kubehost server.
type KubehostConfig struct {
	Environment string
	Addr        string
	LogLevel    string

	// ShutdownGrace bounds how long background deploys may finish on exit.
	ShutdownGrace time.Duration

	DataDir          string
	Store            string
	DatabaseURL      string
	SQLitePath       string
	EnvEncryptionKey string

	DockerHost      string
	Workdir         string
	GitTimeout      time.Duration
	BuildTimeout    time.Duration
	ImageRepository string

	ClusterProvider    string
	ClusterName        string
	KubeContext        string
	Kubeconfig         string
	LivenessTimeout    time.Duration
	BootstrapAttempts  int
	IngressWaitTimeout time.Duration
	IngressManifestURL string
	ParallelBootstrap  bool

	RolloutProfile      string
	RolloutTimeout      time.Duration
	PollInterval        time.Duration
	DiagnosticsInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	DeployCallbackURL     string
	DeployCallbackTimeout time.Duration

	DockerfileGenerator string
	LLMBaseURL          string
	LLMAPIKey           string
	LLMModel            string
}

// fileConfig mirrors the subset of KubehostConfig settable from the YAML file.
type fileConfig struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	Store    struct {
		Driver      string `yaml:"driver"`
		DatabaseURL string `yaml:"database_url"`
		SQLitePath  string `yaml:"sqlite_path"`
	} `yaml:"store"`
	Docker struct {
		Host            string `yaml:"host"`
		ImageRepository string `yaml:"image_repository"`
		BuildTimeout    int    `yaml:"build_timeout_seconds"`
	} `yaml:"docker"`
	Cluster struct {
		Provider          string `yaml:"provider"`
		Name              string `yaml:"name"`
		Context           string `yaml:"context"`
		Kubeconfig        string `yaml:"kubeconfig"`
		IngressManifest   string `yaml:"ingress_manifest_url"`
		IngressWait       int    `yaml:"ingress_wait_seconds"`
		ParallelBootstrap bool   `yaml:"parallel_bootstrap"`
	} `yaml:"cluster"`
	Rollout struct {
		Profile      string `yaml:"profile"`
		Timeout      int    `yaml:"timeout_seconds"`
		PollInterval int    `yaml:"poll_interval_seconds"`
	} `yaml:"rollout"`
	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
	Dockerfile struct {
		Generator string `yaml:"generator"`
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
	} `yaml:"dockerfile"`
}

// DefaultDataDir is ~/.kubehost, or a temp directory when no home is available.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "kubehost")
	}
	return filepath.Join(home, ".kubehost")
}

// LoadKubehostConfig constructs a KubehostConfig from environment variables
// layered over the optional YAML file named by KUBEHOST_CONFIG.
func LoadKubehostConfig() (KubehostConfig, error) {
	dataDir := GetString("KUBEHOST_DATA_DIR", DefaultDataDir())
	path := GetString("KUBEHOST_CONFIG", filepath.Join(dataDir, "config.yaml"))
	file, err := loadFile(path)
	if err != nil {
		return KubehostConfig{}, err
	}
	if file.DataDir != "" && os.Getenv("KUBEHOST_DATA_DIR") == "" {
		dataDir = file.DataDir
	}

	cfg := KubehostConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("KUBEHOST_ADDR", or(file.Addr, ":7070")),
		LogLevel:    GetString("KUBEHOST_LOG_LEVEL", or(file.LogLevel, "info")),

		ShutdownGrace: GetSeconds("KUBEHOST_SHUTDOWN_GRACE_SECONDS", 30*time.Second),

		DataDir:          dataDir,
		Store:            GetString("KUBEHOST_STORE", or(file.Store.Driver, "sqlite")),
		DatabaseURL:      GetString("DATABASE_URL", file.Store.DatabaseURL),
		SQLitePath:       GetString("KUBEHOST_SQLITE_PATH", or(file.Store.SQLitePath, filepath.Join(dataDir, "kubehost.db"))),
		EnvEncryptionKey: GetString("KUBEHOST_ENV_ENCRYPTION_KEY", ""),

		DockerHost:      GetString("DOCKER_HOST", file.Docker.Host),
		Workdir:         GetString("KUBEHOST_WORKDIR", filepath.Join(dataDir, "workspaces")),
		GitTimeout:      GetSeconds("GIT_TIMEOUT_SECONDS", 60*time.Second),
		BuildTimeout:    GetSeconds("BUILD_TIMEOUT_SECONDS", seconds(file.Docker.BuildTimeout, 600*time.Second)),
		ImageRepository: GetString("KUBEHOST_IMAGE_REPOSITORY", or(file.Docker.ImageRepository, "gitdeploy")),

		ClusterProvider:    GetString("KUBEHOST_CLUSTER_PROVIDER", or(file.Cluster.Provider, "kind")),
		ClusterName:        GetString("KUBEHOST_CLUSTER_NAME", or(file.Cluster.Name, "kubehost")),
		KubeContext:        GetString("KUBEHOST_KUBE_CONTEXT", file.Cluster.Context),
		Kubeconfig:         GetString("KUBECONFIG", file.Cluster.Kubeconfig),
		LivenessTimeout:    GetSeconds("KUBEHOST_LIVENESS_TIMEOUT_SECONDS", 10*time.Second),
		BootstrapAttempts:  GetInt("KUBEHOST_BOOTSTRAP_ATTEMPTS", 3),
		IngressWaitTimeout: GetSeconds("KUBEHOST_INGRESS_WAIT_SECONDS", seconds(file.Cluster.IngressWait, 180*time.Second)),
		IngressManifestURL: GetString("KUBEHOST_INGRESS_MANIFEST_URL", or(file.Cluster.IngressManifest, DefaultIngressManifestURL)),
		ParallelBootstrap:  GetBool("KUBEHOST_PARALLEL_BOOTSTRAP", file.Cluster.ParallelBootstrap),

		RolloutProfile:      GetString("KUBEHOST_ROLLOUT_PROFILE", or(file.Rollout.Profile, RolloutProfileDefault)),
		RolloutTimeout:      GetSeconds("KUBEHOST_ROLLOUT_TIMEOUT_SECONDS", seconds(file.Rollout.Timeout, 0)),
		PollInterval:        GetSeconds("KUBEHOST_POLL_INTERVAL_SECONDS", seconds(file.Rollout.PollInterval, 5*time.Second)),
		DiagnosticsInterval: GetSeconds("KUBEHOST_DIAGNOSTICS_INTERVAL_SECONDS", 30*time.Second),

		RedisAddr:     GetString("KUBEHOST_REDIS_ADDR", file.Redis.Addr),
		RedisPassword: GetString("KUBEHOST_REDIS_PASSWORD", ""),
		RedisDB:       GetInt("KUBEHOST_REDIS_DB", file.Redis.DB),
		LockTTL:       GetSeconds("KUBEHOST_LOCK_TTL_SECONDS", 15*time.Minute),

		DeployCallbackURL:     GetString("DEPLOY_CALLBACK_URL", ""),
		DeployCallbackTimeout: GetSeconds("DEPLOY_CALLBACK_TIMEOUT_SECONDS", 10*time.Second),

		DockerfileGenerator: GetString("KUBEHOST_DOCKERFILE_GENERATOR", or(file.Dockerfile.Generator, "auto")),
		LLMBaseURL:          GetString("KUBEHOST_LLM_BASE_URL", or(file.Dockerfile.BaseURL, "https://api.groq.com/openai/v1")),
		LLMAPIKey:           GetString("GROQ_API_KEY", ""),
		LLMModel:            GetString("KUBEHOST_LLM_MODEL", or(file.Dockerfile.Model, "llama-3.3-70b-versatile")),
	}
	if cfg.RolloutTimeout <= 0 {
		cfg.RolloutTimeout = RolloutTimeoutFor(cfg.RolloutProfile)
	}
	return cfg, nil
}

// DefaultIngressManifestURL installs ingress-nginx configured for kind clusters.
const DefaultIngressManifestURL = "https://raw.githubusercontent.com/kubernetes/ingress-nginx/main/deploy/static/provider/kind/deploy.yaml"

// RolloutTimeoutFor returns the readiness timeout of a rollout profile.
func RolloutTimeoutFor(profile string) time.Duration {
	if strings.EqualFold(strings.TrimSpace(profile), RolloutProfileStrict) {
		return 180 * time.Second
	}
	return 120 * time.Second
}

func loadFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func or(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func seconds(value int, fallback time.Duration) time.Duration {
	if value > 0 {
		return time.Duration(value) * time.Second
	}
	return fallback
}
