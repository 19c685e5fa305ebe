package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/utils"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
)

// Config is built once at process start and passed to every component.
// Nothing below main reads the process environment.
type Config struct {
	APIBaseURL    string `yaml:"api_base_url"`
	APIKey        string `yaml:"api_key"`
	LicenseServer string `yaml:"license_server"`
	ModelCacheDir string `yaml:"model_cache_dir"`
	DeviceID      string `yaml:"device_id"`

	ObjectStore ObjectStoreConfig `yaml:"object_store"`

	// DisablePreprocAutoOrient turns auto-orient off for every model
	// regardless of what the preprocessing spec declares.
	DisablePreprocAutoOrient bool `yaml:"disable_preproc_auto_orient"`

	// ExecutionProviders are tried in priority order; RequiredProviders must
	// all attach or the model load fails.
	ExecutionProviders []string `yaml:"execution_providers"`
	RequiredProviders  []string `yaml:"required_providers"`
	ORTLibraryPath     string   `yaml:"ort_library_path"`
	// TensorRTCachePath defaults to <ModelCacheDir>/tensorrt.
	TensorRTCachePath  string   `yaml:"tensorrt_cache_path"`

	// WeightsRefreshAfter is how long a single weights download may take
	// before the pre-signed URLs are considered stale and re-requested.
	WeightsRefreshAfter time.Duration `yaml:"weights_refresh_after"`

	// PreprocessWorkers bounds the batch preprocessing pool; 0 means the
	// host's available parallelism.
	PreprocessWorkers int `yaml:"preprocess_workers"`

	// ModelCacheSize is the number of loaded models kept in memory.
	ModelCacheSize int `yaml:"model_cache_size"`

	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`
}

// ObjectStoreConfig describes the optional bulk artifact bucket.
type ObjectStoreConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// Lambda marks a managed deployment that is allowed to read the bucket.
	Lambda       bool          `yaml:"lambda"`
	Bucket       string        `yaml:"bucket"`
	Endpoint     string        `yaml:"endpoint"`
	Region       string        `yaml:"region"`
	UseSSL       bool          `yaml:"use_ssl"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// CredentialsConfigured reports whether both object-store keys are set.
func (o ObjectStoreConfig) CredentialsConfigured() bool {
	return o.AccessKeyID != "" && o.SecretAccessKey != ""
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		APIBaseURL:    "https://api.roboflow.com",
		ModelCacheDir: "/tmp/cache",
		ObjectStore: ObjectStoreConfig{
			Endpoint:     "s3.amazonaws.com",
			Region:       "us-east-1",
			UseSSL:       true,
			MaxRetries:   5,
			RetryBackoff: 3 * time.Second,
		},
		ExecutionProviders: []string{
			string(constants.ProviderCUDA),
			string(constants.ProviderOpenVINO),
			string(constants.ProviderCPU),
		},
		WeightsRefreshAfter: 120 * time.Second,
		ModelCacheSize:      16,
		GRPCAddr:            ":50052",
		LogLevel:            "info",
	}
}

// Load builds a Config from defaults, an optional YAML file, a .env file and
// the process environment, in that order of precedence (last wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "parse config file %s", path)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.TensorRTCachePath == "" {
		cfg.TensorRTCachePath = filepath.Join(cfg.ModelCacheDir, "tensorrt")
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = utils.DeviceID()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv adds the variables of an env file to the process environment
// without overriding variables already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return errdefs.Wrap(errdefs.KindConfiguration, err, "load %s", path)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not a boolean", key, v))
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}
	seconds := func(key string, dst *time.Duration) {
		n := -1
		integer(key, &n)
		if n >= 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = ParseList(v)
		}
	}

	str("API_BASE_URL", &c.APIBaseURL)
	str("API_KEY", &c.APIKey)
	str("LICENSE_SERVER", &c.LicenseServer)
	str("MODEL_CACHE_DIR", &c.ModelCacheDir)
	str("DEVICE_ID", &c.DeviceID)

	str("AWS_ACCESS_KEY_ID", &c.ObjectStore.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.ObjectStore.SecretAccessKey)
	boolean("LAMBDA", &c.ObjectStore.Lambda)
	str("INFER_BUCKET", &c.ObjectStore.Bucket)
	str("S3_ENDPOINT", &c.ObjectStore.Endpoint)
	str("AWS_REGION", &c.ObjectStore.Region)
	boolean("S3_USE_SSL", &c.ObjectStore.UseSSL)
	integer("S3_MAX_RETRIES", &c.ObjectStore.MaxRetries)
	seconds("S3_RETRY_BACKOFF_SECONDS", &c.ObjectStore.RetryBackoff)

	boolean("DISABLE_PREPROC_AUTO_ORIENT", &c.DisablePreprocAutoOrient)
	list("ONNXRUNTIME_EXECUTION_PROVIDERS", &c.ExecutionProviders)
	list("REQUIRED_ONNX_PROVIDERS", &c.RequiredProviders)
	str("ORT_LIBRARY_PATH", &c.ORTLibraryPath)
	str("TENSORRT_CACHE_PATH", &c.TensorRTCachePath)
	seconds("WEIGHTS_REFRESH_SECONDS", &c.WeightsRefreshAfter)
	integer("PREPROCESS_WORKERS", &c.PreprocessWorkers)
	integer("MODEL_CACHE_SIZE", &c.ModelCacheSize)
	str("AGENT_GRPC_ADDR", &c.GRPCAddr)
	str("LOG_LEVEL", &c.LogLevel)

	if len(errs) > 0 {
		return errdefs.New(errdefs.KindConfiguration, "invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelCacheDir) == "" {
		return errdefs.New(errdefs.KindConfiguration, "model cache dir is required")
	}
	if c.ModelCacheSize <= 0 {
		return errdefs.New(errdefs.KindConfiguration, "model cache size must be positive, got %d", c.ModelCacheSize)
	}
	if c.PreprocessWorkers < 0 {
		return errdefs.New(errdefs.KindConfiguration, "preprocess workers must not be negative, got %d", c.PreprocessWorkers)
	}
	if c.ObjectStore.MaxRetries < 0 {
		return errdefs.New(errdefs.KindConfiguration, "object store max retries must not be negative")
	}
	return nil
}

// CheckCredentials fails when neither an API key (the per-call override or
// the configured one) nor a complete managed object-store setup is present.
func (c *Config) CheckCredentials(apiKey string) error {
	if apiKey != "" || c.APIKey != "" {
		return nil
	}
	if c.ObjectStore.CredentialsConfigured() && c.ObjectStore.Lambda {
		return nil
	}
	return errdefs.New(errdefs.KindConfiguration,
		"no API key found: provide an API key per request or as API_KEY on startup")
}

// Workers resolves PreprocessWorkers against the host.
func (c *Config) Workers() int {
	if c.PreprocessWorkers > 0 {
		return c.PreprocessWorkers
	}
	return utils.AvailableParallelism()
}

// ConfigureLogging applies LogLevel to the standard logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return errdefs.Wrap(errdefs.KindConfiguration, err, "invalid log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// ParseList accepts "A,B", "[A, B]" and `["A","B"]`.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
