// Package config holds the process-wide configuration singleton: storage
// root, compression policy, topic connection parameters, and the metrics
// window. It is loaded once from environment variables plus an optional
// JSON overlay file, validated eagerly, and published behind an atomic
// pointer so every reader sees either the old config or the new one, never
// a half-applied one.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Compression controls how batch files and metadata sidecars are encoded.
type Compression struct {
	Enabled bool   `json:"enabled"`
	Codec   string `json:"codec"` // "none" or "zstd"
	Level   int    `json:"level"`
}

// Topic holds connection parameters for the pub/sub broker.
type Topic struct {
	BrokerURL                 string        `json:"broker_url"`
	TopicName                 string        `json:"topic_name"`
	ClaimTimeout              time.Duration `json:"claim_timeout"`
	MaxSizeBytesForEstimation int64         `json:"max_size_bytes_for_estimation"`
}

// Config is the resolved, validated process configuration.
type Config struct {
	StorageRoot          string      `json:"storage_root"`
	Compression          Compression `json:"compression"`
	Topic                Topic       `json:"topic"`
	MetricsWindowSeconds int         `json:"metrics_window_seconds"`
}

const (
	envStorageRoot     = "EVOCHORA_STORAGE_ROOT"
	envCompressEnabled = "EVOCHORA_COMPRESSION_ENABLED"
	envCompressCodec   = "EVOCHORA_COMPRESSION_CODEC"
	envCompressLevel   = "EVOCHORA_COMPRESSION_LEVEL"
	envBrokerURL       = "EVOCHORA_TOPIC_BROKER_URL"
	envTopicName       = "EVOCHORA_TOPIC_NAME"
	envClaimTimeoutSec = "EVOCHORA_TOPIC_CLAIM_TIMEOUT_SECONDS"
	envMaxEstBytes     = "EVOCHORA_TOPIC_MAX_SIZE_BYTES_FOR_ESTIMATION"
	envMetricsWindow   = "EVOCHORA_METRICS_WINDOW_SECONDS"
	envOverlayPath     = "EVOCHORA_CONFIG_JSON"
)

func defaults() Config {
	return Config{
		Compression:          Compression{Enabled: false, Codec: "none", Level: 0},
		Topic:                Topic{ClaimTimeout: 30 * time.Second, MaxSizeBytesForEstimation: 1 << 20},
		MetricsWindowSeconds: 60,
	}
}

// Load resolves the config from environment variables, applies an optional
// JSON overlay named by EVOCHORA_CONFIG_JSON, validates the result, and
// fails fast on the first problem rather than returning a config a caller
// might partially trust.
func Load() (Config, error) {
	cfg := defaults()

	if v, ok := os.LookupEnv(envStorageRoot); ok {
		cfg.StorageRoot = v
	}
	if v, ok := os.LookupEnv(envCompressEnabled); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s: invalid bool", envCompressEnabled)
		}
		cfg.Compression.Enabled = b
	}
	if v, ok := os.LookupEnv(envCompressCodec); ok {
		cfg.Compression.Codec = v
	}
	if v, ok := os.LookupEnv(envCompressLevel); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s: invalid int", envCompressLevel)
		}
		cfg.Compression.Level = n
	}
	if v, ok := os.LookupEnv(envBrokerURL); ok {
		cfg.Topic.BrokerURL = v
	}
	if v, ok := os.LookupEnv(envTopicName); ok {
		cfg.Topic.TopicName = v
	}
	if v, ok := os.LookupEnv(envClaimTimeoutSec); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s: invalid int", envClaimTimeoutSec)
		}
		cfg.Topic.ClaimTimeout = time.Duration(n) * time.Second
	}
	if v, ok := os.LookupEnv(envMaxEstBytes); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s: invalid int64", envMaxEstBytes)
		}
		cfg.Topic.MaxSizeBytesForEstimation = n
	}
	if v, ok := os.LookupEnv(envMetricsWindow); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s: invalid int", envMetricsWindow)
		}
		cfg.MetricsWindowSeconds = n
	}

	if overlay, ok := os.LookupEnv(envOverlayPath); ok {
		raw, err := os.ReadFile(overlay)
		if err != nil {
			return Config{}, errors.Wrapf(err, "reading config overlay %s", overlay)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parsing config overlay %s", overlay)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validCodecs = map[string]bool{"none": true, "zstd": true}

// Validate checks the Fatal-taxonomy conditions a config must satisfy
// before anything reads it: a non-absolute storage root, an unrecognized
// compression codec, and non-positive timeouts are all refused up front
// rather than surfacing later as a confusing runtime failure.
func (c Config) Validate() error {
	if c.StorageRoot == "" {
		return errors.New("storage root is required")
	}
	if !filepath.IsAbs(c.StorageRoot) {
		return errors.Errorf("storage root %q must be an absolute path", c.StorageRoot)
	}
	if !validCodecs[c.Compression.Codec] {
		return errors.Errorf("compression codec %q is not recognized", c.Compression.Codec)
	}
	if c.Compression.Level < 0 {
		return errors.Errorf("compression level %d must not be negative", c.Compression.Level)
	}
	if c.Topic.ClaimTimeout <= 0 {
		return errors.New("topic claim timeout must be positive")
	}
	if c.Topic.MaxSizeBytesForEstimation <= 0 {
		return errors.New("topic max size bytes for estimation must be positive")
	}
	if c.MetricsWindowSeconds <= 0 {
		return errors.New("metrics window seconds must be positive")
	}
	return nil
}
