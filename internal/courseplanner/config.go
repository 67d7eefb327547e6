package courseplanner

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL     = "https://courseplanner-api.adelaide.edu.au/api/course-planner-query/v1/"
	DefaultStalePeriod = 7 * 24 * time.Hour
)

type Config struct {
	API struct {
		BaseURL  string `yaml:"baseURL"`
		Timeout  string `yaml:"timeout"`
		RetryMax int    `yaml:"retryMax"`
	} `yaml:"api"`

	Cache struct {
		Path        string `yaml:"path"`
		StalePeriod string `yaml:"stalePeriod"`
		WriteBuffer string `yaml:"writeBuffer"`
		BlockCache  string `yaml:"blockCache"`
		// WarmEvery is how often long-running callers refresh reference data.
		WarmEvery string `yaml:"warmEvery"`
	} `yaml:"cache"`

	Lookup struct {
		// MinSimilarity floors fuzzy lookups. A non-zero value also lets
		// course filters be corrected to a close reference key; at zero they
		// must match exactly.
		MinSimilarity float64 `yaml:"minSimilarity"`
	} `yaml:"lookup"`

	// Year scopes the year-bound queries. Zero means the current calendar year.
	Year int `yaml:"year"`

	Logging struct {
		LogStatsEvery string `yaml:"logStatsEvery"`
	} `yaml:"logging"`

	// compiled
	timeoutDur       time.Duration
	stalePeriodDur   time.Duration
	writeBufferBytes int64
	blockCacheBytes  int64
	warmEveryDur     time.Duration
	logStatsEveryDur time.Duration
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	var cfg Config
	if err := cfg.compile(); err != nil {
		// defaults always compile
		panic(err)
	}
	return cfg
}

// LoadConfig reads a YAML file over the defaults. An empty path yields the
// defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.API.BaseURL, "/") {
		cfg.API.BaseURL += "/"
	}
	if cfg.API.Timeout == "" {
		cfg.API.Timeout = "30s"
	}
	if cfg.API.RetryMax < 0 {
		return fmt.Errorf("api.retryMax: must not be negative")
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "./data/leveldb"
	}
	if cfg.Cache.StalePeriod == "" {
		cfg.Cache.StalePeriod = DefaultStalePeriod.String()
	}
	if cfg.Cache.WriteBuffer == "" {
		cfg.Cache.WriteBuffer = "4mb"
	}
	if cfg.Cache.BlockCache == "" {
		cfg.Cache.BlockCache = "8mb"
	}
	if cfg.Lookup.MinSimilarity < 0 || cfg.Lookup.MinSimilarity > 1 {
		return fmt.Errorf("lookup.minSimilarity: must be within [0, 1], got %v", cfg.Lookup.MinSimilarity)
	}
	if cfg.Year == 0 {
		cfg.Year = time.Now().Year()
	}

	var err error
	if cfg.timeoutDur, err = time.ParseDuration(cfg.API.Timeout); err != nil {
		return fmt.Errorf("api.timeout: %w", err)
	}
	if cfg.stalePeriodDur, err = time.ParseDuration(cfg.Cache.StalePeriod); err != nil {
		return fmt.Errorf("cache.stalePeriod: %w", err)
	}
	if cfg.stalePeriodDur <= 0 {
		return fmt.Errorf("cache.stalePeriod: must be positive")
	}
	if cfg.writeBufferBytes, err = parseBytes(cfg.Cache.WriteBuffer); err != nil {
		return fmt.Errorf("cache.writeBuffer: %w", err)
	}
	if cfg.blockCacheBytes, err = parseBytes(cfg.Cache.BlockCache); err != nil {
		return fmt.Errorf("cache.blockCache: %w", err)
	}
	if cfg.Cache.WarmEvery != "" {
		if cfg.warmEveryDur, err = time.ParseDuration(cfg.Cache.WarmEvery); err != nil {
			return fmt.Errorf("cache.warmEvery: %w", err)
		}
	}
	if cfg.Logging.LogStatsEvery != "" {
		if cfg.logStatsEveryDur, err = time.ParseDuration(cfg.Logging.LogStatsEvery); err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
	}
	return nil
}

func (cfg Config) StalePeriod() time.Duration { return cfg.stalePeriodDur }

func (cfg Config) Timeout() time.Duration { return cfg.timeoutDur }

func (cfg Config) WarmEvery() time.Duration { return cfg.warmEveryDur }

func (cfg Config) storeConfig() StoreConfig {
	return StoreConfig{
		StalePeriod: cfg.stalePeriodDur,
		WriteBuffer: cfg.writeBufferBytes,
		BlockCache:  cfg.blockCacheBytes,
	}
}
