package config

import "time"

type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Server          ServerConfig  `mapstructure:"server"`
	Catalog         CatalogConfig `mapstructure:"catalog"`
	Cache           CacheConfig   `mapstructure:"cache"`
	Storage         StorageConfig `mapstructure:"storage"`
	Table           TableConfig   `mapstructure:"table"`
	OTel            OTelConfig    `mapstructure:"otel"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	APIPrefix      string        `mapstructure:"api_prefix"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type CatalogConfig struct {
	Type              string        `mapstructure:"type"` // "unity" or "local"
	Endpoint          string        `mapstructure:"endpoint"`
	Token             string        `mapstructure:"token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Warehouse         string        `mapstructure:"warehouse"`
	CredentialTTL     time.Duration `mapstructure:"credential_ttl"`
	StorageLocation   string        `mapstructure:"storage_location"`
}

type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	KeyByMode  bool          `mapstructure:"key_by_mode"`
}

type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	PathStyle bool   `mapstructure:"path_style"`
}

type TableConfig struct {
	TargetFileSize int64         `mapstructure:"target_file_size"`
	MinRetention   time.Duration `mapstructure:"min_retention"`
}

type OTelConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func Default() Config {
	return Config{
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
		Server: ServerConfig{
			Addr:           ":8080",
			APIPrefix:      "/api/v1",
			ReadTimeout:    30 * time.Second,
			IdleTimeout:    120 * time.Second,
			HealthInterval: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			Type:              "unity",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
			CredentialTTL:     time.Hour,
		},
		Cache: CacheConfig{
			TTL:        59*time.Minute + 30*time.Second,
			MaxEntries: 10000,
		},
		Table: TableConfig{
			TargetFileSize: 100 << 20, // 100 MiB
			MinRetention:   7 * 24 * time.Hour,
		},
		OTel: OTelConfig{
			Exporter:    "none",
			SampleRatio: 1.0,
		},
	}
}
