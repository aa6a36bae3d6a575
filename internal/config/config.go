// Package config loads skumap settings from YAML and SKUMAP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SKUMAP_SINK_SQLITE_PATH.
const EnvPrefix = "SKUMAP"

type Config struct {
	Log         LogConfig      `mapstructure:"log"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	SchemasFile string         `mapstructure:"schemas_file"`
	Mapping     MappingConfig  `mapstructure:"mapping"`
	Sink        SinkConfig     `mapstructure:"sink"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	AddSource bool   `mapstructure:"add_source"`
}

type PipelineConfig struct {
	Workers           int      `mapstructure:"workers"`
	NamespaceBySource bool     `mapstructure:"namespace_by_source"`
	Passthrough       []string `mapstructure:"passthrough"`
}

// MappingConfig locates the durable mapping store and its journal.
type MappingConfig struct {
	File         string `mapstructure:"file"`
	PebbleDir    string `mapstructure:"pebble_dir"`
	SnapshotDir  string `mapstructure:"snapshot_dir"`
	ChangelogDir string `mapstructure:"changelog_dir"`
	KafkaBrokers string `mapstructure:"kafka_brokers"`
	KafkaTopic   string `mapstructure:"kafka_topic"`
	// ManifestTopic enables publishing snapshot manifests to kafka.
	ManifestTopic string `mapstructure:"manifest_topic"`
}

// SinkConfig enables record sinks. Empty values leave a sink off.
type SinkConfig struct {
	SQLitePath   string `mapstructure:"sqlite_path"`
	KafkaBrokers string `mapstructure:"kafka_brokers"`
	KafkaTopic   string `mapstructure:"kafka_topic"`
	// TxID switches the kafka sink to one transaction per run.
	TxID string `mapstructure:"tx_id"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.namespace_by_source", false)
	v.SetDefault("pipeline.passthrough", []string{})
	v.SetDefault("schemas_file", "")
	v.SetDefault("mapping.file", "")
	v.SetDefault("mapping.pebble_dir", "./data/mapping")
	v.SetDefault("mapping.snapshot_dir", "./data/snapshots")
	v.SetDefault("mapping.changelog_dir", "./data/changelog")
	v.SetDefault("mapping.kafka_brokers", "")
	v.SetDefault("mapping.kafka_topic", "skumap.mapping-changelog")
	v.SetDefault("mapping.manifest_topic", "")
	v.SetDefault("sink.sqlite_path", "")
	v.SetDefault("sink.kafka_brokers", "")
	v.SetDefault("sink.kafka_topic", "skumap.mapped-sales")
	v.SetDefault("sink.tx_id", "")
	v.SetDefault("metrics.addr", "")
}

// Load reads configPath when given, otherwise config.yaml from ./configs or
// the working directory if present. Defaults apply to anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s, must be 'json' or 'text'", c.Log.Format)
	}
	switch c.Log.Output {
	case "stdout", "stderr":
	case "file":
		if c.Log.FilePath == "" {
			return fmt.Errorf("log.file_path is required when log.output is 'file'")
		}
	default:
		return fmt.Errorf("invalid log output: %s", c.Log.Output)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("invalid pipeline.workers: %d", c.Pipeline.Workers)
	}
	if c.Sink.TxID != "" && c.Sink.KafkaBrokers == "" {
		return fmt.Errorf("sink.tx_id requires sink.kafka_brokers")
	}
	if c.Mapping.ManifestTopic != "" && c.Mapping.KafkaBrokers == "" {
		return fmt.Errorf("mapping.manifest_topic requires mapping.kafka_brokers")
	}
	return nil
}
