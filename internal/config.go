package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

// MinibaseConfig mirrors the yaml config file layout.
type MinibaseConfig struct {
	Storage struct {
		File     string `mapstructure:"file"`
		WALDir   string `mapstructure:"wal_dir"`
		PoolSize int    `mapstructure:"pool_size"`
		Replacer string `mapstructure:"replacer"` // "lru" (default) or "clock"
	} `mapstructure:"storage"`
	Index struct {
		LeafMaxSize     int `mapstructure:"leaf_max_size"`
		InternalMaxSize int `mapstructure:"internal_max_size"`
	} `mapstructure:"index"`
	Debug bool `mapstructure:"debug"`
}

// LoadConfig reads a yaml config file into MinibaseConfig.
func LoadConfig(path string) (*MinibaseConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.pool_size", 64)
	v.SetDefault("storage.replacer", "lru")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg MinibaseConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
