// Package config loads the blackboard's tunables via viper, with
// fsnotify-driven hot-reload of the API key file. Grounded on the
// donor's cmd/bd/config.go viper usage (defaults + env binding + file
// watch), adapted from the donor's per-repo config shape to the
// engine/transport tunables this spec needs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/sbp-dev/blackboard/internal/sbplog"
)

// Config is the fully resolved configuration for a running server.
type Config struct {
	Host                  string
	Port                  int
	EvaluationIntervalMs  int64
	EmissionHistoryWindowMs int64
	MaxPheromones         int
	TTLFloorDefault       float64
	APIKeys               []string
	APIKeyFile            string
	RateLimitPerMinute    int
	LogLevel              string
}

// defaults mirror blackboard.DefaultConfig's evaluation cadence and
// other tunables.
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("evaluation_interval_ms", 100)
	v.SetDefault("emission_history_window_ms", int64(5*time.Minute/time.Millisecond))
	v.SetDefault("max_pheromones", 10_000)
	v.SetDefault("ttl_floor_default", 0.05)
	v.SetDefault("rate_limit_per_minute", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("api_key_file", "")
}

// Load reads configuration from the above defaults, an optional YAML
// file at path (if non-empty), and environment variables prefixed
// SBP_, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("sbp")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	var apiKeys []string
	if raw := v.GetString("api_keys"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				apiKeys = append(apiKeys, k)
			}
		}
	}

	return &Config{
		Host:                    v.GetString("host"),
		Port:                    v.GetInt("port"),
		EvaluationIntervalMs:    v.GetInt64("evaluation_interval_ms"),
		EmissionHistoryWindowMs: v.GetInt64("emission_history_window_ms"),
		MaxPheromones:           v.GetInt("max_pheromones"),
		TTLFloorDefault:         v.GetFloat64("ttl_floor_default"),
		APIKeys:                 apiKeys,
		APIKeyFile:              v.GetString("api_key_file"),
		RateLimitPerMinute:      v.GetInt("rate_limit_per_minute"),
		LogLevel:                v.GetString("log_level"),
	}
}

// WatchAPIKeyFile watches path for changes (key rotation without a
// restart) and invokes onChange with the freshly parsed comma-separated
// key list whenever the file is rewritten. Grounded on the donor's
// fsnotify usage pattern for live-reloading config.
func WatchAPIKeyFile(path string, onChange func([]string)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				keys, err := ReadAPIKeyFile(path)
				if err != nil {
					sbplog.Warnf("config", "reload api key file %s: %v", path, err)
					continue
				}
				onChange(keys)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				sbplog.Warnf("config", "watcher error for %s: %v", path, err)
			}
		}
	}()

	return watcher, nil
}

// ReadAPIKeyFile parses path's comma-separated api_keys entry. Used
// both for the initial load and by WatchAPIKeyFile on every change.
func ReadAPIKeyFile(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.GetString("api_keys")
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
