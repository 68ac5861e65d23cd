package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvPlatform    = "EUROBUCH_PLATFORM"
	EnvPassword    = "EUROBUCH_PASSWORD"
	EnvResultLimit = "EUROBUCH_RESULT_LIMIT"
	EnvSearchHost  = "EUROBUCH_SEARCH_HOST"
	EnvClientIP    = "EUROBUCH_CLIENT_IP"
	EnvTimeout     = "EUROBUCH_TIMEOUT"
	EnvParallel    = "EUROBUCH_PARALLEL"
	EnvOutput      = "EUROBUCH_OUTPUT"
	EnvListenAddr  = "EUROBUCH_LISTEN_ADDR"
	EnvMetricsAddr = "EUROBUCH_METRICS_ADDR"
	EnvHistoryDB   = "EUROBUCH_HISTORY_DB"
)

// EnvString returns the trimmed value of key and whether it was set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration ("10s", "500ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays EUROBUCH_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if v, ok := EnvString(EnvPlatform); ok {
		cfg.Platform = v
	}
	if v, ok := EnvString(EnvPassword); ok {
		cfg.Password = v
	}
	if v, ok := EnvString(EnvSearchHost); ok {
		cfg.SearchHost = v
	}
	if v, ok := EnvString(EnvClientIP); ok {
		cfg.ClientIP = v
	}
	if v, ok := EnvString(EnvOutput); ok {
		cfg.OutputFile = v
	}
	if v, ok := EnvString(EnvListenAddr); ok {
		cfg.ListenAddr = v
	}
	if v, ok := EnvString(EnvMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := EnvString(EnvHistoryDB); ok {
		cfg.HistoryDB = v
	}

	// An unparseable or non-positive result limit keeps the current value.
	if v, ok, err := EnvInt(EnvResultLimit); err == nil && ok && v > 0 {
		cfg.ResultLimit = v
	}

	if v, ok, err := EnvInt(EnvParallel); err != nil {
		return err
	} else if ok {
		cfg.Parallelism = v
	}
	if v, ok, err := EnvDuration(EnvTimeout); err != nil {
		return err
	} else if ok {
		cfg.Timeout = v
	}
	return nil
}

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
