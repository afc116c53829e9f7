package config

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/birkenfeld/arexibo/internal/logging"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	defaultWorkDir     = "/var/lib/arexibo"
	defaultBridgeAddr  = "127.0.0.1:9697"
	defaultHTTPTimeout = 30 * time.Second
	configPathEnv      = "AREXIBO_CONFIG"
	machineIDPath      = "/etc/machine-id"
)

// Config stores runtime settings loaded from defaults, an optional YAML
// file and environment variables, in that order of precedence.
type Config struct {
	CMS          CMS           `koanf:"cms"`
	WorkDir      string        `koanf:"work_dir" validate:"required"`
	AllowOffline bool          `koanf:"allow_offline"`
	BridgeAddr   string        `koanf:"bridge_addr" validate:"required"`
	LogLevel     string        `koanf:"log_level"`
	HTTPTimeout  time.Duration `koanf:"http_timeout" validate:"gt=0"`
}

// CMS holds the connection parameters for the content management server.
type CMS struct {
	Address     string `koanf:"address" validate:"required,url"`
	Key         string `koanf:"key" validate:"required"`
	HardwareKey string `koanf:"hardware_key"`
	DisplayName string `koanf:"display_name"`
	Proxy       string `koanf:"proxy" validate:"omitempty,url"`
}

// Channel is the push subscription topic derived from the CMS identity.
func (c CMS) Channel() string {
	sum := md5.Sum([]byte(c.Address + c.Key + c.HardwareKey))
	return hex.EncodeToString(sum[:])
}

func defaults() Config {
	name, _ := os.Hostname()
	return Config{
		CMS:         CMS{DisplayName: name},
		WorkDir:     defaultWorkDir,
		BridgeAddr:  defaultBridgeAddr,
		LogLevel:    "info",
		HTTPTimeout: defaultHTTPTimeout,
	}
}

var envMappings = map[string]string{
	"cms_address":   "cms.address",
	"cms_key":       "cms.key",
	"hardware_key":  "cms.hardware_key",
	"display_name":  "cms.display_name",
	"cms_proxy":     "cms.proxy",
	"work_dir":      "work_dir",
	"allow_offline": "allow_offline",
	"bridge_addr":   "bridge_addr",
	"log_level":     "log_level",
	"http_timeout":  "http_timeout",
}

func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// Load builds Config and resolves the hardware key.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := configPath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CMS.Address = strings.TrimSuffix(strings.TrimSpace(cfg.CMS.Address), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if cfg.CMS.HardwareKey == "" {
		key, err := ResolveHardwareKey(cfg.WorkDir, machineIDPath)
		if err != nil {
			return Config{}, err
		}
		cfg.CMS.HardwareKey = key
	}
	return cfg, nil
}

func configPath() string {
	if path := getenv(configPathEnv, ""); path != "" {
		return path
	}
	path := filepath.Join(getenv("WORK_DIR", defaultWorkDir), "cms.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the configured log level, falling back to info.
func (c Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

func (c Config) ResourceDir() string  { return filepath.Join(c.WorkDir, "res") }
func (c Config) IndexPath() string    { return filepath.Join(c.WorkDir, "cache.db") }
func (c Config) KeyPath() string      { return filepath.Join(c.WorkDir, "id_rsa") }
func (c Config) SettingsPath() string { return filepath.Join(c.WorkDir, "settings.json") }
func (c Config) SchedulePath() string { return filepath.Join(c.WorkDir, "schedule.json") }

// ResolveHardwareKey returns the machine id when available, otherwise a
// generated key persisted under workDir so it stays stable across restarts.
func ResolveHardwareKey(workDir, machineID string) (string, error) {
	if raw, err := os.ReadFile(machineID); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	}

	path := filepath.Join(workDir, "hardware_key")
	raw, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read hardware key: %w", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write hardware key: %w", err)
	}
	return id, nil
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
