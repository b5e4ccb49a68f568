package tool

import (
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/moyoez/localvault/types"
)

var (
	ConfigPath    = "config.yaml" // be aware that it can be changed, default to ./config.yaml
	CurrentConfig types.AppConfig
)

const (
	DefaultPort          = 8787
	DefaultStorageRoot   = "uploads"
	DefaultTokenFile     = "download-tokens.json"
	DefaultTokenTTL      = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultSessionTTL    = 24 * time.Hour
	DefaultReapInterval  = 10 * time.Minute
	DefaultMaxChunkBytes = 64 << 20
)

func defaultConfig() types.AppConfig {
	return types.AppConfig{
		Port:               DefaultPort,
		Protocol:           "https",
		StorageRoot:        DefaultStorageRoot,
		TokenFile:          DefaultTokenFile,
		TokenBackend:       "json",
		TokenTTL:           DefaultTokenTTL,
		TokenSweepInterval: DefaultSweepInterval,
		SessionTTL:         DefaultSessionTTL,
		ReapInterval:       DefaultReapInterval,
		MaxChunkBytes:      DefaultMaxChunkBytes,
		NotifyWS:           true,
	}
}

// LoadConfig reads config.yaml (creating it with defaults when missing) and applies environment overrides.
func LoadConfig(path string) (types.AppConfig, error) {
	if path == "" {
		path = ConfigPath
	}
	ConfigPath = path

	cfg := defaultConfig()

	info, err := os.Stat(path)
	switch {
	case err != nil && os.IsNotExist(err):
		if writeErr := writeDefaultConfig(path, cfg); writeErr != nil {
			return cfg, fmt.Errorf("config file not found, and failed to generate default config: %w", writeErr)
		}
		DefaultLogger.Infof("[Config] Created new config file at %s", path)
	case err != nil:
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	case info.IsDir():
		return cfg, fmt.Errorf("config file path is a directory: %s", path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	fillZeroDefaults(&cfg)

	CurrentConfig = cfg
	return cfg, nil
}

// ApplyEnvOverrides loads .env when present and overlays VAULT_* variables on cfg.
func ApplyEnvOverrides(cfg *types.AppConfig) error {
	_ = godotenv.Load()

	var ec types.EnvConfig
	if _, err := env.UnmarshalFromEnviron(&ec); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	if ec.StorageRoot != "" {
		cfg.StorageRoot = ec.StorageRoot
	}
	if ec.Username != "" {
		cfg.Username = ec.Username
	}
	if ec.Password != "" {
		cfg.Password = ec.Password
	}
	if ec.Port > 0 {
		cfg.Port = ec.Port
	}
	if ec.TokenBackend != "" {
		cfg.TokenBackend = ec.TokenBackend
	}
	return nil
}

// ApplyFlagOverrides overlays CLI flags on cfg.
func ApplyFlagOverrides(cfg *types.AppConfig, flags types.Config) {
	if flags.UseRoot != "" {
		cfg.StorageRoot = flags.UseRoot
	}
	if flags.UsePort > 0 {
		cfg.Port = flags.UsePort
	}
	if flags.UseHttp {
		cfg.Protocol = "http"
	}
	if flags.UseTokenBackend != "" {
		cfg.TokenBackend = flags.UseTokenBackend
	}
	CurrentConfig = *cfg
}

// fillZeroDefaults keeps a hand-edited config with missing keys usable.
func fillZeroDefaults(cfg *types.AppConfig) {
	def := defaultConfig()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.Protocol != "http" && cfg.Protocol != "https" {
		cfg.Protocol = def.Protocol
	}
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = def.StorageRoot
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = def.TokenFile
	}
	if cfg.TokenBackend == "" {
		cfg.TokenBackend = def.TokenBackend
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.TokenSweepInterval <= 0 {
		cfg.TokenSweepInterval = def.TokenSweepInterval
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = def.MaxChunkBytes
	}
}

func writeDefaultConfig(path string, cfg types.AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func GetCurrentConfig() *types.AppConfig {
	return &CurrentConfig
}

// PersistAppConfig updates in-memory AppConfig and writes config.yaml.
func PersistAppConfig(cfg *types.AppConfig) {
	if cfg == nil {
		return
	}
	CurrentConfig = *cfg
	if err := writeDefaultConfig(ConfigPath, CurrentConfig); err != nil {
		DefaultLogger.Warnf("[Config] Failed to persist config: %v", err)
	}
}
