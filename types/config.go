package types

import "time"

// AppConfig represents the application configuration loaded from config file
type AppConfig struct {
	Port               int           `yaml:"port"`
	Protocol           string        `yaml:"protocol"`
	StorageRoot        string        `yaml:"storageRoot"`
	TempDir            string        `yaml:"tempDir,omitempty"` // defaults to <storageRoot>/.tmp
	TokenFile          string        `yaml:"tokenFile"`
	TokenBackend       string        `yaml:"tokenBackend"` // json | badger
	TokenTTL           time.Duration `yaml:"tokenTTL"`
	TokenSweepInterval time.Duration `yaml:"tokenSweepInterval"`
	SessionTTL         time.Duration `yaml:"sessionTTL"`
	ReapInterval       time.Duration `yaml:"reapInterval"`
	MaxChunkBytes      int64         `yaml:"maxChunkBytes"`
	Username           string        `yaml:"username,omitempty"`
	Password           string        `yaml:"password,omitempty"`
	NotifyWS           bool          `yaml:"notifyWS"`
	NotifySocket       string        `yaml:"notifySocket,omitempty"`
	CertPEM            string        `yaml:"certPEM,omitempty"`
	KeyPEM             string        `yaml:"keyPEM,omitempty"`
}

// EnvConfig holds overrides read from the environment (and .env).
type EnvConfig struct {
	StorageRoot  string `env:"VAULT_ROOT"`
	Username     string `env:"VAULT_USERNAME"`
	Password     string `env:"VAULT_PASSWORD"`
	Port         int    `env:"VAULT_PORT"`
	TokenBackend string `env:"VAULT_TOKEN_BACKEND"`
}

// Config holds runtime overrides from CLI flags
type Config struct {
	Log             string
	UseConfigPath   string
	UseRoot         string
	UsePort         int
	UseHttp         bool   // if true, use http protocol; if false, use https protocol.
	UseTokenBackend string // json | badger
	SkipNotify      bool   // if true, skip unix socket notify.
}
