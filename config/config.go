// SPDX-License-Identifier: Apache-2.0

// Package config loads the provenance client configuration from defaults,
// an optional config file and PROVENANCE_ environment variables.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PROVENANCE_LEDGER_STORE.
const EnvPrefix = "PROVENANCE"

// Snapshot store kinds accepted for ledger.store.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

type (
	// Config holds the complete client configuration.
	Config struct {
		Log      LogConfig      `mapstructure:"log"`
		Tracking TrackingConfig `mapstructure:"tracking"`
		Contract ContractConfig `mapstructure:"contract"`
		Ethereum EthereumConfig `mapstructure:"ethereum"`
		Session  SessionConfig  `mapstructure:"session"`
		Ledger   LedgerConfig   `mapstructure:"ledger"`
		Wallet   WalletConfig   `mapstructure:"wallet"`
		Metrics  MetricsConfig  `mapstructure:"metrics"`
	}

	LogConfig struct {
		Level string `mapstructure:"level"`
	}

	TrackingConfig struct {
		// BaseURL is the origin of the public tracking pages in QR codes.
		BaseURL string `mapstructure:"base_url"`
	}

	ContractConfig struct {
		Address string `mapstructure:"address"`
		Name    string `mapstructure:"name"`
	}

	// EthereumConfig configures the injected-account backend. An empty
	// RPCURL leaves the backend unavailable.
	EthereumConfig struct {
		RPCURL       string        `mapstructure:"rpc_url"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	}

	// SessionConfig configures the session-based backend on an Internet
	// Computer replica. An empty CanisterID leaves the backend unavailable.
	SessionConfig struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		CanisterID   string `mapstructure:"canister_id"`
		LedgerID     string `mapstructure:"ledger_id"`
		IdentityPath string `mapstructure:"identity_path"`
		StorePath    string `mapstructure:"store_path"`
		AppName      string `mapstructure:"app_name"`
		AppIcon      string `mapstructure:"app_icon"`
		RedirectTo   string `mapstructure:"redirect_to"`
	}

	LedgerConfig struct {
		Store         string        `mapstructure:"store"`
		Path          string        `mapstructure:"path"`
		RedisAddr     string        `mapstructure:"redis_addr"`
		RedisKey      string        `mapstructure:"redis_key"`
		SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	}

	WalletConfig struct {
		BalanceRetries  uint64        `mapstructure:"balance_retries"`
		BalanceInterval time.Duration `mapstructure:"balance_interval"`
		// BalancePoll is the period of the background balance refresh. Zero
		// disables it.
		BalancePoll time.Duration `mapstructure:"balance_poll"`
	}

	// MetricsConfig configures the Prometheus endpoint served while the
	// client watches the session. An empty Addr disables it.
	MetricsConfig struct {
		Addr string `mapstructure:"addr"`
	}
)

// DefaultDir is the directory for the config file and local state.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".provenance"
	}
	return filepath.Join(home, ".config", "provenance")
}

func setDefaults(v *viper.Viper) {
	dir := DefaultDir()
	v.SetDefault("log.level", "info")
	v.SetDefault("tracking.base_url", "http://localhost:8080")
	v.SetDefault("contract.address", "")
	v.SetDefault("contract.name", "supply-chain")
	v.SetDefault("ethereum.rpc_url", "")
	v.SetDefault("ethereum.poll_interval", 2*time.Second)
	v.SetDefault("session.host", "http://127.0.0.1")
	v.SetDefault("session.port", 4943)
	v.SetDefault("session.canister_id", "")
	v.SetDefault("session.ledger_id", "ryjl3-tyaaa-aaaaa-aaaba-cai")
	v.SetDefault("session.identity_path", filepath.Join(dir, "identity.pem"))
	v.SetDefault("session.store_path", filepath.Join(dir, "session.bin"))
	v.SetDefault("session.app_name", "Provenance")
	v.SetDefault("session.app_icon", "")
	v.SetDefault("session.redirect_to", "")
	v.SetDefault("ledger.store", StoreFile)
	v.SetDefault("ledger.path", filepath.Join(dir, "ledger.json"))
	v.SetDefault("ledger.redis_addr", "")
	v.SetDefault("ledger.redis_key", "")
	v.SetDefault("ledger.submit_timeout", 2*time.Minute)
	v.SetDefault("wallet.balance_retries", 3)
	v.SetDefault("wallet.balance_interval", 500*time.Millisecond)
	v.SetDefault("wallet.balance_poll", 0)
	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration. If path is empty, config.yaml in
// DefaultDir is used when it exists.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, errors.WithMessage(err, "reading config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.WithMessage(err, "decoding config")
	}
	return c, c.Validate()
}

// Validate checks the values that can not be checked when they are used.
func (c Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Ledger.Store {
	case StoreMemory, StoreFile, StoreBadger:
	case StoreRedis:
		if c.Ledger.RedisAddr == "" {
			return errors.New("ledger.store redis needs ledger.redis_addr")
		}
	default:
		return errors.Errorf("unknown ledger.store %q", c.Ledger.Store)
	}
	if c.Session.CanisterID != "" && c.Session.Port <= 0 {
		return errors.Errorf("invalid session.port %d", c.Session.Port)
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return errors.WithMessage(err, "metrics.addr")
		}
	}
	return nil
}

// LogLevel returns the parsed log.level.
func (c Config) LogLevel() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.Log.Level)
	return lvl, errors.WithMessage(err, "log.level")
}
