package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	defaultDedupTTL       = 10 * time.Minute
	defaultAcquirer       = "tinkoff"
	defaultTinkoffBaseURL = "https://securepay.tinkoff.ru/v2/"
)

// AcquiringConfig holds runtime settings for acquirer gateways.
type AcquiringConfig struct {
	DefaultAcquirer string                   `mapstructure:"defaultAcquirer"`
	DedupTTL        time.Duration            `mapstructure:"dedupTTL"`
	Gateways        map[string]GatewayConfig `mapstructure:"gateways"`
}

type GatewayConfig struct {
	BaseURL         string        `mapstructure:"baseURL"`
	Timeout         time.Duration `mapstructure:"timeout"`
	NotificationURL string        `mapstructure:"notificationURL"`
	DefaultLanguage string        `mapstructure:"language"`
}

func DefaultAcquiringConfig() AcquiringConfig {
	return AcquiringConfig{
		DefaultAcquirer: defaultAcquirer,
		DedupTTL:        defaultDedupTTL,
		Gateways: map[string]GatewayConfig{
			defaultAcquirer: {
				BaseURL:         defaultTinkoffBaseURL,
				Timeout:         defaultGatewayTimeout,
				DefaultLanguage: "ru",
			},
		},
	}
}

// Gateway returns the settings for one acquirer with defaults applied.
func (c AcquiringConfig) Gateway(acquirer string) GatewayConfig {
	gw := c.Gateways[strings.ToLower(strings.TrimSpace(acquirer))]
	if gw.Timeout <= 0 {
		gw.Timeout = defaultGatewayTimeout
	}
	return gw
}

type AcquiringConfigHolder struct {
	current atomic.Value // holds AcquiringConfig
}

// NewStaticAcquiringConfigHolder wraps a fixed config; used by tests and tools.
func NewStaticAcquiringConfigHolder(cfg AcquiringConfig) *AcquiringConfigHolder {
	holder := &AcquiringConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAcquiringConfigHolder(appCfg Config, log *zap.Logger) (*AcquiringConfigHolder, error) {
	v := viper.New()

	if appCfg.AcquiringConfigPath != "" {
		v.SetConfigFile(appCfg.AcquiringConfigPath)
	} else {
		v.SetConfigName("acquiring")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/acquiring")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ACQUIRING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAcquiringConfig()
	v.SetDefault("acquiring.defaultAcquirer", defaults.DefaultAcquirer)
	v.SetDefault("acquiring.dedupTTL", getenvDuration("DEDUP_TTL", defaults.DedupTTL))
	v.SetDefault("acquiring.gateways", defaults.Gateways)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read acquiring config: %w", err)
		}
	}

	cfg, err := decodeAcquiringConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticAcquiringConfigHolder(cfg)
	if v.ConfigFileUsed() == "" {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeAcquiringConfig(v)
		if err != nil {
			log.Warn("acquiring config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("acquiring config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *AcquiringConfigHolder) Get() AcquiringConfig {
	return h.current.Load().(AcquiringConfig)
}

func decodeAcquiringConfig(v *viper.Viper) (AcquiringConfig, error) {
	var cfg AcquiringConfig
	if err := v.UnmarshalKey("acquiring", &cfg); err != nil {
		return AcquiringConfig{}, err
	}
	normalized := make(map[string]GatewayConfig, len(cfg.Gateways))
	for name, gw := range cfg.Gateways {
		normalized[strings.ToLower(strings.TrimSpace(name))] = gw
	}
	cfg.Gateways = normalized
	cfg.DefaultAcquirer = strings.ToLower(strings.TrimSpace(cfg.DefaultAcquirer))
	if err := validateAcquiringConfig(cfg); err != nil {
		return AcquiringConfig{}, err
	}
	return cfg, nil
}

func validateAcquiringConfig(cfg AcquiringConfig) error {
	if cfg.DefaultAcquirer == "" {
		return errors.New("acquiring.defaultAcquirer cannot be empty")
	}
	if cfg.DedupTTL <= 0 {
		return errors.New("acquiring.dedupTTL must be positive")
	}
	for name, gw := range cfg.Gateways {
		if strings.TrimSpace(gw.BaseURL) == "" {
			return fmt.Errorf("acquiring.gateways.%s.baseURL cannot be empty", name)
		}
	}
	return nil
}
