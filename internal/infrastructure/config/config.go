package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mdrelay/internal/domain/market"
)

type Config struct {
	App struct {
		Port            int           `toml:"port" yaml:"port"`
		ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	} `toml:"app" yaml:"app"`

	Log LogConfig `toml:"log" yaml:"log"`

	Instruments []market.Instrument `toml:"instruments" yaml:"instruments"`

	Binance struct {
		RestURL         string        `toml:"rest_url" yaml:"rest_url"`
		WsURL           string        `toml:"ws_url" yaml:"ws_url"`
		DepthStream     string        `toml:"depth_stream" yaml:"depth_stream"`
		RefreshInterval time.Duration `toml:"refresh_interval" yaml:"refresh_interval"`
		RestTimeout     time.Duration `toml:"rest_timeout" yaml:"rest_timeout"`
		RestMaxAttempts int           `toml:"rest_max_attempts" yaml:"rest_max_attempts"`
		RestRPS         float64       `toml:"rest_rps" yaml:"rest_rps"`
	} `toml:"binance" yaml:"binance"`

	Hub struct {
		WhaleInterval time.Duration `toml:"whale_interval" yaml:"whale_interval"`
		SendBuffer    int           `toml:"send_buffer" yaml:"send_buffer"`
		WriteTimeout  time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	} `toml:"hub" yaml:"hub"`

	Redis struct {
		Enabled      bool   `toml:"enabled" yaml:"enabled"`
		Addr         string `toml:"addr" yaml:"addr"`
		Password     string `toml:"password" yaml:"password"`
		DB           int    `toml:"db" yaml:"db"`
		Prefix       string `toml:"prefix" yaml:"prefix"`
		TTLSeconds   int    `toml:"ttl_seconds" yaml:"ttl_seconds"`
		AlertStream  string `toml:"alert_stream" yaml:"alert_stream"`
		AlertChannel string `toml:"alert_channel" yaml:"alert_channel"`
	} `toml:"redis" yaml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		Path    string `toml:"path" yaml:"path"`
	} `toml:"sqlite" yaml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		DSN     string `toml:"dsn" yaml:"dsn"`
	} `toml:"postgres" yaml:"postgres"`
}

type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Format     string `toml:"format" yaml:"format"` // console | json
	File       string `toml:"file" yaml:"file"`     // 为空则只输出到 stdout
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// Load 读取配置文件，.yaml/.yml 使用 yaml，其余按 toml 解析
func Load(path string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_REST_URL")); v != "" {
		cfg.Binance.RestURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_WS_URL")); v != "" {
		cfg.Binance.WsURL = v
	}
}

// DefaultInstruments 默认交易对
func DefaultInstruments() []market.Instrument {
	return []market.Instrument{
		{Symbol: "BTCUSDT", ID: "binance-btcusdt", Name: "Binance BTC/USDT"},
		{Symbol: "ETHUSDT", ID: "binance-ethusdt", Name: "Binance ETH/USDT"},
		{Symbol: "BNBUSDT", ID: "binance-bnbusdt", Name: "Binance BNB/USDT"},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Port == 0 {
		cfg.App.Port = 4000
	}
	if cfg.App.ShutdownTimeout <= 0 {
		cfg.App.ShutdownTimeout = 5 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 7
	}

	if len(cfg.Instruments) == 0 {
		cfg.Instruments = DefaultInstruments()
	}

	if cfg.Binance.RestURL == "" {
		cfg.Binance.RestURL = "https://api1.binance.com"
	}
	if cfg.Binance.WsURL == "" {
		cfg.Binance.WsURL = "wss://stream.binance.com:9443"
	}
	if cfg.Binance.DepthStream == "" {
		cfg.Binance.DepthStream = "depth5@1000ms"
	}
	if cfg.Binance.RefreshInterval == 0 {
		cfg.Binance.RefreshInterval = 60 * time.Second
	}
	if cfg.Binance.RestTimeout == 0 {
		cfg.Binance.RestTimeout = 10 * time.Second
	}
	if cfg.Binance.RestMaxAttempts <= 0 {
		cfg.Binance.RestMaxAttempts = 3
	}
	if cfg.Binance.RestRPS <= 0 {
		cfg.Binance.RestRPS = 1
	}

	if cfg.Hub.WhaleInterval == 0 {
		cfg.Hub.WhaleInterval = 5 * time.Second
	}
	if cfg.Hub.SendBuffer <= 0 {
		cfg.Hub.SendBuffer = 256
	}
	if cfg.Hub.WriteTimeout == 0 {
		cfg.Hub.WriteTimeout = 5 * time.Second
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "mdrelay"
	}
}

func validate(cfg *Config) error {
	if cfg.App.Port < 1 || cfg.App.Port > 65535 {
		return fmt.Errorf("app.port %d out of range", cfg.App.Port)
	}

	insts, err := normalizeInstruments(cfg.Instruments)
	if err != nil {
		return err
	}
	cfg.Instruments = insts

	switch strings.ToLower(cfg.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q must be console or json", cfg.Log.Format)
	}

	for name, d := range map[string]time.Duration{
		"binance.refresh_interval": cfg.Binance.RefreshInterval,
		"binance.rest_timeout":     cfg.Binance.RestTimeout,
		"hub.whale_interval":       cfg.Hub.WhaleInterval,
		"hub.write_timeout":        cfg.Hub.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.SQLite.Enabled && strings.TrimSpace(cfg.SQLite.Path) == "" {
		return errors.New("sqlite.path empty but enabled")
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	return nil
}

// normalizeInstruments 大写 symbol，补全 id/name，拒绝空值和重复
func normalizeInstruments(in []market.Instrument) ([]market.Instrument, error) {
	if len(in) == 0 {
		return nil, errors.New("instruments is empty")
	}
	out := make([]market.Instrument, 0, len(in))
	seenSym := map[string]struct{}{}
	seenID := map[string]struct{}{}
	for i, inst := range in {
		sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if sym == "" {
			return nil, fmt.Errorf("instruments[%d].symbol is empty", i)
		}
		if _, ok := seenSym[sym]; ok {
			return nil, fmt.Errorf("duplicate instrument symbol %s", sym)
		}
		seenSym[sym] = struct{}{}

		id := strings.TrimSpace(inst.ID)
		if id == "" {
			id = "binance-" + strings.ToLower(sym)
		}
		if _, ok := seenID[id]; ok {
			return nil, fmt.Errorf("duplicate instrument id %s", id)
		}
		seenID[id] = struct{}{}

		name := strings.TrimSpace(inst.Name)
		if name == "" {
			name = "Binance " + sym
		}
		out = append(out, market.Instrument{Symbol: sym, ID: id, Name: name})
	}
	return out, nil
}

// Addr 监听地址
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.App.Port)
}

func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}
