package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the agent.
type Config struct {
	WalletPrivateKey string `yaml:"wallet_private_key"`
	APIKey           string `yaml:"poly_api_key"`
	APISecret        string `yaml:"poly_api_secret"`
	APIPassphrase    string `yaml:"poly_api_passphrase"`
	KnownProxyWallet string `yaml:"known_proxy_wallet"`
	PolygonRPCURL    string `yaml:"polygon_rpc_url"`

	Asset             string        `yaml:"asset"`
	ScanInterval      time.Duration `yaml:"scan_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DryRun            bool          `yaml:"dry_run"`
	TradingMode       string        `yaml:"trading_mode"`
	LogLevel          string        `yaml:"log_level"`
	RolloutPhase      string        `yaml:"rollout_phase"`

	Safety     SafetyConfig     `yaml:"safety"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Redemption RedemptionConfig `yaml:"redemption"`
	Paper      PaperConfig      `yaml:"paper"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	API        APIConfig        `yaml:"api"`
}

// SafetyConfig drives internal/safety.Config.
type SafetyConfig struct {
	MaxTradeSize        float64 `yaml:"max_trade_size"`
	DailyLossLimit      float64 `yaml:"daily_loss_limit"`
	MaxDailyLosses      int     `yaml:"max_daily_losses"`
	BudgetForwardLosses bool    `yaml:"budget_forward_losses"`
}

// StrategyConfig drives internal/strategy policies.
type StrategyConfig struct {
	SpikeThreshold float64 `yaml:"spike_threshold"` // dollars
	MinSpikeSpeed  float64 `yaml:"min_spike_speed"` // dollars/sec
	MaxEntryPrice  float64 `yaml:"max_entry_price"`
	ModelEnabled   bool    `yaml:"model_enabled"`
	ModelURL       string  `yaml:"model_url"`
}

// RedemptionConfig drives internal/redemption.Engine.
type RedemptionConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
	RPCURLs      []string      `yaml:"rpc_urls"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PaperConfig struct {
	InitialBalanceUSDC float64 `yaml:"initial_balance_usdc"`
	FeeBps             float64 `yaml:"fee_bps"`
	SlippageBps        float64 `yaml:"slippage_bps"`
}

// Default returns the conservative paper-trading baseline.
func Default() Config {
	return Config{
		Asset:             "BTC",
		ScanInterval:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		DryRun:            true,
		TradingMode:       "paper",
		LogLevel:          "info",
		Safety: SafetyConfig{
			MaxTradeSize:   5,
			DailyLossLimit: 20,
			MaxDailyLosses: 4,
		},
		Strategy: StrategyConfig{
			SpikeThreshold: 30,
			MinSpikeSpeed:  15,
			MaxEntryPrice:  0.85,
		},
		Redemption: RedemptionConfig{
			ScanInterval: 60 * time.Second,
			RPCURLs:      []string{"https://polygon-rpc.com"},
		},
		Paper: PaperConfig{
			InitialBalanceUSDC: 1000,
			FeeBps:             10,
			SlippageBps:        10,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

// LoadFile reads a YAML config file over the Default() baseline.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on top of the loaded config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		c.WalletPrivateKey = v
	}
	if v := os.Getenv("POLY_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("POLY_API_SECRET"); v != "" {
		c.APISecret = v
	}
	if v := os.Getenv("POLY_API_PASSPHRASE"); v != "" {
		c.APIPassphrase = v
	}
	if v := os.Getenv("KNOWN_PROXY_WALLET"); v != "" {
		c.KnownProxyWallet = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		c.PolygonRPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ASSET")); v != "" {
		c.Asset = strings.ToUpper(v)
	}
	if v := os.Getenv("MAX_TRADE_SIZE"); v != "" {
		if f, err := parseFloat(v); err == nil {
			c.Safety.MaxTradeSize = f
		}
	}
	if v := os.Getenv("DAILY_LOSS_LIMIT"); v != "" {
		if f, err := parseFloat(v); err == nil {
			c.Safety.DailyLossLimit = f
		}
	}
	if v := os.Getenv("MAX_DAILY_LOSSES"); v != "" {
		if n, err := parseInt(v); err == nil {
			c.Safety.MaxDailyLosses = n
		}
	}
	if v := os.Getenv("SPIKE_THRESHOLD"); v != "" {
		if f, err := parseFloat(v); err == nil {
			c.Strategy.SpikeThreshold = f
		}
	}
	if v := os.Getenv("MIN_SPIKE_SPEED"); v != "" {
		if f, err := parseFloat(v); err == nil {
			c.Strategy.MinSpikeSpeed = f
		}
	}
	if v := os.Getenv("MAX_ENTRY_PRICE"); v != "" {
		if f, err := parseFloat(v); err == nil {
			c.Strategy.MaxEntryPrice = f
		}
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.TradingMode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		c.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ROLLOUT_PHASE"); v != "" {
		c.RolloutPhase = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		c.API.Addr = v
	}
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscan(s, &f)
	return f, err
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscan(s, &n)
	return n, err
}
