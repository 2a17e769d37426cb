package config

import (
	"fmt"
	"strings"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.TradingMode))
	if mode != "" && mode != "paper" && mode != "live" {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}

	if c.Paper.InitialBalanceUSDC <= 0 {
		return fmt.Errorf("paper.initial_balance_usdc must be > 0, got %f", c.Paper.InitialBalanceUSDC)
	}
	if c.Paper.FeeBps < 0 {
		return fmt.Errorf("paper.fee_bps must be >= 0, got %f", c.Paper.FeeBps)
	}
	if c.Paper.SlippageBps < 0 {
		return fmt.Errorf("paper.slippage_bps must be >= 0, got %f", c.Paper.SlippageBps)
	}

	if c.Safety.MaxTradeSize <= 0 {
		return fmt.Errorf("safety.max_trade_size must be > 0, got %f", c.Safety.MaxTradeSize)
	}
	if c.Safety.DailyLossLimit < 0 {
		return fmt.Errorf("safety.daily_loss_limit must be >= 0, got %f", c.Safety.DailyLossLimit)
	}
	if c.Safety.MaxDailyLosses < 0 {
		return fmt.Errorf("safety.max_daily_losses must be >= 0, got %d", c.Safety.MaxDailyLosses)
	}

	if c.Strategy.SpikeThreshold <= 0 {
		return fmt.Errorf("strategy.spike_threshold must be > 0, got %f", c.Strategy.SpikeThreshold)
	}
	if c.Strategy.MinSpikeSpeed <= 0 {
		return fmt.Errorf("strategy.min_spike_speed must be > 0, got %f", c.Strategy.MinSpikeSpeed)
	}
	if c.Strategy.MaxEntryPrice <= 0 || c.Strategy.MaxEntryPrice >= 1 {
		return fmt.Errorf("strategy.max_entry_price must be within (0,1), got %f", c.Strategy.MaxEntryPrice)
	}

	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan_interval must be > 0, got %s", c.ScanInterval)
	}
	if c.Redemption.ScanInterval <= 0 {
		return fmt.Errorf("redemption.scan_interval must be > 0, got %s", c.Redemption.ScanInterval)
	}
	if len(c.Redemption.RPCURLs) == 0 {
		return fmt.Errorf("redemption.rpc_urls must not be empty")
	}

	if mode == "live" && c.WalletPrivateKey == "" {
		return fmt.Errorf("wallet_private_key is required when trading_mode=live")
	}

	return nil
}
