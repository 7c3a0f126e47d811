package config

import (
	"fmt"
	"os"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Judge.validate(); err != nil {
		return err
	}
	if err := c.Sizing.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Loops.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if len(m.Symbols) == 0 {
		return fmt.Errorf("market.symbols requires at least one symbol")
	}
	for _, sym := range m.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("market.symbols contains empty entry")
		}
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("exchange.base_url cannot be empty")
	}
	if strings.TrimSpace(e.APIKeyEnv) == "" || strings.TrimSpace(e.APISecretEnv) == "" {
		return fmt.Errorf("exchange.api_key_env / exchange.api_secret_env must name environment variables")
	}
	return nil
}

func (j *JudgeConfig) validate() error {
	if j.MinVotes < 1 {
		return fmt.Errorf("judge.min_votes must be >= 1")
	}
	for name, v := range map[string]float64{
		"judge.override_flow_confidence":  j.OverrideFlowConfidence,
		"judge.trend_aligned_confidence":  j.TrendAlignedConfidence,
		"judge.neutral_regime_confidence": j.NeutralRegimeConfidence,
		"judge.counter_trend_confidence":  j.CounterTrendConfidence,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1]", name)
		}
	}
	if j.Advisor.Enabled {
		if strings.TrimSpace(j.Advisor.BaseURL) == "" {
			return fmt.Errorf("judge.advisor.base_url cannot be empty when advisor is enabled")
		}
		if strings.TrimSpace(j.Advisor.Model) == "" {
			return fmt.Errorf("judge.advisor.model cannot be empty when advisor is enabled")
		}
		if strings.TrimSpace(j.Advisor.APIKeyEnv) == "" {
			return fmt.Errorf("judge.advisor.api_key_env must name an environment variable when advisor is enabled")
		}
	}
	return nil
}

func (s *SizingConfig) validate() error {
	if s.MinFraction <= 0 || s.MaxFraction <= 0 {
		return fmt.Errorf("sizing fractions must be positive")
	}
	if s.MinFraction > s.MaxFraction {
		return fmt.Errorf("sizing.min_fraction must not exceed sizing.max_fraction")
	}
	if s.BaseFraction < s.MinFraction || s.BaseFraction > s.MaxFraction {
		return fmt.Errorf("sizing.base_fraction must lie within [min_fraction, max_fraction]")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.BaseSlots < 1 {
		return fmt.Errorf("risk.base_slots must be >= 1")
	}
	if r.BonusSlots < 0 {
		return fmt.Errorf("risk.bonus_slots must be >= 0")
	}
	if r.DustMarginUSD < 0 {
		return fmt.Errorf("risk.dust_margin_usd must be >= 0")
	}
	if r.RegimeFlipLossPct < 0 {
		return fmt.Errorf("risk.regime_flip_loss_pct must be >= 0")
	}
	if r.RegimeFlipAgeMinutes < 0 {
		return fmt.Errorf("risk.regime_flip_age_minutes must be >= 0")
	}
	if r.ProfitGuardFade <= 0 || r.ProfitGuardFade >= 1 {
		return fmt.Errorf("risk.profit_guard_fade must be in (0, 1)")
	}
	return nil
}

func (l *LoopsConfig) validate() error {
	if strings.TrimSpace(l.SignalInterval) == "" {
		return fmt.Errorf("loops.signal_interval cannot be empty")
	}
	if strings.TrimSpace(l.MonitorInterval) == "" {
		return fmt.Errorf("loops.monitor_interval cannot be empty")
	}
	if l.SignalOffsetSec < 0 {
		return fmt.Errorf("loops.signal_offset_seconds must be >= 0")
	}
	if l.ReconcileEveryCycles < 1 {
		return fmt.Errorf("loops.reconcile_every_cycles must be >= 1")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotTokenEnv) == "" {
		return fmt.Errorf("notify.telegram.bot_token_env cannot be empty when telegram is enabled")
	}
	if strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id cannot be empty when telegram is enabled")
	}
	return nil
}

// ResolveEnv fetches the value of the named environment variable, with a
// helpful error when the variable is unset. Secrets never live in YAML.
func ResolveEnv(envName string) (string, error) {
	envName = strings.TrimSpace(envName)
	if envName == "" {
		return "", fmt.Errorf("environment variable name is empty")
	}
	val := strings.TrimSpace(os.Getenv(envName))
	if val == "" {
		return "", fmt.Errorf("environment variable %s is not set", envName)
	}
	return val, nil
}
