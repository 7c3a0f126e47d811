package config

import "strings"

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppLogPath         = "/data/logs/orca-live.log"
	defaultAppDecisionLog     = "/data/logs/orca-decisions.log"
	defaultAppTiersPath       = "configs/tiers.yaml"
	defaultMarketREST         = "https://fapi.binance.com"
	defaultMarketRegimeSymbol = "BTCUSDT"
	defaultMarketTimeout      = 10
	defaultOracleTimeout      = 8
	defaultOracleRetryBudget  = 2
	defaultExchangeName       = "weex"
	defaultExchangeTimeout    = 15
	defaultExchangeRetries    = 2
	defaultBreakerThreshold   = 5
	defaultBreakerResetSec    = 60
	defaultJudgeMinVotes      = 2
	defaultOverrideFlowConf   = 0.85
	defaultTrendAlignedConf   = 0.60
	defaultNeutralRegimeConf  = 0.60
	defaultCounterTrendConf   = 0.85
	defaultAdvisorTimeout     = 20
	defaultSizingBase         = 0.15
	defaultSizingMin          = 0.10
	defaultSizingMax          = 0.20
	defaultBalanceFloorUSD    = 950
	defaultBaseSlots          = 5
	defaultBonusSlots         = 2
	defaultDustMarginUSD      = 5.0
	defaultRegimeGraceMin     = 30
	defaultRegimeFlipLossPct  = 1.0
	defaultRegimeFlipAgeMin   = 120
	defaultCooldownMin        = 60
	defaultProfitGuardPeak    = 1.5
	defaultProfitGuardFade    = 0.40
	defaultProfitGuardWhale   = 70
	defaultSignalInterval     = "4h"
	defaultMonitorInterval    = "5m"
	defaultSignalOffsetSec    = 10
	defaultHeartbeatInterval  = "15m"
	defaultReconcileCycles    = 60
	defaultSettingsPath       = "/data/live/settings.json"
	defaultSettingsTTL        = 60
	defaultStorePath          = "/data/live/trade_state.json"
	defaultHistoryDBPath      = "/data/db/trade_history.db"
	defaultDecisionDBPath     = "/data/live/decisions.db"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Judge.applyDefaults(keys)
	c.Sizing.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Loops.applyDefaults(keys)
	c.Settings.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.decision_log_path", &a.DecisionLogPath, defaultAppDecisionLog),
		stringFieldDefault("app.tiers_path", &a.TiersPath, defaultAppTiersPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.regime_symbol", &m.RegimeSymbol, defaultMarketRegimeSymbol),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
	)
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("oracle.timeout_seconds", &o.TimeoutSeconds, defaultOracleTimeout),
		intFieldDefault("oracle.retry_budget", &o.RetryBudget, defaultOracleRetryBudget),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
		intFieldDefault("exchange.retry_budget", &e.RetryBudget, defaultExchangeRetries),
		intFieldDefault("exchange.breaker_threshold", &e.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("exchange.breaker_reset_seconds", &e.BreakerResetSec, defaultBreakerResetSec),
	)
}

func (j *JudgeConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("judge.min_votes", &j.MinVotes, defaultJudgeMinVotes),
		floatFieldDefault("judge.override_flow_confidence", &j.OverrideFlowConfidence, defaultOverrideFlowConf),
		floatFieldDefault("judge.trend_aligned_confidence", &j.TrendAlignedConfidence, defaultTrendAlignedConf),
		floatFieldDefault("judge.neutral_regime_confidence", &j.NeutralRegimeConfidence, defaultNeutralRegimeConf),
		floatFieldDefault("judge.counter_trend_confidence", &j.CounterTrendConfidence, defaultCounterTrendConf),
		intFieldDefault("judge.advisor.timeout_seconds", &j.Advisor.TimeoutSeconds, defaultAdvisorTimeout),
	)
}

func (s *SizingConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("sizing.base_fraction", &s.BaseFraction, defaultSizingBase),
		floatFieldDefault("sizing.min_fraction", &s.MinFraction, defaultSizingMin),
		floatFieldDefault("sizing.max_fraction", &s.MaxFraction, defaultSizingMax),
		floatFieldDefault("sizing.balance_floor_usd", &s.BalanceFloorUSD, defaultBalanceFloorUSD),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("risk.base_slots", &r.BaseSlots, defaultBaseSlots),
		intFieldDefault("risk.bonus_slots", &r.BonusSlots, defaultBonusSlots),
		floatFieldDefault("risk.dust_margin_usd", &r.DustMarginUSD, defaultDustMarginUSD),
		intFieldDefault("risk.regime_grace_minutes", &r.RegimeGraceMinutes, defaultRegimeGraceMin),
		floatFieldDefault("risk.regime_flip_loss_pct", &r.RegimeFlipLossPct, defaultRegimeFlipLossPct),
		intFieldDefault("risk.regime_flip_age_minutes", &r.RegimeFlipAgeMinutes, defaultRegimeFlipAgeMin),
		intFieldDefault("risk.cooldown_minutes", &r.CooldownMinutes, defaultCooldownMin),
		floatFieldDefault("risk.profit_guard_min_peak", &r.ProfitGuardMinPeak, defaultProfitGuardPeak),
		floatFieldDefault("risk.profit_guard_fade", &r.ProfitGuardFade, defaultProfitGuardFade),
		floatFieldDefault("risk.profit_guard_whale_cap", &r.ProfitGuardWhaleCap, defaultProfitGuardWhale),
	)
}

func (l *LoopsConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("loops.signal_interval", &l.SignalInterval, defaultSignalInterval),
		stringFieldDefault("loops.monitor_interval", &l.MonitorInterval, defaultMonitorInterval),
		intFieldDefault("loops.signal_offset_seconds", &l.SignalOffsetSec, defaultSignalOffsetSec),
		stringFieldDefault("loops.heartbeat_interval", &l.HeartbeatInterval, defaultHeartbeatInterval),
		intFieldDefault("loops.reconcile_every_cycles", &l.ReconcileEveryCycles, defaultReconcileCycles),
	)
}

func (s *SettingsConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("settings.path", &s.Path, defaultSettingsPath),
		intFieldDefault("settings.ttl_seconds", &s.TTLSeconds, defaultSettingsTTL),
		boolFieldDefault("settings.watch", &s.Watch, true),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.state_path", &s.StatePath, defaultStorePath),
		stringFieldDefault("store.history_db_path", &s.HistoryDBPath, defaultHistoryDBPath),
		stringFieldDefault("store.decision_db_path", &s.DecisionDB, defaultDecisionDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target == 0
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target == 0
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
