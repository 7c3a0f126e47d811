package config

import "strings"

// Config 是 Orca 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Oracle   OracleConfig   `toml:"oracle"`
	Exchange ExchangeConfig `toml:"exchange"`
	Judge    JudgeConfig    `toml:"judge"`
	Sizing   SizingConfig   `toml:"sizing"`
	Risk     RiskConfig     `toml:"risk"`
	Loops    LoopsConfig    `toml:"loops"`
	Settings SettingsConfig `toml:"settings"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env             string `toml:"env"`
	LogLevel        string `toml:"log_level"`
	LogPath         string `toml:"log_path"`
	DecisionLogPath string `toml:"decision_log_path"`
	TiersPath       string `toml:"tiers_path"`
}

// MarketConfig 指向公开行情源（环境判定与指标用）。
type MarketConfig struct {
	RESTBaseURL    string   `toml:"rest_base_url"`
	RegimeSymbol   string   `toml:"regime_symbol"`
	Symbols        []string `toml:"symbols"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// OracleConfig 指向链上/情绪数据聚合 API。APIKeyEnv 命名环境变量，
// 密钥不落配置文件。
type OracleConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryBudget    int    `toml:"retry_budget"`
}

// ExchangeConfig 描述合约交易所接入方式。凭据一律走环境变量。
type ExchangeConfig struct {
	Name             string `toml:"name"`
	BaseURL          string `toml:"base_url"`
	APIKeyEnv        string `toml:"api_key_env"`
	APISecretEnv     string `toml:"api_secret_env"`
	PassphraseEnv    string `toml:"passphrase_env"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	RetryBudget      int    `toml:"retry_budget"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerResetSec  int    `toml:"breaker_reset_seconds"`
}

type JudgeConfig struct {
	MinVotes                int           `toml:"min_votes"`
	OverrideFlowConfidence  float64       `toml:"override_flow_confidence"`
	TrendAlignedConfidence  float64       `toml:"trend_aligned_confidence"`
	NeutralRegimeConfidence float64       `toml:"neutral_regime_confidence"`
	CounterTrendConfidence  float64       `toml:"counter_trend_confidence"`
	Advisor                 AdvisorConfig `toml:"advisor"`
}

// AdvisorConfig 指向裁决复核席（OpenAI 兼容接口）。默认关闭；
// 打开之后复核席不可用时裁决降级为 WAIT。
type AdvisorConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SizingConfig 控制保证金占比与下限。BalanceFloorUSD 对比的是可用
// 余额而不是总权益，低于下限直接放弃开仓。
type SizingConfig struct {
	BaseFraction    float64 `toml:"base_fraction"`
	MinFraction     float64 `toml:"min_fraction"`
	MaxFraction     float64 `toml:"max_fraction"`
	BalanceFloorUSD float64 `toml:"balance_floor_usd"`
}

type RiskConfig struct {
	BaseSlots            int     `toml:"base_slots"`
	BonusSlots           int     `toml:"bonus_slots"`
	DustMarginUSD        float64 `toml:"dust_margin_usd"`
	RegimeGraceMinutes   int     `toml:"regime_grace_minutes"`
	RegimeFlipLossPct    float64 `toml:"regime_flip_loss_pct"`
	RegimeFlipAgeMinutes int     `toml:"regime_flip_age_minutes"`
	CooldownMinutes      int     `toml:"cooldown_minutes"`
	PyramidingEnabled    bool    `toml:"pyramiding_enabled"`
	ProfitGuardMinPeak   float64 `toml:"profit_guard_min_peak"`
	ProfitGuardFade      float64 `toml:"profit_guard_fade"`
	ProfitGuardWhaleCap  float64 `toml:"profit_guard_whale_cap"`
}

// LoopsConfig 控制两条循环的节奏：信号循环按周期走整点，
// 监控循环按固定间隔走。对账在开机跑一次之后，每隔
// ReconcileEveryCycles 个监控周期再跑一次。
type LoopsConfig struct {
	SignalInterval       string `toml:"signal_interval"`
	MonitorInterval      string `toml:"monitor_interval"`
	SignalOffsetSec      int    `toml:"signal_offset_seconds"`
	RunImmediately       bool   `toml:"run_immediately"`
	HeartbeatInterval    string `toml:"heartbeat_interval"`
	ReconcileEveryCycles int    `toml:"reconcile_every_cycles"`
}

type SettingsConfig struct {
	Path       string `toml:"path"`
	TTLSeconds int    `toml:"ttl_seconds"`
	Watch      bool   `toml:"watch"`
}

type StoreConfig struct {
	StatePath     string `toml:"state_path"`
	HistoryDBPath string `toml:"history_db_path"`
	DecisionDB    string `toml:"decision_db_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled     bool   `toml:"enabled"`
	BotTokenEnv string `toml:"bot_token_env"`
	ChatID      string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
