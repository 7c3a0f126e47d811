package app

import (
	"context"
	"fmt"
	"time"

	"orca/internal/config"
	"orca/internal/gateway/binance"
	"orca/internal/gateway/exchange"
	"orca/internal/gateway/notifier"
	"orca/internal/gateway/oracle"
	"orca/internal/gateway/provider"
	"orca/internal/gateway/weex"
	"orca/internal/judge"
	"orca/internal/market"
	"orca/internal/risk"
	"orca/internal/scheduler"
	"orca/internal/settings"
	"orca/internal/sizer"
	"orca/internal/store/decisionlog"
	"orca/internal/store/history"
	"orca/internal/store/tradestate"
	"orca/internal/strategy"
	"orca/internal/trader"
	"orca/internal/types"
)

// Builder 把配置翻译成可运行的 App。覆盖函数留给测试注入假件。
type Builder struct {
	cfg *config.Config

	exchangeOverride exchange.Exchange
	sourceOverride   market.Source
	oracleOverride   OracleFetcher
	notifierOverride notifier.TextNotifier
}

type BuilderOption func(*Builder)

func WithExchange(e exchange.Exchange) BuilderOption {
	return func(b *Builder) { b.exchangeOverride = e }
}

func WithMarketSource(s market.Source) BuilderOption {
	return func(b *Builder) { b.sourceOverride = s }
}

func WithOracle(o OracleFetcher) BuilderOption {
	return func(b *Builder) { b.oracleOverride = o }
}

func WithNotifier(n notifier.TextNotifier) BuilderOption {
	return func(b *Builder) { b.notifierOverride = n }
}

func NewBuilder(cfg *config.Config, opts ...BuilderOption) *Builder {
	b := &Builder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Builder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	tiers, err := strategy.LoadTiers(cfg.App.TiersPath)
	if err != nil {
		return nil, fmt.Errorf("loading tiers: %w", err)
	}

	settingsMgr, err := settings.NewManager(cfg.Settings.Path,
		time.Duration(cfg.Settings.TTLSeconds)*time.Second, cfg.Settings.Watch)
	if err != nil {
		return nil, fmt.Errorf("initializing settings manager: %w", err)
	}

	source := b.sourceOverride
	if source == nil {
		source, err = binance.New(binance.Config{
			RESTBaseURL: cfg.Market.RESTBaseURL,
			HTTPTimeout: time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing market source: %w", err)
		}
	}

	var oracleClient OracleFetcher
	if b.oracleOverride != nil {
		oracleClient = b.oracleOverride
	} else if cfg.Oracle.Enabled {
		apiKey, err := config.ResolveEnv(cfg.Oracle.APIKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("resolving oracle credentials: %w", err)
		}
		oracleClient, err = oracle.NewClient(oracle.Config{
			BaseURL:     cfg.Oracle.BaseURL,
			APIKey:      apiKey,
			Timeout:     time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
			RetryBudget: cfg.Oracle.RetryBudget,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing oracle client: %w", err)
		}
	}

	exch := b.exchangeOverride
	if exch == nil {
		exch, err = buildExchange(cfg.Exchange)
		if err != nil {
			return nil, err
		}
	}

	var notify notifier.TextNotifier
	if b.notifierOverride != nil {
		notify = b.notifierOverride
	} else if cfg.Notify.Telegram.Enabled {
		token, err := config.ResolveEnv(cfg.Notify.Telegram.BotTokenEnv)
		if err != nil {
			return nil, fmt.Errorf("resolving telegram credentials: %w", err)
		}
		notify = notifier.NewTelegram(token, cfg.Notify.Telegram.ChatID)
	}

	stateStore, err := tradestate.NewStore(cfg.Store.StatePath)
	if err != nil {
		return nil, fmt.Errorf("initializing trade state store: %w", err)
	}
	historyStore, err := history.New(cfg.Store.HistoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("initializing history store: %w", err)
	}
	decisionStore, err := decisionlog.New(cfg.Store.DecisionDB)
	if err != nil {
		return nil, fmt.Errorf("initializing decision log store: %w", err)
	}

	gate := risk.NewEntryGate(cfg.Risk.BaseSlots, cfg.Risk.BonusSlots,
		time.Duration(cfg.Risk.CooldownMinutes)*time.Minute)
	var pyramider risk.Pyramider = risk.NoopPyramider{}
	if cfg.Risk.PyramidingEnabled {
		pyramider = risk.NewBreakevenPyramider(0, 0)
	}
	riskMgr := risk.NewManager(cfg.Risk, tiers, pyramider)
	sz := sizer.New(cfg.Sizing)

	trd, err := trader.New(exch, stateStore, gate, sz, tiers, settingsMgr, historyStore, notify)
	if err != nil {
		historyStore.Close()
		decisionStore.Close()
		settingsMgr.Close()
		return nil, err
	}

	jdg := judge.New(cfg.Judge)
	if cfg.Judge.Advisor.Enabled {
		apiKey, err := config.ResolveEnv(cfg.Judge.Advisor.APIKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("resolving advisor credentials: %w", err)
		}
		adv, err := provider.NewHTTP(provider.Config{
			BaseURL: cfg.Judge.Advisor.BaseURL,
			APIKey:  apiKey,
			Model:   cfg.Judge.Advisor.Model,
			Timeout: time.Duration(cfg.Judge.Advisor.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing advisor: %w", err)
		}
		jdg = jdg.WithAdvisor(adv, time.Duration(cfg.Judge.Advisor.TimeoutSeconds)*time.Second)
	}

	signalInterval, ok := scheduleInterval(cfg.Loops.SignalInterval)
	if !ok {
		return nil, fmt.Errorf("invalid signal interval %q", cfg.Loops.SignalInterval)
	}
	monitorInterval, ok := scheduleInterval(cfg.Loops.MonitorInterval)
	if !ok {
		return nil, fmt.Errorf("invalid monitor interval %q", cfg.Loops.MonitorInterval)
	}
	heartbeatInterval, ok := scheduleInterval(cfg.Loops.HeartbeatInterval)
	if !ok {
		return nil, fmt.Errorf("invalid heartbeat interval %q", cfg.Loops.HeartbeatInterval)
	}

	return &App{
		cfg:               cfg,
		tiers:             tiers,
		settings:          settingsMgr,
		source:            source,
		oracle:            oracleClient,
		exchange:          exch,
		judge:             jdg,
		riskMgr:           riskMgr,
		regime:            market.NewRegimeDetector(time.Duration(cfg.Risk.RegimeGraceMinutes) * time.Minute),
		trader:            trd,
		history:           historyStore,
		decisions:         decisionStore,
		notifier:          notify,
		lastDecisions:     make(map[string]types.Decision),
		signalInterval:    signalInterval,
		monitorInterval:   monitorInterval,
		heartbeatInterval: heartbeatInterval,
		reconcileCycles:   cfg.Loops.ReconcileEveryCycles,
	}, nil
}

func buildExchange(cfg config.ExchangeConfig) (exchange.Exchange, error) {
	apiKey, err := config.ResolveEnv(cfg.APIKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("resolving exchange credentials: %w", err)
	}
	apiSecret, err := config.ResolveEnv(cfg.APISecretEnv)
	if err != nil {
		return nil, fmt.Errorf("resolving exchange credentials: %w", err)
	}
	passphrase, err := config.ResolveEnv(cfg.PassphraseEnv)
	if err != nil {
		return nil, fmt.Errorf("resolving exchange credentials: %w", err)
	}
	switch cfg.Name {
	case "", "weex":
		return weex.NewClient(weex.Config{
			BaseURL:          cfg.BaseURL,
			APIKey:           apiKey,
			APISecret:        apiSecret,
			Passphrase:       passphrase,
			Timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
			RetryBudget:      cfg.RetryBudget,
			BreakerThreshold: cfg.BreakerThreshold,
			BreakerReset:     time.Duration(cfg.BreakerResetSec) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unsupported exchange %q", cfg.Name)
	}
}

// scheduleInterval 接受 "5m"/"4h" 这类 K 线周期写法，也接受
// time.ParseDuration 的任意写法。
func scheduleInterval(s string) (time.Duration, bool) {
	if d, ok := scheduler.ParseIntervalDuration(s); ok {
		return d, true
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}
