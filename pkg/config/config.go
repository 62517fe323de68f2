// Package config 负责加载与校验机器人配置。
// 优先级：环境变量（仅密钥类） > YAML 配置文件 > 默认值。
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// InstrumentConfig 单个交易品种
type InstrumentConfig struct {
	Symbol      string `yaml:"symbol"`       // 标的符号（btc、eth、sol、xrp）
	FeedSymbol  string `yaml:"feed_symbol"`  // 行情源交易对（BTCUSDT）
	DurationMin int    `yaml:"duration_min"` // 窗口周期（分钟）
	DurationTag string `yaml:"duration_tag"` // 周期标签（5m、15m、1h）
}

// ExchangeConfig 交易所各端点
type ExchangeConfig struct {
	GammaURL    string `yaml:"gamma_url"`    // 市场发现
	ClobURL     string `yaml:"clob_url"`     // 订单簿与下单
	DataAPIURL  string `yaml:"data_api_url"` // 持仓查询
	SnapshotURL string `yaml:"snapshot_url"` // 结算源开盘价快照（可空，空则跳过 oracle 行权价）
}

// WalletConfig 钱包与链上配置。
// 私钥/助记词可放环境变量、配置文件或加密 secretstore，三选一。
type WalletConfig struct {
	PrivateKey        string `yaml:"private_key"`
	Mnemonic          string `yaml:"mnemonic"`
	SecretStorePath   string `yaml:"secret_store_path"` // badger 目录；非空时优先于上面两项
	RPCURL            string `yaml:"rpc_url"`
	ChainID           int64  `yaml:"chain_id"`
	ConditionalTokens string `yaml:"conditional_tokens"` // CTF 合约地址
	Collateral        string `yaml:"collateral"`         // USDC 合约地址
}

// FeedConfig 行情与波动率
type FeedConfig struct {
	FixedVol   float64 `yaml:"fixed_vol"`   // 固定年化波动率覆盖（0 关闭）
	EnableDVOL bool    `yaml:"enable_dvol"` // Deribit DVOL 隐含波动率
}

// MarketConfig 窗口管理
type MarketConfig struct {
	PollIntervalSec      int `yaml:"poll_interval_sec"`       // 盘口刷新周期
	RolloverIntervalSec  int `yaml:"rollover_interval_sec"`   // 换窗检测周期
	StrikeSettleDelaySec int `yaml:"strike_settle_delay_sec"` // 开窗后等盘口成形
	StrikeSpotWindowSec  int `yaml:"strike_spot_window_sec"`  // 开窗后现货可作行权价的时长
}

// FilterSet 入场过滤器；零值表示对应过滤器关闭
type FilterSet struct {
	BlockedHoursUTC []int   `yaml:"blocked_hours_utc"`
	BlockWeekends   bool    `yaml:"block_weekends"`
	MaxRealizedVol  float64 `yaml:"max_realized_vol"`
	MinConfidence   float64 `yaml:"min_confidence"`
	MinMomentumDisp float64 `yaml:"min_momentum_disp"`
	MinElapsedSec   int     `yaml:"min_elapsed_sec"`
	MaxRemainingSec int     `yaml:"max_remaining_sec"`
	MinPrice        float64 `yaml:"min_price"`
	MaxPrice        float64 `yaml:"max_price"`
	MinEdge         float64 `yaml:"min_edge"`
	MaxPriceAgeSec  int     `yaml:"max_price_age_sec"`
}

// EngineConfig 下单引擎
type EngineConfig struct {
	TickIntervalMs    int       `yaml:"tick_interval_ms"`
	RejectCooldownSec int       `yaml:"reject_cooldown_sec"`
	ConfirmGapMs      int       `yaml:"confirm_gap_ms"` // 信号确认间隔（0 关闭）
	RetryMinTokens    float64   `yaml:"retry_min_tokens"`
	Policy            string    `yaml:"policy"`      // take_ask / two_sided
	HalfSpread        float64   `yaml:"half_spread"` // two_sided 报价半价差
	Filters           FilterSet `yaml:"filters"`
}

// RiskConfig 仓位与风控
type RiskConfig struct {
	KellyNormal        float64 `yaml:"kelly_normal"`
	KellyStrong        float64 `yaml:"kelly_strong"`
	StrongPrice        float64 `yaml:"strong_price"`
	StrongEdge         float64 `yaml:"strong_edge"`
	MaxBetFraction     float64 `yaml:"max_bet_fraction"`
	MinBetUSDC         float64 `yaml:"min_bet_usdc"`
	MaxBetUSDC         float64 `yaml:"max_bet_usdc"`
	MinOrderTokens     float64 `yaml:"min_order_tokens"`
	Adaptive           bool    `yaml:"adaptive"`
	TargetWinRate      float64 `yaml:"target_win_rate"`
	AdaptiveMinSamples int     `yaml:"adaptive_min_samples"`
	AdaptiveFloor      float64 `yaml:"adaptive_floor"`
	MinSizeMode        bool    `yaml:"min_size_mode"`

	KellyOverrides map[string]float64 `yaml:"kelly_overrides"` // 品种 ID → 固定 Kelly 系数

	BreakerThreshold int     `yaml:"breaker_threshold"` // 连败熔断窗口数
	CusumThreshold   float64 `yaml:"cusum_threshold"`   // CUSUM 报警阈值
}

// SettleConfig 结算、赎回与对账
type SettleConfig struct {
	SettleIntervalSec    int `yaml:"settle_interval_sec"`
	RedeemIntervalSec    int `yaml:"redeem_interval_sec"`
	ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
}

// LogConfig 日志
type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	LogByWindow bool   `yaml:"log_by_window"` // 按市场窗口切分日志文件
}

// Config 应用配置根
type Config struct {
	Instruments []InstrumentConfig `yaml:"instruments"`
	Exchange    ExchangeConfig     `yaml:"exchange"`
	Wallet      WalletConfig       `yaml:"wallet"`
	Feed        FeedConfig         `yaml:"feed"`
	Market      MarketConfig       `yaml:"market"`
	Engine      EngineConfig       `yaml:"engine"`
	Risk        RiskConfig         `yaml:"risk"`
	Settle      SettleConfig       `yaml:"settle"`
	Log         LogConfig          `yaml:"log"`

	DataDir        string  `yaml:"data_dir"`         // 账本与结算日志目录
	MetricsAddr    string  `yaml:"metrics_addr"`     // expvar/pprof 监听地址（空则不启动）
	DryRun         bool    `yaml:"dry_run"`          // 纸面撮合，不发真实订单
	DryRunBankroll float64 `yaml:"dry_run_bankroll"` // 纸面模式的虚拟本金（USDC）
}

// Default 返回带全部默认值的配置
func Default() *Config {
	return &Config{
		Instruments: []InstrumentConfig{
			{Symbol: "btc", FeedSymbol: "BTCUSDT", DurationMin: 15, DurationTag: "15m"},
		},
		Exchange: ExchangeConfig{
			GammaURL:   "https://gamma-api.polymarket.com",
			ClobURL:    "https://clob.polymarket.com",
			DataAPIURL: "https://data-api.polymarket.com",
		},
		Wallet: WalletConfig{
			RPCURL:            "https://polygon-rpc.com",
			ChainID:           137,
			ConditionalTokens: "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
			Collateral:        "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		},
		Market: MarketConfig{
			PollIntervalSec:      30,
			RolloverIntervalSec:  2,
			StrikeSettleDelaySec: 3,
			StrikeSpotWindowSec:  60,
		},
		Engine: EngineConfig{
			TickIntervalMs:    500,
			RejectCooldownSec: 60,
			RetryMinTokens:    5,
			Policy:            "take_ask",
			Filters: FilterSet{
				MinPrice: 0.05,
				MaxPrice: 0.95,
				MinEdge:  0.02,
			},
		},
		Risk: RiskConfig{
			KellyNormal:        0.50,
			KellyStrong:        0.75,
			StrongPrice:        0.60,
			StrongEdge:         0.10,
			MaxBetFraction:     0.15,
			MinOrderTokens:     5,
			Adaptive:           true,
			TargetWinRate:      0.55,
			AdaptiveMinSamples: 10,
			AdaptiveFloor:      0.25,
			BreakerThreshold:   5,
			CusumThreshold:     5.0,
		},
		Settle: SettleConfig{
			SettleIntervalSec:    30,
			RedeemIntervalSec:    60,
			ReconcileIntervalSec: 300,
		},
		Log: LogConfig{
			Level: "info",
			File:  "logs/sniper.log",
		},
		DataDir:        "data",
		DryRunBankroll: 100,
	}
}

// Load 从 YAML 文件加载配置；path 为空时只用默认值加环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil, errors.Errorf("unsupported config format %s (want .yaml/.yml)", ext)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖。密钥类永远以环境变量为准，避免写进配置文件。
func (c *Config) applyEnv() {
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		c.Wallet.PrivateKey = v
	}
	if v := os.Getenv("WALLET_MNEMONIC"); v != "" {
		c.Wallet.Mnemonic = v
	}
	if v := os.Getenv("SECRET_STORE_PATH"); v != "" {
		c.Wallet.SecretStorePath = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		c.Wallet.RPCURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DryRun = b
		}
	}
}

// Validate 配置校验；失败直接拒绝启动
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return errors.New("at least one instrument is required")
	}
	for i, inst := range c.Instruments {
		if inst.Symbol == "" || inst.FeedSymbol == "" {
			return errors.Errorf("instrument %d: symbol and feed_symbol are required", i)
		}
		if inst.DurationMin < 1 {
			return errors.Errorf("instrument %s: duration_min must be >= 1", inst.Symbol)
		}
		if inst.DurationTag == "" {
			return errors.Errorf("instrument %s: duration_tag is required", inst.Symbol)
		}
	}
	if c.Exchange.GammaURL == "" || c.Exchange.ClobURL == "" {
		return errors.New("exchange gamma_url and clob_url are required")
	}
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.Mnemonic == "" && c.Wallet.SecretStorePath == "" {
			return errors.New("live mode needs wallet.private_key, wallet.mnemonic or wallet.secret_store_path")
		}
		if c.Wallet.RPCURL == "" {
			return errors.New("live mode needs wallet.rpc_url")
		}
	}
	if c.Engine.Policy == "" {
		return errors.New("engine.policy is required")
	}
	if c.Engine.TickIntervalMs < 100 {
		return errors.Errorf("engine.tick_interval_ms too small: %d", c.Engine.TickIntervalMs)
	}
	if f := c.Engine.Filters; f.MinPrice < 0 || f.MaxPrice > 1 || (f.MaxPrice > 0 && f.MinPrice >= f.MaxPrice) {
		return errors.New("engine.filters price bounds must satisfy 0 <= min < max <= 1")
	}
	for _, h := range c.Engine.Filters.BlockedHoursUTC {
		if h < 0 || h > 23 {
			return errors.Errorf("engine.filters.blocked_hours_utc: invalid hour %d", h)
		}
	}
	r := c.Risk
	if r.KellyNormal <= 0 || r.KellyNormal > 1 || r.KellyStrong <= 0 || r.KellyStrong > 1 {
		return errors.New("risk kelly fractions must be in (0, 1]")
	}
	if r.MaxBetFraction <= 0 || r.MaxBetFraction > 1 {
		return errors.New("risk.max_bet_fraction must be in (0, 1]")
	}
	if r.TargetWinRate <= 0.5 || r.TargetWinRate >= 1 {
		return errors.New("risk.target_win_rate must be in (0.5, 1)")
	}
	if r.BreakerThreshold < 1 {
		return errors.New("risk.breaker_threshold must be >= 1")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	return nil
}

// TickInterval 等时长访问器：YAML 里存整数，代码里用 time.Duration
func (c *EngineConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c *EngineConfig) RejectCooldown() time.Duration {
	return time.Duration(c.RejectCooldownSec) * time.Second
}

func (c *EngineConfig) ConfirmGap() time.Duration {
	return time.Duration(c.ConfirmGapMs) * time.Millisecond
}

func (c *MarketConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *MarketConfig) RolloverInterval() time.Duration {
	return time.Duration(c.RolloverIntervalSec) * time.Second
}

func (c *MarketConfig) StrikeSettleDelay() time.Duration {
	return time.Duration(c.StrikeSettleDelaySec) * time.Second
}

func (c *MarketConfig) StrikeSpotWindow() time.Duration {
	return time.Duration(c.StrikeSpotWindowSec) * time.Second
}

func (c *SettleConfig) SettleInterval() time.Duration {
	return time.Duration(c.SettleIntervalSec) * time.Second
}

func (c *SettleConfig) RedeemInterval() time.Duration {
	return time.Duration(c.RedeemIntervalSec) * time.Second
}

func (c *SettleConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}

// ResolvedDBPath 已结算交易日志（sqlite）
func (c *Config) ResolvedDBPath() string {
	return filepath.Join(c.DataDir, "resolved.db")
}
