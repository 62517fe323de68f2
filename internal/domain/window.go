package domain

import (
	"fmt"
	"time"
)

// WindowState 结算窗口生命周期状态
type WindowState string

const (
	WindowStateDiscovered WindowState = "discovered" // 已发现，盘口尚未确认
	WindowStateActive     WindowState = "active"     // 交易中
	WindowStateExpired    WindowState = "expired"    // 已到期，等待预言机结算
	WindowStateSettled    WindowState = "settled"    // 已结算，赢家已确定
)

// MarketWindow 结算窗口领域模型
//
// 一个窗口对应一个二元市场：标的价格在 expiry 时高于 strike 则 Up 赢，
// 否则 Down 赢。窗口按固定周期（5m/15m/1h...）滚动生成。
type MarketWindow struct {
	Slug         string      // 市场 slug（含窗口开始的 Unix 时间戳）
	WindowID     string      // 窗口 ID（instrument + 周期 + 开始时间戳）
	Instrument   *Instrument // 所属品种
	UpAssetID    string      // Up token 资产 ID
	DownAssetID  string      // Down token 资产 ID
	ConditionID  string      // 条件 ID（链上赎回用）
	Strike       float64     // 行权价（0 表示尚未确定）
	StrikeSource string      // 行权价来源（oracle/spot/backsolve/spot_fallback）
	OpenTime     time.Time   // 窗口开始时间
	ExpiryTime   time.Time   // 窗口到期时间
	State        WindowState // 当前状态

	// StartupWindow: 进程启动时该窗口已在进行中。
	// 无法回溯窗口开始时的结算源快照，行权价不可靠，禁止开仓。
	StartupWindow bool
}

// IsValid 验证窗口是否有效
func (w *MarketWindow) IsValid() bool {
	return w.Slug != "" && w.UpAssetID != "" && w.DownAssetID != "" &&
		w.Instrument != nil && w.ExpiryTime.After(w.OpenTime)
}

// AssetID 根据方向获取资产 ID
func (w *MarketWindow) AssetID(side Side) string {
	if side == SideUp {
		return w.UpAssetID
	}
	return w.DownAssetID
}

// Tradable 当前是否允许开仓
func (w *MarketWindow) Tradable() bool {
	return w.State == WindowStateActive && !w.StartupWindow && w.Strike > 0
}

// SecondsToExpiry 距到期剩余秒数（已过期返回 0）
func (w *MarketWindow) SecondsToExpiry(now time.Time) float64 {
	d := w.ExpiryTime.Sub(now).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// Expired 是否已过到期时间
func (w *MarketWindow) Expired(now time.Time) bool {
	return !now.Before(w.ExpiryTime)
}

// Age 窗口已开盘时长
func (w *MarketWindow) Age(now time.Time) time.Duration {
	return now.Sub(w.OpenTime)
}

// TradeKey 返回 (窗口, 方向) 的账本键
func (w *MarketWindow) TradeKey(side Side) string {
	return fmt.Sprintf("%s:%s", w.WindowID, side)
}

// Instrument 交易品种（标的 + 窗口周期）
type Instrument struct {
	Symbol      string        // 标的符号（如 btc、eth）
	FeedSymbol  string        // 行情源交易对（如 BTCUSDT）
	Duration    time.Duration // 窗口周期
	DurationTag string        // 周期标签（如 5m、15m、1h）
}

// ID 品种唯一标识
func (i *Instrument) ID() string {
	return i.Symbol + "-" + i.DurationTag
}

// TakerFeeRate 按窗口周期返回 taker 费率系数。
// 实际费用 = price * (1 - price) * rate。
func (i *Instrument) TakerFeeRate() float64 {
	switch i.DurationTag {
	case "5m":
		return 0.0176
	case "15m":
		return 0.0624
	default:
		return 0
	}
}

// TakerFee 按成交价与名义额计算 taker 费用
func (i *Instrument) TakerFee(price, notional float64) float64 {
	return price * (1 - price) * i.TakerFeeRate() * notional
}

// WindowID 给定开始时间的窗口 ID
func (i *Instrument) WindowID(openTime time.Time) string {
	return fmt.Sprintf("%s-%s-%d", i.Symbol, i.DurationTag, openTime.Unix())
}

// WindowOpenTime 返回包含 now 的当前窗口的开始时间（按周期对齐）
func (i *Instrument) WindowOpenTime(now time.Time) time.Time {
	return now.Truncate(i.Duration)
}
