package domain

import "time"

// TradeStatus 账本记录状态
type TradeStatus string

const (
	TradeStatusPending TradeStatus = "PENDING" // 已提交/已成交，结果未定
	TradeStatusWon     TradeStatus = "WON"     // 结算为赢
	TradeStatusLost    TradeStatus = "LOST"    // 结算为输
)

// Decided 状态是否已终结
func (s TradeStatus) Decided() bool {
	return s == TradeStatusWon || s == TradeStatusLost
}

// TradeRecord 账本交易记录
//
// 每条记录对应一个 (窗口, 方向) 头寸，Key = WindowID:Side。
// 下单前先落盘 PENDING，结算后置为 WON/LOST，保证崩溃后可恢复。
type TradeRecord struct {
	Key         string      `json:"key"`          // WindowID:Side
	WindowID    string      `json:"window_id"`    // 结算窗口 ID
	Slug        string      `json:"slug"`         // 市场 slug
	Instrument  string      `json:"instrument"`   // 品种 ID
	Side        Side        `json:"side"`         // 买入方向
	AssetID     string      `json:"asset_id"`     // token 资产 ID
	ConditionID string      `json:"condition_id"` // 条件 ID（赎回用）
	Price       float64     `json:"price"`        // 成交均价
	Tokens      float64     `json:"tokens"`       // 持有 token 数
	Cost        float64     `json:"cost"`         // 投入本金（USDC）
	Fee         float64     `json:"fee"`          // taker 费用
	Strike      float64     `json:"strike"`       // 下单时行权价
	FairProb    float64     `json:"fair_prob"`    // 下单时模型公允概率
	OrderID     string      `json:"order_id"`     // 交易所订单 ID
	Status      TradeStatus `json:"status"`       // 当前状态
	Phantom     bool        `json:"phantom"`      // 对账发现的幽灵仓（账本缺失）
	SubmittedAt time.Time   `json:"submitted_at"` // 提交时间
	ExpiryTime  time.Time   `json:"expiry_time"`  // 窗口到期时间
	ResolvedAt  time.Time   `json:"resolved_at"`  // 结算时间（零值表示未结算）
	Winner      Side        `json:"winner"`       // 结算赢家
	PnL         float64     `json:"pnl"`          // 已实现盈亏（USDC）
}

// Pending 是否仍未结算
func (t *TradeRecord) Pending() bool {
	return t.Status == TradeStatusPending
}

// Resolve 用赢家方向终结记录并计算盈亏。
// 对已终结的记录重复调用是幂等的。
func (t *TradeRecord) Resolve(winner Side, at time.Time) {
	if t.Status.Decided() {
		return
	}
	t.Winner = winner
	t.ResolvedAt = at
	if winner == t.Side {
		t.Status = TradeStatusWon
		t.PnL = t.Tokens - t.Cost - t.Fee
	} else {
		t.Status = TradeStatusLost
		t.PnL = -t.Cost - t.Fee
	}
}

// Payout 赢时的名义回款（每 token 结算为 $1）
func (t *TradeRecord) Payout() float64 {
	if t.Status == TradeStatusWon {
		return t.Tokens
	}
	return 0
}
