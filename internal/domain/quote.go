package domain

import "time"

// BookTop 单个 token 的盘口快照（一档）
type BookTop struct {
	Bid       Price     // 最优买价（零值表示缺失）
	Ask       Price     // 最优卖价（零值表示缺失）
	BidSize   float64   // 买一挂单量（token）
	AskSize   float64   // 卖一挂单量（token）
	UpdatedAt time.Time // 快照时间
}

// HasAsk 卖一是否存在
func (b BookTop) HasAsk() bool {
	return !b.Ask.IsZero()
}

// HasBid 买一是否存在
func (b BookTop) HasBid() bool {
	return !b.Bid.IsZero()
}

// Mid 中间价，仅在双边都存在时有效
func (b BookTop) Mid() (float64, bool) {
	if !b.HasBid() || !b.HasAsk() {
		return 0, false
	}
	return (b.Bid.ToDecimal() + b.Ask.ToDecimal()) / 2, true
}

// Spread 买卖价差（小数口径）
func (b BookTop) Spread() float64 {
	if !b.HasBid() || !b.HasAsk() {
		return 1
	}
	return b.Ask.ToDecimal() - b.Bid.ToDecimal()
}

// WindowQuote 一个窗口双边盘口
type WindowQuote struct {
	WindowID string
	Up       BookTop
	Down     BookTop
}

// Top 按方向取盘口
func (q *WindowQuote) Top(side Side) BookTop {
	if side == SideUp {
		return q.Up
	}
	return q.Down
}
