// Package feed 提供标的现货行情：实时价格、已实现波动率与短周期动量。
package feed

import (
	"sync"
	"time"
)

// PriceSource 现货价格来源
type PriceSource interface {
	// Price 返回某交易对的最新价及其更新时间；无数据时 ok=false
	Price(symbol string) (price float64, at time.Time, ok bool)
	// Age 距上次更新的时长；无数据时返回很大的值
	Age(symbol string, now time.Time) time.Duration
}

type tick struct {
	price float64
	ts    time.Time
}

// tickHistory 单交易对的 tick 历史（保留近 5 分钟）
type tickHistory struct {
	ticks []tick
	last  tick
	has   bool
}

const tickRetention = 5 * time.Minute

func (h *tickHistory) add(price float64, now time.Time) {
	h.ticks = append(h.ticks, tick{price: price, ts: now})
	h.last = tick{price: price, ts: now}
	h.has = true

	cutoff := now.Add(-tickRetention)
	i := 0
	for ; i < len(h.ticks); i++ {
		if !h.ticks[i].ts.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		h.ticks = h.ticks[i:]
	}
}

// changeFrac 返回 lookback 窗口内的价格变化率 (last-old)/old
func (h *tickHistory) changeFrac(lookback time.Duration, now time.Time) (float64, bool) {
	if !h.has || len(h.ticks) == 0 || lookback <= 0 {
		return 0, false
	}
	cutoff := now.Add(-lookback)
	var old *tick
	for i := 0; i < len(h.ticks); i++ {
		if !h.ticks[i].ts.Before(cutoff) {
			old = &h.ticks[i]
			break
		}
	}
	if old == nil || old.price <= 0 {
		return 0, false
	}
	return (h.last.price - old.price) / old.price, true
}

// PriceBook 汇聚多交易对的最新价与历史，供策略查询。
// 行情源（Binance WS）负责写入，策略线程只读。
type PriceBook struct {
	mu   sync.RWMutex
	hist map[string]*tickHistory
}

func NewPriceBook() *PriceBook {
	return &PriceBook{hist: make(map[string]*tickHistory)}
}

// Update 写入一笔成交价
func (b *PriceBook) Update(symbol string, price float64, now time.Time) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	h := b.hist[symbol]
	if h == nil {
		h = &tickHistory{}
		b.hist[symbol] = h
	}
	h.add(price, now)
	b.mu.Unlock()
}

// Price 实现 PriceSource
func (b *PriceBook) Price(symbol string) (float64, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.hist[symbol]
	if h == nil || !h.has {
		return 0, time.Time{}, false
	}
	return h.last.price, h.last.ts, true
}

// Age 实现 PriceSource
func (b *PriceBook) Age(symbol string, now time.Time) time.Duration {
	_, at, ok := b.Price(symbol)
	if !ok {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(at)
}

// Momentum 返回 lookback 内的价格变化率（如 0.001 = 上涨 0.1%）
func (b *PriceBook) Momentum(symbol string, lookback time.Duration, now time.Time) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.hist[symbol]
	if h == nil {
		return 0, false
	}
	return h.changeFrac(lookback, now)
}
