package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/pkg/logger"
	"github.com/betbot/snipebot/pkg/ratelimit"
)

// BalanceSource 资金余额来源（链上 USDC 查询）
type BalanceSource interface {
	USDCBalance(ctx context.Context) (float64, error)
}

// BalanceManager 已占用资金记账
//
// 余额查询最多每 10s 一次；两次刷新之间，成交即刻在本地扣减，
// 保证同一刷新周期内不会重复花同一笔钱。
// 查询失败时可用资金按零处理。
type BalanceManager struct {
	source BalanceSource
	gate   *ratelimit.IntervalGate
	log    *logrus.Entry

	mu        sync.Mutex
	cached    float64
	committed float64 // 上次刷新以来本地扣减的金额
	known     bool    // 是否拿到过有效余额
}

func NewBalanceManager(source BalanceSource, refreshInterval time.Duration) *BalanceManager {
	return &BalanceManager{
		source: source,
		gate:   ratelimit.NewIntervalGate(refreshInterval),
		log:    logger.WithField("component", "balance"),
	}
}

// Available 当前可用资金。到达刷新间隔时顺带刷新。
func (b *BalanceManager) Available(ctx context.Context) float64 {
	if b.gate.Allow() {
		b.refresh(ctx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known {
		return 0
	}
	avail := b.cached - b.committed
	if avail < 0 {
		return 0
	}
	return avail
}

func (b *BalanceManager) refresh(ctx context.Context) {
	bal, err := b.source.USDCBalance(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		// 失败时作废缓存：可用资金归零直到下次成功
		b.known = false
		b.log.Warnf("余额查询失败，可用资金按 0 处理: %v", err)
		return
	}
	b.cached = bal
	b.committed = 0
	b.known = true
}

// Commit 成交确认后即刻扣减本地可用资金
func (b *BalanceManager) Commit(cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed += cost
}

// ForceRefresh 下次 Available 强制走一次真实查询（赎回到账后调用）
func (b *BalanceManager) ForceRefresh() {
	b.gate.Reset()
}
