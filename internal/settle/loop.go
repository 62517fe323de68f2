// Package settle 负责事后三件事：到期窗口的结算、赢仓的链上赎回、
// 账本与交易所持仓的对账。
package settle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/exchange"
	"github.com/betbot/snipebot/internal/ledger"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/internal/risk"
	"github.com/betbot/snipebot/pkg/cache"
	"github.com/betbot/snipebot/pkg/logger"
)

// settleBuffer 到期后留给预言机出结果的缓冲
const settleBuffer = 5 * time.Second

// Oracle 结算结果查询
type Oracle interface {
	Winner(ctx context.Context, slug string) (winner domain.Side, decided bool, err error)
}

// Redeemer 链上赎回
type Redeemer interface {
	Redeem(ctx context.Context, conditionID string) error
}

// PositionSource 交易所权威持仓
type PositionSource interface {
	Positions(ctx context.Context) ([]*exchange.ExchangePosition, error)
}

// BalanceRefresher 赎回到账后强制刷新余额
type BalanceRefresher interface {
	ForceRefresh()
}

// Config 循环周期
type Config struct {
	SettleInterval    time.Duration // 结算扫描
	RedeemInterval    time.Duration // 赎回扫描
	ReconcileInterval time.Duration // 对账扫描
}

// DefaultConfig 缺省参数
func DefaultConfig() Config {
	return Config{
		SettleInterval:    30 * time.Second,
		RedeemInterval:    60 * time.Second,
		ReconcileInterval: 5 * time.Minute,
	}
}

// Loop 结算循环
type Loop struct {
	cfg       Config
	ledger    *ledger.Ledger
	oracle    Oracle
	redeemer  Redeemer       // 可为 nil（纸面模式）
	positions PositionSource // 可为 nil（对账停用）
	state     *risk.State
	monitor   *risk.EdgeMonitor
	breaker   *risk.CircuitBreaker
	balance   BalanceRefresher
	outcomes  *cache.OutcomeCache
	log       *logrus.Entry

	mu          sync.Mutex
	redeemQueue map[string]bool // conditionID → 待赎回
}

func NewLoop(cfg Config, lg *ledger.Ledger, oracle Oracle, redeemer Redeemer, positions PositionSource, state *risk.State, monitor *risk.EdgeMonitor, breaker *risk.CircuitBreaker, balance BalanceRefresher) *Loop {
	return &Loop{
		cfg:         cfg,
		ledger:      lg,
		oracle:      oracle,
		redeemer:    redeemer,
		positions:   positions,
		state:       state,
		monitor:     monitor,
		breaker:     breaker,
		balance:     balance,
		outcomes:    cache.NewOutcomeCache(),
		log:         logger.WithField("component", "settle"),
		redeemQueue: make(map[string]bool),
	}
}

// Run 阻塞运行直到 ctx 取消。启动即跑一轮结算与对账，
// 崩溃前遗留的孤儿记录在第一轮就得到处理。
func (l *Loop) Run(ctx context.Context) {
	settle := time.NewTicker(l.cfg.SettleInterval)
	redeem := time.NewTicker(l.cfg.RedeemInterval)
	reconcile := time.NewTicker(l.cfg.ReconcileInterval)
	defer settle.Stop()
	defer redeem.Stop()
	defer reconcile.Stop()

	l.SettlePass(ctx, time.Now())
	l.ReconcilePass(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-settle.C:
			l.SettlePass(ctx, time.Now())
		case <-redeem.C:
			l.redeemPass(ctx)
		case <-reconcile.C:
			l.ReconcilePass(ctx, time.Now())
		}
	}
}

// SettlePass 结算一轮：所有已过期的未决记录问一次预言机。
// 到期时间未知的记录（对账重建且 slug 不可解析）也直接问，
// 预言机未定出结果前它们保持未决。
func (l *Loop) SettlePass(ctx context.Context, now time.Time) {
	for _, rec := range l.ledger.Pending() {
		if !rec.ExpiryTime.IsZero() && now.Before(rec.ExpiryTime.Add(settleBuffer)) {
			continue
		}
		winner, decided := l.lookupWinner(ctx, rec)
		if !decided {
			continue
		}
		l.resolve(rec, winner, now)
	}
}

func (l *Loop) lookupWinner(ctx context.Context, rec *domain.TradeRecord) (domain.Side, bool) {
	if cached, ok := l.outcomes.Get(rec.WindowID); ok {
		side, err := domain.ParseSide(cached)
		if err == nil {
			return side, true
		}
	}
	winner, decided, err := l.oracle.Winner(ctx, rec.Slug)
	if err != nil {
		l.log.Warnf("结算查询失败 %s: %v", rec.Slug, err)
		return "", false
	}
	if !decided {
		return "", false
	}
	l.outcomes.Set(rec.WindowID, string(winner))
	return winner, true
}

func (l *Loop) resolve(rec *domain.TradeRecord, winner domain.Side, now time.Time) {
	done, err := l.ledger.Resolve(rec.Key, winner, now)
	if err != nil {
		l.log.Warnf("结算落账失败 %s: %v", rec.Key, err)
		return
	}
	if !done {
		return
	}

	won := winner == rec.Side
	if won {
		metrics.TradesWon.Add(1)
	} else {
		metrics.TradesLost.Add(1)
	}
	l.state.Settle(won, rec.Price, rec.Payout(), rec.PnL)
	if l.monitor != nil {
		l.monitor.Record(won)
	}
	// 熔断按结算时刻计窗口：跨品种同时到期的亏损只算一次连败
	l.breaker.RecordWindow(strconv.FormatInt(rec.ExpiryTime.Unix(), 10), won)
	if l.breaker.Halted() {
		l.log.Errorf("连败熔断触发（%d 连败），停止下单，等待人工确认", l.breaker.ConsecutiveLosses())
	}

	if won && rec.ConditionID != "" {
		l.mu.Lock()
		l.redeemQueue[rec.ConditionID] = true
		l.mu.Unlock()
	}
}

// redeemPass 赎回一轮。合约侧重复赎回是空操作，失败的留在队列重试。
func (l *Loop) redeemPass(ctx context.Context) {
	if l.redeemer == nil {
		return
	}
	l.mu.Lock()
	queue := make([]string, 0, len(l.redeemQueue))
	for id := range l.redeemQueue {
		queue = append(queue, id)
	}
	l.mu.Unlock()

	redeemed := false
	for _, id := range queue {
		if err := l.redeemer.Redeem(ctx, id); err != nil {
			metrics.RedeemErrors.Add(1)
			l.log.Warnf("赎回失败 %s: %v", id, err)
			continue
		}
		metrics.Redemptions.Add(1)
		l.mu.Lock()
		delete(l.redeemQueue, id)
		l.mu.Unlock()
		redeemed = true
	}
	if redeemed && l.balance != nil {
		l.balance.ForceRefresh()
	}
}

// ReconcilePass 对账一轮：清幽灵、补缺账
func (l *Loop) ReconcilePass(ctx context.Context, now time.Time) {
	if l.positions == nil {
		return
	}
	metrics.ReconcileRuns.Add(1)
	positions, err := l.positions.Positions(ctx)
	if err != nil {
		metrics.ReconcileErrors.Add(1)
		l.log.Warnf("持仓查询失败，跳过本轮对账: %v", err)
		return
	}
	report, err := l.ledger.Reconcile(positions, now)
	if err != nil {
		metrics.ReconcileErrors.Add(1)
		l.log.Warnf("对账失败: %v", err)
	}
	for _, rec := range report.Phantoms {
		// 幽灵仓没有真实资金流动：回滚之前的本金占用
		metrics.PhantomsDropped.Add(1)
		l.state.DropPending(rec.Cost)
	}
	for _, rec := range report.Reconstructed {
		l.state.AddPending(rec.Cost)
	}
}

// QueuedRedemptions 待赎回数（诊断用）
func (l *Loop) QueuedRedemptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.redeemQueue)
}
