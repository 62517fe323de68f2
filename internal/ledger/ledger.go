// Package ledger 是资金真相的唯一来源：崩溃安全的未决记录哨兵文件
// 加只追加的已结算日志。下单前必须先落盘，结算必须幂等。
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/exchange"
	"github.com/betbot/snipebot/pkg/logger"
	"github.com/betbot/snipebot/pkg/persistence"
)

// reconcileGrace 新开仓在权威持仓接口上的可见延迟，
// 此时间内的未决记录不参与幽灵判定。
const reconcileGrace = 2 * time.Minute

// Ledger 交易账本
type Ledger struct {
	mu       sync.Mutex
	pending  map[string]*domain.TradeRecord // key → 未决记录
	store    persistence.Store              // 未决哨兵文件
	resolved *ResolvedLog
	log      *logrus.Entry
}

// NewLedger 打开账本并载入崩溃前遗留的未决记录
func NewLedger(svc persistence.Service, resolved *ResolvedLog) (*Ledger, error) {
	l := &Ledger{
		pending:  make(map[string]*domain.TradeRecord),
		store:    svc.NewStore("ledger", "trades", "pending"),
		resolved: resolved,
		log:      logger.WithField("component", "ledger"),
	}
	if err := l.store.Load(&l.pending); err != nil && !errors.Is(err, persistence.ErrNotExists) {
		return nil, errors.Wrap(err, "load pending trades")
	}
	if n := len(l.pending); n > 0 {
		l.log.Warnf("载入 %d 条崩溃前的未决记录，等待结算循环处理", n)
	}
	return l, nil
}

// persistLocked 把未决集合原子落盘（调用方须持锁）
func (l *Ledger) persistLocked() error {
	return errors.Wrap(l.store.Save(l.pending), "persist pending trades")
}

// OpenTrade 登记一笔新交易。返回 nil 时记录已落盘，
// 之后才允许把订单发往交易所。同一 (窗口, 方向) 重复开仓报错。
func (l *Ledger) OpenTrade(rec *domain.TradeRecord) error {
	if rec.Key == "" || rec.WindowID == "" || !rec.Side.Valid() {
		return errors.Errorf("malformed trade record: %+v", rec)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.pending[rec.Key]; dup {
		return errors.Errorf("duplicate open for %s", rec.Key)
	}
	rec.Status = domain.TradeStatusPending
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}
	l.pending[rec.Key] = rec

	if err := l.persistLocked(); err != nil {
		delete(l.pending, rec.Key)
		return err
	}
	return nil
}

// DropUnfilled 移除一条从未成交的未决记录（FOK 被拒后的清理）。
// 不写结算日志：没有资金流动，也没有可结算的仓位。
func (l *Ledger) DropUnfilled(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[key]; !ok {
		return nil
	}
	delete(l.pending, key)
	return l.persistLocked()
}

// UpdateFill 成交确认后回填真实成交价与数量
func (l *Ledger) UpdateFill(key string, avgPrice, tokens, cost, fee float64, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.pending[key]
	if !ok {
		return errors.Errorf("no pending record for %s", key)
	}
	rec.Price = avgPrice
	rec.Tokens = tokens
	rec.Cost = cost
	rec.Fee = fee
	rec.OrderID = orderID
	return l.persistLocked()
}

// Resolve 用赢家终结一条未决记录。
// 未知或已终结的键是空操作，返回 (false, nil)，结算循环可以重放。
func (l *Ledger) Resolve(key string, winner domain.Side, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.pending[key]
	if !ok {
		return false, nil
	}
	rec.Resolve(winner, at)
	if err := l.resolved.Append(rec, string(rec.Status)); err != nil {
		// 日志写失败时保留未决，下一轮重试
		rec.Status = domain.TradeStatusPending
		rec.ResolvedAt = time.Time{}
		return false, err
	}
	delete(l.pending, key)
	if err := l.persistLocked(); err != nil {
		return true, err
	}

	l.log.WithFields(logrus.Fields{
		"key":    key,
		"result": rec.Status,
		"pnl":    rec.PnL,
	}).Info("交易结算")
	return true, nil
}

// ResolvePhantom 把一条未决记录标记为幽灵并移除。
// 幽灵仓没有真实资金流动：pnl 记 0，不计入胜负。
func (l *Ledger) ResolvePhantom(key string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.pending[key]
	if !ok {
		return false, nil
	}
	rec.Phantom = true
	rec.ResolvedAt = at
	rec.PnL = 0
	if err := l.resolved.Append(rec, OutcomePhantom); err != nil {
		return false, err
	}
	delete(l.pending, key)
	if err := l.persistLocked(); err != nil {
		return true, err
	}
	l.log.Warnf("幽灵仓清除: %s（账本有记录，交易所无持仓）", key)
	return true, nil
}

// Pending 全部未决记录（按提交时间排序的副本）
func (l *Ledger) Pending() []*domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.TradeRecord, 0, len(l.pending))
	for _, rec := range l.pending {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Has 某键是否存在未决记录
func (l *Ledger) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[key]
	return ok
}

// HasWindow 某窗口是否已有任一方向的未决记录
func (l *Ledger) HasWindow(windowID string) (domain.Side, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.pending {
		if rec.WindowID == windowID {
			return rec.Side, true
		}
	}
	return "", false
}

// ReconcileReport 对账结果
type ReconcileReport struct {
	Phantoms      []*domain.TradeRecord // 被清除的幽灵记录
	Reconstructed []*domain.TradeRecord // 从交易所持仓重建的记录
}

// Reconcile 把未决集合与交易所权威持仓比对。
// 账本有、交易所无 → 幽灵，清除；交易所有、账本无 → 重建未决记录。
// 刚提交（reconcileGrace 内）的记录跳过，持仓接口有可见延迟。
func (l *Ledger) Reconcile(positions []*exchange.ExchangePosition, now time.Time) (*ReconcileReport, error) {
	bySlugSide := make(map[string]*exchange.ExchangePosition, len(positions))
	for _, p := range positions {
		bySlugSide[p.Key()] = p
	}

	report := &ReconcileReport{}

	// 先收集，后处理：Resolve 系列方法自己拿锁
	l.mu.Lock()
	var suspects []*domain.TradeRecord
	seen := make(map[string]bool)
	for _, rec := range l.pending {
		seen[rec.Slug+":"+string(rec.Side)] = true
		if now.Sub(rec.SubmittedAt) < reconcileGrace {
			continue
		}
		if _, ok := bySlugSide[rec.Slug+":"+string(rec.Side)]; !ok {
			suspects = append(suspects, rec)
		}
	}
	l.mu.Unlock()

	for _, rec := range suspects {
		if ok, err := l.ResolvePhantom(rec.Key, now); err != nil {
			return report, err
		} else if ok {
			report.Phantoms = append(report.Phantoms, rec)
		}
	}

	for _, p := range positions {
		if seen[p.Key()] {
			continue
		}
		if p.Redeemable {
			// 已可赎回的旧仓不属于本会话的交易流
			continue
		}
		rec := &domain.TradeRecord{
			Key:         p.Key(),
			WindowID:    p.Slug,
			Slug:        p.Slug,
			Side:        p.Side,
			AssetID:     p.AssetID,
			ConditionID: p.ConditionID,
			Price:       p.AvgPrice,
			Tokens:      p.Tokens,
			Cost:        p.AvgPrice * p.Tokens,
			Status:      domain.TradeStatusPending,
			SubmittedAt: now,
		}
		// 到期时间从 slug 推导，让结算循环能正常处理重建记录；
		// 推导不了的留零值，由结算循环直接问预言机
		if open, dur, perr := exchange.ParseWindowSlug(p.Slug); perr == nil {
			rec.ExpiryTime = open.Add(dur)
		} else {
			l.log.Warnf("重建记录无法推导到期时间: %v", perr)
		}
		if err := l.OpenTrade(rec); err != nil {
			return report, err
		}
		report.Reconstructed = append(report.Reconstructed, rec)
		l.log.Warnf("重建账本记录: %s（交易所有持仓，账本缺失）", rec.Key)
	}
	return report, nil
}
