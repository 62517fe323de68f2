// Package engine 是策略主循环：扫描活跃窗口、估公允价、过滤、
// 排序、定规模、下 FOK 单，并维护已占用资金与冷却。
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/exchange"
	"github.com/betbot/snipebot/internal/ledger"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/internal/risk"
	"github.com/betbot/snipebot/pkg/fairvalue"
	"github.com/betbot/snipebot/pkg/logger"
	"github.com/betbot/snipebot/pkg/sigchan"
)

// Config 引擎参数
type Config struct {
	TickInterval   time.Duration // 主循环周期
	RejectCooldown time.Duration // FOK 被拒后同 (品种, 方向) 的冷却
	ConfirmGap     time.Duration // 信号确认间隔（0 关闭）
	RetryMinTokens float64       // 被拒后重试一次的最小 token 数
	Policy         string        // 报价策略名
	PolicyConfig   PolicyConfig
	Filters        FilterConfig
}

// DefaultConfig 缺省参数
func DefaultConfig() Config {
	return Config{
		TickInterval:   500 * time.Millisecond,
		RejectCooldown: 60 * time.Second,
		RetryMinTokens: 5,
		Policy:         "take_ask",
	}
}

// MarketView 引擎对市场层的只读依赖
type MarketView interface {
	ActiveWindows() []*domain.MarketWindow
	Quote(windowID string) (*domain.WindowQuote, bool)
}

// SpotView 现货与波动率
type SpotView interface {
	Price(symbol string) (float64, time.Time, bool)
	Age(symbol string, now time.Time) time.Duration
	EffectiveVol(symbol string, now time.Time) float64
}

// queuedSignal 等待确认的信号
type queuedSignal struct {
	queuedAt time.Time
	edge     float64
}

// Engine 交易引擎
type Engine struct {
	cfg     Config
	markets MarketView
	spot    SpotView
	calc    *fairvalue.Calculator
	sizer   *risk.Sizer
	breaker *risk.CircuitBreaker
	state   *risk.State
	ledger  *ledger.Ledger
	gateway exchange.OrderGateway
	balance *BalanceManager
	policy  OrderPolicy
	log     *logrus.Entry

	wake      *sigchan.Chan           // 换窗唤醒，不等下个 tick
	cooldowns map[string]time.Time    // instrumentID:side → 冷却截止
	confirm   map[string]queuedSignal // 账本键 → 待确认信号
}

func New(cfg Config, markets MarketView, spot SpotView, sizer *risk.Sizer, breaker *risk.CircuitBreaker, state *risk.State, lg *ledger.Ledger, gateway exchange.OrderGateway, balance *BalanceManager) (*Engine, error) {
	policy, err := NewPolicy(cfg.Policy, cfg.PolicyConfig)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		markets:   markets,
		spot:      spot,
		calc:      fairvalue.NewCalculator(),
		sizer:     sizer,
		breaker:   breaker,
		state:     state,
		ledger:    lg,
		gateway:   gateway,
		balance:   balance,
		policy:    policy,
		log:       logger.WithFields(logrus.Fields{"component": "engine", "policy": policy.Name()}),
		wake:      sigchan.New(1),
		cooldowns: make(map[string]time.Time),
		confirm:   make(map[string]queuedSignal),
	}, nil
}

// Run 阻塞运行直到 ctx 取消
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Infof("引擎启动，周期 %s", e.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.step(ctx, time.Now())
		case <-e.wake.C():
			e.step(ctx, time.Now())
		}
	}
}

// OnWindowChange 换窗后立刻唤醒主循环，新窗激活前的首个信号不吃 tick 延迟
func (e *Engine) OnWindowChange(oldWindow, newWindow *domain.MarketWindow) {
	e.wake.Emit()
}

// step 单次扫描
func (e *Engine) step(ctx context.Context, now time.Time) {
	metrics.TicksTotal.Add(1)
	if err := e.breaker.AllowTrading(); err != nil {
		return
	}

	// 候选消失后残留的确认条目要清掉，否则随换窗无限累积
	for k, sig := range e.confirm {
		if now.Sub(sig.queuedAt) > e.cfg.ConfirmGap+time.Minute {
			delete(e.confirm, k)
		}
	}

	candidates := e.scan(now)
	if len(candidates) == 0 {
		return
	}
	// 优势最大的优先，顺序执行到资金用尽（规模计算会逐笔收缩并最终拒绝）
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Edge > candidates[j].Edge })

	for _, c := range candidates {
		// 本 tick 内先成交的单可能已把同窗口的后续候选堵掉
		if e.positionBlocked(c) {
			continue
		}
		if !e.confirmed(c, now) {
			continue
		}
		e.execute(ctx, c, now)
	}
}

// scan 汇集全部通过过滤的候选
func (e *Engine) scan(now time.Time) []*Candidate {
	var out []*Candidate
	for _, w := range e.markets.ActiveWindows() {
		if !w.Tradable() {
			continue
		}
		q, ok := e.markets.Quote(w.WindowID)
		if !ok {
			continue
		}

		sym := w.Instrument.FeedSymbol
		spot, _, haveSpot := e.spot.Price(sym)
		if !haveSpot {
			continue
		}
		priceAge := e.spot.Age(sym, now)
		vol := e.spot.EffectiveVol(sym, now)
		fair := e.calc.Calculate(spot, w.Strike, w.SecondsToExpiry(now), vol)

		for _, c := range e.policy.Candidates(w, q, fair) {
			if e.onCooldown(c, now) {
				continue
			}
			if e.positionBlocked(c) {
				continue
			}
			if ok, reason := e.cfg.Filters.check(c, spot, vol, priceAge, now); !ok {
				e.log.Debugf("过滤 %s %s: %s", c.Window.WindowID, c.Side, reason)
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) cooldownKey(c *Candidate) string {
	return c.Window.Instrument.ID() + ":" + string(c.Side)
}

func (e *Engine) onCooldown(c *Candidate, now time.Time) bool {
	until, ok := e.cooldowns[e.cooldownKey(c)]
	return ok && now.Before(until)
}

// positionBlocked 同 (窗口, 方向) 已有仓位，或同窗口持有对侧仓位
func (e *Engine) positionBlocked(c *Candidate) bool {
	key := c.Window.TradeKey(c.Side)
	if e.ledger.Has(key) {
		return true
	}
	if side, ok := e.ledger.HasWindow(c.Window.WindowID); ok && side != c.Side {
		return true
	}
	return false
}

// confirmed 信号确认：可配置的间隔后优势仍在才放行
func (e *Engine) confirmed(c *Candidate, now time.Time) bool {
	if e.cfg.ConfirmGap <= 0 {
		return true
	}
	key := c.Window.TradeKey(c.Side)
	sig, ok := e.confirm[key]
	if !ok {
		e.confirm[key] = queuedSignal{queuedAt: now, edge: c.Edge}
		return false
	}
	if now.Sub(sig.queuedAt) < e.cfg.ConfirmGap {
		return false
	}
	delete(e.confirm, key)
	return true
}

// execute 先落账本，再下单；按成交结果回填或清理
func (e *Engine) execute(ctx context.Context, c *Candidate, now time.Time) {
	available := e.balance.Available(ctx)
	d := e.sizer.Size(c.Window.Instrument.ID(), c.Price.ToDecimal(), c.Fair, available)
	if !d.Approved {
		e.log.Debugf("规模拒绝 %s %s: %s", c.Window.WindowID, c.Side, d.Reason)
		return
	}

	w := c.Window
	price := c.Price.ToDecimal()
	rec := &domain.TradeRecord{
		Key:         w.TradeKey(c.Side),
		WindowID:    w.WindowID,
		Slug:        w.Slug,
		Instrument:  w.Instrument.ID(),
		Side:        c.Side,
		AssetID:     w.AssetID(c.Side),
		ConditionID: w.ConditionID,
		Price:       price,
		Tokens:      d.Tokens,
		Cost:        d.Stake,
		Fee:         w.Instrument.TakerFee(price, d.Stake),
		Strike:      w.Strike,
		FairProb:    c.Fair,
		SubmittedAt: now,
		ExpiryTime:  w.ExpiryTime,
	}
	// 账本先行：崩溃时宁可多一条待对账的记录，不可有无记录的仓位
	if err := e.ledger.OpenTrade(rec); err != nil {
		e.log.Warnf("账本登记失败 %s: %v", rec.Key, err)
		return
	}

	metrics.OrdersSubmitted.Add(1)
	res, err := e.gateway.SubmitFOK(ctx, &exchange.OrderRequest{
		AssetID: rec.AssetID,
		Price:   c.Price,
		Tokens:  d.Tokens,
	})
	if err != nil {
		// 网络失败时订单可能已进场：保留未决记录交给对账
		e.log.Warnf("下单失败 %s: %v（记录保留待对账）", rec.Key, err)
		return
	}

	if !res.Status.Filled() && d.Tokens > e.cfg.RetryMinTokens {
		// 被拒后按最小规模再试一次
		res, err = e.gateway.SubmitFOK(ctx, &exchange.OrderRequest{
			AssetID: rec.AssetID,
			Price:   c.Price,
			Tokens:  e.cfg.RetryMinTokens,
		})
		if err != nil {
			e.log.Warnf("重试下单失败 %s: %v（记录保留待对账）", rec.Key, err)
			return
		}
	}

	if !res.Status.Filled() {
		// 挂住没成交的单不要留在盘上
		if res.Status == exchange.OrderStatusLive && res.OrderID != "" {
			if cerr := e.gateway.Cancel(ctx, res.OrderID); cerr != nil {
				e.log.Warnf("撤单失败 %s: %v", res.OrderID, cerr)
			}
		}
		if derr := e.ledger.DropUnfilled(rec.Key); derr != nil {
			e.log.Warnf("清理未成交记录失败 %s: %v", rec.Key, derr)
		}
		metrics.OrdersRejected.Add(1)
		e.cooldowns[e.cooldownKey(c)] = now.Add(e.cfg.RejectCooldown)
		e.log.WithFields(logrus.Fields{
			"window": w.WindowID,
			"side":   c.Side,
			"status": res.Status,
		}).Info("订单未成交，进入冷却")
		return
	}

	metrics.OrdersFilled.Add(1)
	cost := res.FilledTokens * res.AvgPrice
	fee := w.Instrument.TakerFee(res.AvgPrice, cost)
	if err := e.ledger.UpdateFill(rec.Key, res.AvgPrice, res.FilledTokens, cost, fee, res.OrderID); err != nil {
		e.log.Warnf("回填成交失败 %s: %v", rec.Key, err)
	}
	e.balance.Commit(cost)
	e.state.AddPending(cost)

	e.log.WithFields(logrus.Fields{
		"window": w.WindowID,
		"side":   c.Side,
		"tokens": res.FilledTokens,
		"price":  res.AvgPrice,
		"edge":   c.Edge,
		"fair":   c.Fair,
	}).Info("成交")
}
