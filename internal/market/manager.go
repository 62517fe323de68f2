// Package market 维护每个品种的当前结算窗口：发现、换窗、行权价解析
// 与盘口快照缓存。
package market

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/feed"
	"github.com/betbot/snipebot/pkg/cache"
	"github.com/betbot/snipebot/pkg/logger"
)

// WindowObserver 换窗观察者。每次换窗恰好回调一次；
// old 在进程启动后的第一个窗口时为 nil。
type WindowObserver interface {
	OnWindowChange(oldWindow, newWindow *domain.MarketWindow)
}

// discoveryClient 市场发现与盘口
type discoveryClient interface {
	FindWindow(ctx context.Context, inst *domain.Instrument, openTime time.Time) (*domain.MarketWindow, error)
	Quote(ctx context.Context, w *domain.MarketWindow) (*domain.WindowQuote, error)
}

// Config 窗口管理参数
type Config struct {
	PollInterval      time.Duration // 盘口刷新周期
	RolloverInterval  time.Duration // 换窗检测周期
	StrikeSettleDelay time.Duration // 新窗开盘后等盘口成形的延迟
	StrikeSpotWindow  time.Duration // 开盘后可直接用现货价做行权价的时长
}

// DefaultConfig 缺省参数
func DefaultConfig() Config {
	return Config{
		PollInterval:      30 * time.Second,
		RolloverInterval:  2 * time.Second,
		StrikeSettleDelay: 3 * time.Second,
		StrikeSpotWindow:  60 * time.Second,
	}
}

// Manager 结算窗口管理器
type Manager struct {
	cfg       Config
	registry  *domain.Registry
	discovery discoveryClient
	resolver  *strikeResolver
	prices    feed.PriceSource
	vols      feed.VolProvider
	log       *logrus.Entry

	mu        sync.RWMutex
	windows   map[string]*domain.MarketWindow // 品种 ID → 当前窗口
	quotes    map[string]*domain.WindowQuote  // 窗口 ID → 盘口
	firstSeen map[string]bool                 // 品种 ID → 是否已见过首窗

	observers []WindowObserver
	strikes   *cache.StrikeCache
}

func NewManager(cfg Config, registry *domain.Registry, discovery discoveryClient, oracle openPriceSource, prices feed.PriceSource, vols feed.VolProvider) *Manager {
	return &Manager{
		cfg:       cfg,
		registry:  registry,
		discovery: discovery,
		resolver:  &strikeResolver{oracle: oracle, strikeSpotWindow: cfg.StrikeSpotWindow},
		prices:    prices,
		vols:      vols,
		log:       logger.WithField("component", "market"),
		windows:   make(map[string]*domain.MarketWindow),
		quotes:    make(map[string]*domain.WindowQuote),
		firstSeen: make(map[string]bool),
		strikes:   cache.NewStrikeCache(),
	}
}

// AddObserver 注册换窗观察者（须在 Run 之前调用）
func (m *Manager) AddObserver(o WindowObserver) {
	m.observers = append(m.observers, o)
}

// Run 阻塞运行直到 ctx 取消
func (m *Manager) Run(ctx context.Context) {
	rollover := time.NewTicker(m.cfg.RolloverInterval)
	poll := time.NewTicker(m.cfg.PollInterval)
	defer rollover.Stop()
	defer poll.Stop()

	m.checkRollover(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-rollover.C:
			m.checkRollover(ctx, time.Now())
		case <-poll.C:
			m.refreshQuotes(ctx)
		}
	}
}

// checkRollover 对每个品种核对当前窗口，必要时换窗
func (m *Manager) checkRollover(ctx context.Context, now time.Time) {
	for _, inst := range m.registry.All() {
		openTime := inst.WindowOpenTime(now)
		wantID := inst.WindowID(openTime)

		m.mu.RLock()
		cur := m.windows[inst.ID()]
		m.mu.RUnlock()
		if cur != nil && cur.WindowID == wantID {
			continue
		}

		next, err := m.discovery.FindWindow(ctx, inst, openTime)
		if err != nil {
			m.log.Warnf("窗口发现失败 %s: %v", inst.ID(), err)
			continue
		}
		if next == nil {
			// 市场还没创建，下一轮再试
			continue
		}
		m.rollover(ctx, inst, cur, next)
	}
}

func (m *Manager) rollover(ctx context.Context, inst *domain.Instrument, old, next *domain.MarketWindow) {
	m.mu.Lock()
	if !m.firstSeen[inst.ID()] {
		m.firstSeen[inst.ID()] = true
		// 进程启动时所在的窗口一律不交易：可能存在未知的既有仓位
		next.StartupWindow = true
	}
	if old != nil {
		old.State = domain.WindowStateExpired
		delete(m.quotes, old.WindowID)
	}
	m.windows[inst.ID()] = next
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"instrument": inst.ID(),
		"slug":       next.Slug,
		"startup":    next.StartupWindow,
	}).Info("换窗")
	_ = logger.RotateToWindow(next.Slug)

	// 观察者拿快照副本，行权价落定协程随后还会改 next
	var oldSnap, nextSnap *domain.MarketWindow
	if old != nil {
		o := *old
		oldSnap = &o
	}
	n := *next
	nextSnap = &n
	for _, o := range m.observers {
		o.OnWindowChange(oldSnap, nextSnap)
	}

	go m.settleStrike(ctx, next)
}

// settleStrike 等盘口成形后解析行权价并激活窗口
func (m *Manager) settleStrike(ctx context.Context, w *domain.MarketWindow) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.StrikeSettleDelay):
	}

	now := time.Now()
	strike, source := 0.0, "cached"
	if k, ok := m.strikes.Get(w.WindowID); ok {
		strike = k
	}
	if strike <= 0 {
		spot, _, _ := m.prices.Price(w.Instrument.FeedSymbol)
		upMid, haveMid := 0.0, false
		if q, err := m.discovery.Quote(ctx, w); err == nil {
			m.setQuote(q)
			upMid, haveMid = q.Up.Mid()
		}
		vol := m.vols.EffectiveVol(w.Instrument.FeedSymbol, now)
		strike, source = m.resolver.resolve(ctx, w, spot, upMid, haveMid, vol, now)
	}

	m.mu.Lock()
	if strike > 0 {
		w.Strike = strike
		w.StrikeSource = source
		m.strikes.Set(w.WindowID, strike)
	}
	w.State = domain.WindowStateActive
	m.mu.Unlock()

	if strike > 0 {
		m.log.WithFields(logrus.Fields{
			"window": w.WindowID,
			"strike": strike,
			"source": source,
		}).Info("行权价确定")
	} else {
		m.log.Warnf("行权价不可得 %s（窗口不可交易）", w.WindowID)
	}
}

// refreshQuotes 刷新所有活跃窗口的盘口
func (m *Manager) refreshQuotes(ctx context.Context) {
	for _, w := range m.ActiveWindows() {
		q, err := m.discovery.Quote(ctx, w)
		if err != nil {
			m.log.Debugf("盘口刷新失败 %s: %v", w.WindowID, err)
			continue
		}
		m.setQuote(q)
	}
}

func (m *Manager) setQuote(q *domain.WindowQuote) {
	m.mu.Lock()
	m.quotes[q.WindowID] = q
	m.mu.Unlock()
}

// Window 当前窗口的快照副本（无则 nil）
func (m *Manager) Window(instrumentID string) *domain.MarketWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[instrumentID]
	if !ok {
		return nil
	}
	cw := *w
	return &cw
}

// ActiveWindows 全部已激活窗口的快照副本。
// 窗口字段由管理器在锁内更新（换窗、行权价落定），
// 调用方拿到的是本次调用时刻的一致快照，可无锁读取。
func (m *Manager) ActiveWindows() []*domain.MarketWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.MarketWindow, 0, len(m.windows))
	for _, w := range m.windows {
		if w.State == domain.WindowStateActive {
			cw := *w
			out = append(out, &cw)
		}
	}
	return out
}

// Quote 缓存的盘口快照；REST 失败过的窗口可能暂缺
func (m *Manager) Quote(windowID string) (*domain.WindowQuote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[windowID]
	return q, ok
}

// FreshQuote 强制拉取一次盘口并更新缓存
func (m *Manager) FreshQuote(ctx context.Context, w *domain.MarketWindow) (*domain.WindowQuote, error) {
	q, err := m.discovery.Quote(ctx, w)
	if err != nil {
		return nil, err
	}
	m.setQuote(q)
	return q, nil
}
