package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSizer(mutate func(*SizerConfig)) *Sizer {
	cfg := DefaultSizerConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSizer(cfg, NewState(), nil)
}

func TestKellyBaseline(t *testing.T) {
	// ask=0.40，公允概率 0.50，系数 0.5，资金 20：
	// b=1.5，f*=(0.5·1.5−0.5)/1.5≈0.1667，钳制前注金 ≈ $1.67
	s := newSizer(func(c *SizerConfig) {
		c.StrongPrice = 0
		c.StrongEdge = 0
		c.MaxBetFraction = 0
		c.MinOrderTokens = 1
	})
	d := s.Size("btc-15m", 0.40, 0.50, 20)
	require.True(t, d.Approved, d.Reason)
	assert.InDelta(t, 0.1667, d.KellyF, 0.001)
	assert.InDelta(t, 1.667, d.RawStake, 0.01)
	assert.Equal(t, 4.0, d.Tokens)
	assert.InDelta(t, 1.60, d.Stake, 1e-9)
}

func TestKellyRejectsNoEdge(t *testing.T) {
	s := newSizer(nil)
	d := s.Size("btc-15m", 0.50, 0.50, 100)
	require.False(t, d.Approved)
	assert.Equal(t, "no positive edge", d.Reason)

	d = s.Size("btc-15m", 0.60, 0.50, 100)
	require.False(t, d.Approved)
}

func TestKellyInputValidation(t *testing.T) {
	s := newSizer(nil)
	assert.False(t, s.Size("btc-15m", 0, 0.5, 100).Approved)
	assert.False(t, s.Size("btc-15m", 1, 0.5, 100).Approved)
	assert.False(t, s.Size("btc-15m", 0.4, 0, 100).Approved)
	assert.False(t, s.Size("btc-15m", 0.4, 1.1, 100).Approved)
	assert.False(t, s.Size("btc-15m", 0.4, 0.5, 0).Approved)
}

func TestKellyStrongTiers(t *testing.T) {
	s := newSizer(nil)

	// 高价档触发强系数
	d := s.Size("btc-15m", 0.62, 0.75, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.75, d.Fraction)

	// 大优势档同样触发
	d = s.Size("btc-15m", 0.40, 0.55, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.75, d.Fraction)

	// 都不满足 → 常规系数
	d = s.Size("btc-15m", 0.40, 0.45, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.50, d.Fraction)
}

func TestKellyHardCap(t *testing.T) {
	// 极端优势下注金被 MaxBetFraction 封顶
	s := newSizer(nil)
	d := s.Size("btc-15m", 0.30, 0.80, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.LessOrEqual(t, d.Stake, 1000*0.15+0.30)
	assert.Greater(t, d.RawStake, d.Stake)
}

func TestKellyMinTokens(t *testing.T) {
	// 资金太小，凑不够 5 个 token → 拒绝
	s := newSizer(nil)
	d := s.Size("btc-15m", 0.40, 0.45, 20)
	require.False(t, d.Approved)
	assert.Equal(t, "below min order size", d.Reason)
}

func TestKellyMinSizeMode(t *testing.T) {
	s := newSizer(func(c *SizerConfig) { c.MinSizeMode = true })
	d := s.Size("btc-15m", 0.40, 0.50, 100)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 5.0, d.Tokens)
	assert.InDelta(t, 2.0, d.Stake, 1e-9)

	// 仍要求正优势
	assert.False(t, s.Size("btc-15m", 0.60, 0.50, 100).Approved)
	// 最小注也买不起
	assert.False(t, s.Size("btc-15m", 0.40, 0.50, 1).Approved)
}

func TestKellyPerInstrumentOverride(t *testing.T) {
	s := newSizer(func(c *SizerConfig) {
		c.KellyOverrides = map[string]float64{"eth-15m": 0.30}
	})

	// 覆盖命中：即使价格档触发强系数也用覆盖值
	d := s.Size("eth-15m", 0.62, 0.75, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.30, d.Fraction)

	// 其他品种不受影响
	d = s.Size("btc-15m", 0.62, 0.75, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.75, d.Fraction)
}

func TestAdaptiveFloorBelowMinSamples(t *testing.T) {
	state := NewState()
	cfg := DefaultSizerConfig()
	cfg.Adaptive = true
	s := NewSizer(cfg, state, nil)

	// 9 笔已定 < 10 → 下限系数
	for i := 0; i < 9; i++ {
		state.Settle(true, 0.5, 10, 5)
	}
	d := s.Size("btc-15m", 0.40, 0.50, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.25, d.Fraction)
}

func TestAdaptiveWilsonScaling(t *testing.T) {
	cfg := DefaultSizerConfig()
	cfg.Adaptive = true

	// 大样本高胜率 → 保持全系数
	state := NewState()
	for i := 0; i < 90; i++ {
		state.Settle(true, 0.5, 10, 5)
	}
	for i := 0; i < 10; i++ {
		state.Settle(false, 0.5, 0, -5)
	}
	s := NewSizer(cfg, state, nil)
	d := s.Size("btc-15m", 0.40, 0.50, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.50, d.Fraction)

	// 大样本低胜率 → 收缩到下限
	state = NewState()
	for i := 0; i < 30; i++ {
		state.Settle(true, 0.5, 10, 5)
	}
	for i := 0; i < 70; i++ {
		state.Settle(false, 0.5, 0, -5)
	}
	s = NewSizer(cfg, state, nil)
	d = s.Size("btc-15m", 0.40, 0.50, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.25, d.Fraction)
}

func TestWilsonLowerBound(t *testing.T) {
	assert.Equal(t, 0.0, WilsonLowerBound(0, 0, wilsonZ))
	// 下界必须低于点估计
	lb := WilsonLowerBound(60, 100, wilsonZ)
	assert.Less(t, lb, 0.60)
	assert.Greater(t, lb, 0.50)
	// 样本越大下界越接近点估计
	lbBig := WilsonLowerBound(600, 1000, wilsonZ)
	assert.Greater(t, lbBig, lb)
}

func TestEdgeMonitorCUSUM(t *testing.T) {
	m := NewEdgeMonitor(0.55, 5.0)

	// 赢单压低 cusum，不低于 0
	m.Record(true)
	assert.Equal(t, 0.0, m.Value())
	assert.False(t, m.Alarmed())

	// 连输推高 cusum：每输一笔 +0.55，12 笔 ≈ 6.6 > 5.0
	for i := 0; i < 12; i++ {
		m.Record(false)
	}
	assert.True(t, m.Alarmed())

	// 报警粘滞：few wins 不解除
	m.Record(true)
	assert.True(t, m.Alarmed())

	m.Reset()
	assert.False(t, m.Alarmed())
	assert.Equal(t, 0.0, m.Value())
}

func TestMonitorClampsFraction(t *testing.T) {
	state := NewState()
	mon := NewEdgeMonitor(0.55, 1.0)
	mon.Record(false)
	mon.Record(false)
	require.True(t, mon.Alarmed())

	s := NewSizer(DefaultSizerConfig(), state, mon)
	d := s.Size("btc-15m", 0.40, 0.50, 1000)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 0.25, d.Fraction)
}

func TestCircuitBreakerConsecutiveWindows(t *testing.T) {
	cb := NewCircuitBreaker(5)

	// 同一窗口的多笔亏损只算一次
	for i := 0; i < 3; i++ {
		cb.RecordWindow("w1", false)
	}
	assert.Equal(t, int64(1), cb.ConsecutiveLosses())
	require.NoError(t, cb.AllowTrading())

	// 5 个不同的连败窗口 → 熔断
	for _, w := range []string{"w2", "w3", "w4", "w5"} {
		cb.RecordWindow(w, false)
	}
	assert.True(t, cb.Halted())
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)

	// 熔断后继续亏损不改变需要确认的事实；赢单也不自动恢复
	cb.RecordWindow("w6", true)
	assert.True(t, cb.Halted())

	cb.Acknowledge()
	assert.False(t, cb.Halted())
	require.NoError(t, cb.AllowTrading())
	assert.Equal(t, int64(0), cb.ConsecutiveLosses())
}

func TestCircuitBreakerWinResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(3)
	cb.RecordWindow("w1", false)
	cb.RecordWindow("w2", false)
	cb.RecordWindow("w3", true)
	assert.Equal(t, int64(0), cb.ConsecutiveLosses())

	// 赢后同一窗口 ID 的亏损可以再次计入（新一轮连败）
	cb.RecordWindow("w1", false)
	assert.Equal(t, int64(1), cb.ConsecutiveLosses())
}

func TestStateAggregates(t *testing.T) {
	st := NewState()
	st.AddPending(4.0)
	st.AddPending(6.0)
	snap := st.Get()
	assert.Equal(t, 2, snap.Pending)
	assert.InDelta(t, 10.0, snap.Wagered, 1e-9)

	st.Settle(true, 0.42, 10, 5.96)
	st.Settle(false, 0.65, 0, -6.0)
	snap = st.Get()
	assert.Equal(t, 1, snap.Wins)
	assert.Equal(t, 1, snap.Losses)
	assert.Equal(t, 0, snap.Pending)
	assert.InDelta(t, 10.0, snap.Payout, 1e-9)
	assert.InDelta(t, -0.04, snap.PnL, 1e-9)
	assert.InDelta(t, 0.5, snap.WinRate(), 1e-9)

	w, l := st.BucketWinRate(0.45)
	assert.Equal(t, 1, w)
	assert.Equal(t, 0, l)
	w, l = st.BucketWinRate(0.69)
	assert.Equal(t, 0, w)
	assert.Equal(t, 1, l)

	st.DropPending(4.0)
	snap = st.Get()
	assert.InDelta(t, 6.0, snap.Wagered, 1e-9)
}
