package feed

import (
	"math"
	"sync"
	"time"

	"github.com/betbot/snipebot/pkg/fairvalue"
)

const (
	volSampleInterval = 5 * time.Second
	volWindow         = 5 * time.Minute
	volRecalcInterval = 10 * time.Second
	volMinSamples     = 10

	// DefaultVol 样本不足时的保守缺省年化波动率
	DefaultVol = 0.50
)

type volSample struct {
	price float64
	ts    time.Time
}

type volState struct {
	samples    []volSample
	lastSample time.Time

	// 缓存的计算结果，最多每 10s 重算一次
	cached   float64
	cachedAt time.Time
}

// VolTracker 已实现波动率估计器
//
// 对每个交易对按 5s 间隔采样，取近 5 分钟窗口的对数收益率，
// 年化：sqrt( Σ(logret²) / Σ(dt) * SecondsPerYear )。
// 样本不足 10 个时返回缺省值 0.50。结果钳制在 [MinVol, MaxVol]。
type VolTracker struct {
	mu     sync.Mutex
	states map[string]*volState
}

func NewVolTracker() *VolTracker {
	return &VolTracker{states: make(map[string]*volState)}
}

// Observe 采样一个价格点（间隔不足 5s 的直接丢弃）
func (v *VolTracker) Observe(symbol string, price float64, now time.Time) {
	if price <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.states[symbol]
	if st == nil {
		st = &volState{}
		v.states[symbol] = st
	}
	if !st.lastSample.IsZero() && now.Sub(st.lastSample) < volSampleInterval {
		return
	}
	st.lastSample = now
	st.samples = append(st.samples, volSample{price: price, ts: now})

	cutoff := now.Add(-volWindow)
	i := 0
	for ; i < len(st.samples); i++ {
		if !st.samples[i].ts.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		st.samples = st.samples[i:]
	}
}

// Realized 返回年化已实现波动率
func (v *VolTracker) Realized(symbol string, now time.Time) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.states[symbol]
	if st == nil || len(st.samples) < volMinSamples {
		return DefaultVol
	}
	if !st.cachedAt.IsZero() && now.Sub(st.cachedAt) < volRecalcInterval {
		return st.cached
	}

	var sumSq, sumDt float64
	for i := 1; i < len(st.samples); i++ {
		prev, cur := st.samples[i-1], st.samples[i]
		dt := cur.ts.Sub(prev.ts).Seconds()
		if dt <= 0 || prev.price <= 0 {
			continue
		}
		r := math.Log(cur.price / prev.price)
		sumSq += r * r
		sumDt += dt
	}
	if sumDt <= 0 {
		return DefaultVol
	}

	vol := math.Sqrt(sumSq / sumDt * fairvalue.SecondsPerYear)
	if vol < fairvalue.MinVol {
		vol = fairvalue.MinVol
	} else if vol > fairvalue.MaxVol {
		vol = fairvalue.MaxVol
	}

	st.cached = vol
	st.cachedAt = now
	return vol
}

// SampleCount 当前窗口内的样本数（测试与诊断用）
func (v *VolTracker) SampleCount(symbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st := v.states[symbol]; st != nil {
		return len(st.samples)
	}
	return 0
}

// VolProvider 有效波动率来源
type VolProvider interface {
	EffectiveVol(symbol string, now time.Time) float64
}

// EffectiveVol 组合波动率：fixed 覆盖一切；否则 max(realized, implied)。
// 隐含波动率缺失（ImpliedSource 为 nil 或返回 ok=false）时只用 realized。
type EffectiveVol struct {
	Tracker  *VolTracker
	Implied  ImpliedSource // 可为 nil
	FixedVol float64       // >0 时固定使用该值
}

// ImpliedSource 隐含波动率快照来源
type ImpliedSource interface {
	ImpliedVol(symbol string) (float64, bool)
}

func (e *EffectiveVol) EffectiveVol(symbol string, now time.Time) float64 {
	if e.FixedVol > 0 {
		return e.FixedVol
	}
	vol := e.Tracker.Realized(symbol, now)
	if e.Implied != nil {
		if iv, ok := e.Implied.ImpliedVol(symbol); ok && iv > vol {
			vol = iv
		}
	}
	return vol
}
