// Package fairvalue 计算二元（digital）期权的理论公允概率。
//
// 模型：对到期时 S(T) > K 支付 $1 的二元期权
//
//	P(Up) = Φ( ln(S/K) / (σ√T) )
//
// 其中 S 为现货价、K 为开盘价（strike）、σ 为年化波动率、T 为剩余时间（年）。
// 短周期（5m/15m）下漂移项 (r - σ²/2) 可忽略，这里不计。
package fairvalue

import (
	"math"
)

// SecondsPerYear 年化用秒数
const SecondsPerYear = 365.25 * 24 * 3600

// 报价边界：模型输出永远不贴近 0/1
const (
	MinProb = 0.01
	MaxProb = 0.99
)

// 波动率硬边界：稀疏数据不允许产生极端估计
const (
	MinVol = 0.10
	MaxVol = 2.0
)

// sigmaSqrtTFloor σ√T 低于该值按确定性退化处理，避免除法爆炸
const sigmaSqrtTFloor = 1e-10

// Result 一次公允价值计算的快照（只在内存中流转，不落盘）
type Result struct {
	FairUp      float64 // Up 方的公允概率
	FairDown    float64 // Down 方的公允概率
	D           float64 // d 统计量（以波动率为单位的价内程度）
	Spot        float64 // 采用的现货价
	Strike      float64 // 采用的开盘价
	SecondsLeft float64 // 剩余秒数
	Vol         float64 // 采用的波动率
}

// EdgeUp Up 方偏离五五开的幅度
func (r Result) EdgeUp() float64 {
	return r.FairUp - 0.5
}

// DominantSide 概率更大的一方
func (r Result) DominantSide() string {
	if r.FairUp >= 0.5 {
		return "up"
	}
	return "down"
}

// DominantProb 概率更大一方的概率
func (r Result) DominantProb() float64 {
	return math.Max(r.FairUp, r.FairDown)
}

// Calculator 二元期权公允价值计算器
type Calculator struct {
	minVol float64
	maxVol float64
}

// NewCalculator 创建计算器（波动率钳制在 [MinVol, MaxVol]）
func NewCalculator() *Calculator {
	return &Calculator{minVol: MinVol, maxVol: MaxVol}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Calculate 计算一个 Up/Down 窗口的公允概率
//
// 边界情况：
//   - secondsToExpiry <= 0：已到期，按现货与开盘价的相对位置退化为 1/0/0.5
//   - spot/strike 非正：无信息，返回 0.5/0.5
//   - σ√T < 1e-10：近似确定性，同样退化为阶跃
//
// 输出始终钳制在 [MinProb, MaxProb]。
func (c *Calculator) Calculate(spot, strike, secondsToExpiry, volatility float64) Result {
	vol := clamp(volatility, c.minVol, c.maxVol)

	if secondsToExpiry <= 0 {
		fairUp := clamp(stepProb(spot, strike), MinProb, MaxProb)
		d := math.Inf(1)
		if spot < strike {
			d = math.Inf(-1)
		}
		return Result{
			FairUp:      fairUp,
			FairDown:    clamp(1.0-fairUp, MinProb, MaxProb),
			D:           d,
			Spot:        spot,
			Strike:      strike,
			SecondsLeft: 0,
			Vol:         vol,
		}
	}

	if spot <= 0 || strike <= 0 {
		return Result{
			FairUp: 0.5, FairDown: 0.5, D: 0,
			Spot: spot, Strike: strike,
			SecondsLeft: secondsToExpiry, Vol: vol,
		}
	}

	t := secondsToExpiry / SecondsPerYear
	sigmaSqrtT := vol * math.Sqrt(t)

	var d, fairUp float64
	if sigmaSqrtT < sigmaSqrtTFloor {
		fairUp = stepProb(spot, strike)
		d = 0
	} else {
		d = math.Log(spot/strike) / sigmaSqrtT
		fairUp = NormalCDF(d)
	}

	fairUp = clamp(fairUp, MinProb, MaxProb)
	fairDown := clamp(1.0-fairUp, MinProb, MaxProb)

	return Result{
		FairUp:      fairUp,
		FairDown:    fairDown,
		D:           d,
		Spot:        spot,
		Strike:      strike,
		SecondsLeft: secondsToExpiry,
		Vol:         vol,
	}
}

// stepProb 到期/零波动率时的阶跃概率
func stepProb(spot, strike float64) float64 {
	switch {
	case spot > strike:
		return 1.0
	case spot < strike:
		return 0.0
	default:
		return 0.5
	}
}

// RequiredMoveForEdge 达到目标概率需要的现货涨跌幅（如 0.002 = 0.2%）
// 用于评估市场对现货位移的敏感度。
func (c *Calculator) RequiredMoveForEdge(secondsToExpiry, volatility, targetProb float64) float64 {
	t := secondsToExpiry / SecondsPerYear
	sigmaSqrtT := clamp(volatility, c.minVol, c.maxVol) * math.Sqrt(t)
	dRequired := InverseNormalCDF(targetProb)

	// ln(S/K) = d·σ√T → S/K = exp(d·σ√T)
	return math.Exp(dRequired*sigmaSqrtT) - 1.0
}

// NormalCDF 标准正态分布函数 Φ(x)
func NormalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// InverseNormalCDF 标准正态分位数 Φ⁻¹(p)
//
// Abramowitz & Stegun 26.2.23 有理近似，绝对误差 < 4.5e-4，
// 对反解 strike 这种粗粒度用途足够。p 越界时返回 0。
func InverseNormalCDF(p float64) float64 {
	if p <= 0.0 || p >= 1.0 {
		return 0.0
	}
	if p < 0.5 {
		return -InverseNormalCDF(1.0 - p)
	}
	t := math.Sqrt(-2.0 * math.Log(1.0-p))
	const (
		c0, c1, c2 = 2.515517, 0.802853, 0.010328
		d1, d2, d3 = 1.432788, 0.189269, 0.001308
	)
	return t - (c0+c1*t+c2*t*t)/(1+d1*t+d2*t*t+d3*t*t*t)
}
