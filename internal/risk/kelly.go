// Package risk 负责下注规模与资金保护：分数 Kelly、自适应收缩、
// CUSUM 优势监视与连败熔断。
package risk

import (
	"math"
)

// wilsonZ 80% 置信（单侧）对应的 z 值
const wilsonZ = 1.28

// SizerConfig 下注规模参数
type SizerConfig struct {
	KellyNormal float64 // 常规 Kelly 系数
	KellyStrong float64 // 强信号 Kelly 系数
	StrongPrice float64 // 价格达到该档视为强信号
	StrongEdge  float64 // 优势达到该档视为强信号

	MaxBetFraction float64 // 单笔占可用资金上限（分数 Kelly 之后再钳）
	MinBetUSDC     float64 // 单笔最小金额（0 表示不启用）
	MaxBetUSDC     float64 // 单笔最大金额（0 表示不启用）
	MinOrderTokens float64 // 交易所最小下单 token 数

	Adaptive           bool    // 自适应收缩开关
	TargetWinRate      float64 // 模型定价应达到的胜率基准
	AdaptiveMinSamples int     // 样本不足此数时直接用下限系数
	AdaptiveFloor      float64 // 系数下限

	MinSizeMode    bool               // 数据采集模式：忽略 Kelly，始终下最小注
	KellyOverrides map[string]float64 // 品种 ID → 固定 Kelly 系数（覆盖档位选择）
}

// DefaultSizerConfig 缺省参数
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		KellyNormal:        0.50,
		KellyStrong:        0.75,
		StrongPrice:        0.60,
		StrongEdge:         0.10,
		MaxBetFraction:     0.15,
		MinOrderTokens:     5,
		TargetWinRate:      0.55,
		AdaptiveMinSamples: 10,
		AdaptiveFloor:      0.25,
	}
}

// Decision 规模决策
type Decision struct {
	Approved bool
	Reason   string  // 拒绝原因（Approved=false 时）
	KellyF   float64 // 原始 f*
	Fraction float64 // 实际采用的 Kelly 系数
	RawStake float64 // 钳制前的 Kelly 注金
	Stake    float64 // 最终注金（USDC，= Tokens·price）
	Tokens   float64 // 整数 token 数
}

func reject(reason string) Decision {
	return Decision{Approved: false, Reason: reason}
}

// Sizer 下注规模计算器
type Sizer struct {
	cfg     SizerConfig
	state   *State
	monitor *EdgeMonitor
}

func NewSizer(cfg SizerConfig, state *State, monitor *EdgeMonitor) *Sizer {
	return &Sizer{cfg: cfg, state: state, monitor: monitor}
}

// Size 计算一笔买入的规模。
// instrumentID 用于匹配品种级 Kelly 覆盖；price 为将要吃的卖一价，
// fairProb 为模型公允概率，available 为可用资金（含已提交未刷新的本地扣减）。
func (s *Sizer) Size(instrumentID string, price, fairProb, available float64) Decision {
	if price <= 0 || price >= 1 {
		return reject("price out of range")
	}
	if fairProb <= 0 || fairProb >= 1 {
		return reject("fair prob out of range")
	}
	if available <= 0 {
		return reject("no available balance")
	}

	// f* = (p·b − q) / b，b = 1/price − 1
	b := 1/price - 1
	p := fairProb
	q := 1 - fairProb
	kellyF := (p*b - q) / b
	if kellyF <= 0 {
		return reject("no positive edge")
	}

	if s.cfg.MinSizeMode {
		stake := s.cfg.MinOrderTokens * price
		if stake > available {
			return reject("insufficient balance for min size")
		}
		return Decision{
			Approved: true,
			KellyF:   kellyF,
			Fraction: 0,
			RawStake: stake,
			Stake:    stake,
			Tokens:   s.cfg.MinOrderTokens,
		}
	}

	fraction := s.fraction(instrumentID, price, fairProb-price)

	rawStake := available * kellyF * fraction

	stake := rawStake
	if hardCap := available * s.cfg.MaxBetFraction; s.cfg.MaxBetFraction > 0 && stake > hardCap {
		stake = hardCap
	}
	if s.cfg.MinBetUSDC > 0 && stake < s.cfg.MinBetUSDC {
		stake = s.cfg.MinBetUSDC
	}
	if s.cfg.MaxBetUSDC > 0 && stake > s.cfg.MaxBetUSDC {
		stake = s.cfg.MaxBetUSDC
	}
	if stake > available {
		stake = available
	}

	tokens := math.Floor(stake / price)
	if tokens < s.cfg.MinOrderTokens {
		return reject("below min order size")
	}

	return Decision{
		Approved: true,
		KellyF:   kellyF,
		Fraction: fraction,
		RawStake: rawStake,
		Stake:    tokens * price,
		Tokens:   tokens,
	}
}

// fraction 决定本笔采用的 Kelly 系数
func (s *Sizer) fraction(instrumentID string, price, edge float64) float64 {
	// 价格档与优势档取更强的那个；品种级覆盖跳过档位选择
	f := s.cfg.KellyNormal
	if (s.cfg.StrongPrice > 0 && price >= s.cfg.StrongPrice) ||
		(s.cfg.StrongEdge > 0 && edge >= s.cfg.StrongEdge) {
		f = s.cfg.KellyStrong
	}
	if ov, ok := s.cfg.KellyOverrides[instrumentID]; ok && ov > 0 {
		f = ov
	}

	if s.cfg.Adaptive && s.state != nil {
		f = s.adapt(f)
	}

	// 优势衰减报警期间强制收缩到下限
	if s.monitor != nil && s.monitor.Alarmed() && f > s.cfg.AdaptiveFloor {
		f = s.cfg.AdaptiveFloor
	}
	return f
}

// adapt 按实盘胜率的 Wilson 下界收缩系数
func (s *Sizer) adapt(full float64) float64 {
	snap := s.state.Get()
	n := snap.Decided()
	if n < s.cfg.AdaptiveMinSamples {
		return s.cfg.AdaptiveFloor
	}

	wlb := WilsonLowerBound(snap.Wins, n, wilsonZ)
	lo := s.cfg.TargetWinRate - 0.10
	switch {
	case wlb <= lo:
		return s.cfg.AdaptiveFloor
	case wlb >= s.cfg.TargetWinRate:
		return full
	default:
		t := (wlb - lo) / 0.10
		return s.cfg.AdaptiveFloor + t*(full-s.cfg.AdaptiveFloor)
	}
}

// WilsonLowerBound 胜率的 Wilson 置信下界
func WilsonLowerBound(wins, n int, z float64) float64 {
	if n <= 0 {
		return 0
	}
	phat := float64(wins) / float64(n)
	nf := float64(n)
	z2 := z * z
	denom := 1 + z2/nf
	center := phat + z2/(2*nf)
	margin := z * math.Sqrt(phat*(1-phat)/nf+z2/(4*nf*nf))
	lb := (center - margin) / denom
	if lb < 0 {
		return 0
	}
	return lb
}
