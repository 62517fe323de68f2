package market

import (
	"context"
	"math"
	"time"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/fairvalue"
)

// 行权价来源标签
const (
	StrikeSourceOracle       = "oracle"        // 结算源开盘价快照
	StrikeSourceSpot         = "spot"          // 窗口刚开盘时的现货价
	StrikeSourceBacksolve    = "backsolve"     // 从盘口中间价反解
	StrikeSourceSpotFallback = "spot_fallback" // 反解不可行时退回现货
)

// openPriceSource 结算源开盘价查询
type openPriceSource interface {
	OpenPrice(ctx context.Context, feedSymbol string, openTime time.Time) (float64, error)
}

// strikeResolver 行权价解析器
//
// 三级优先：结算源快照 → 开盘后 strikeSpotWindow 内的现货价 →
// 从 Up 中间价反解 K = S·exp(−d·σ√T)，d = Φ⁻¹(mid)。
// 中间价不在 (0.1, 0.9) 时反解数值不可靠，退回现货价。
type strikeResolver struct {
	oracle           openPriceSource
	strikeSpotWindow time.Duration
}

// resolve 返回行权价与来源；无任何可用来源时返回 (0, "")
func (r *strikeResolver) resolve(ctx context.Context, w *domain.MarketWindow, spot float64, upMid float64, haveMid bool, vol float64, now time.Time) (float64, string) {
	if r.oracle != nil {
		if k, err := r.oracle.OpenPrice(ctx, w.Instrument.FeedSymbol, w.OpenTime); err == nil && k > 0 {
			return k, StrikeSourceOracle
		}
	}

	if spot > 0 && now.Sub(w.OpenTime) < r.strikeSpotWindow {
		return spot, StrikeSourceSpot
	}

	if spot > 0 && haveMid && upMid > 0.1 && upMid < 0.9 {
		if k := backsolveStrike(spot, upMid, vol, w.SecondsToExpiry(now)); k > 0 {
			return k, StrikeSourceBacksolve
		}
	}

	if spot > 0 {
		return spot, StrikeSourceSpotFallback
	}
	return 0, ""
}

// backsolveStrike 由市场共识概率反推行权价。
// 定价式 P(Up) = Φ(ln(S/K)/(σ√T)) 关于 K 可逆：K = S·exp(−d·σ√T)。
func backsolveStrike(spot, upMid, vol, secondsToExpiry float64) float64 {
	if spot <= 0 || vol <= 0 || secondsToExpiry <= 0 {
		return 0
	}
	d := fairvalue.InverseNormalCDF(upMid)
	sigmaSqrtT := vol * math.Sqrt(secondsToExpiry/fairvalue.SecondsPerYear)
	k := spot * math.Exp(-d*sigmaSqrtT)
	if math.IsNaN(k) || math.IsInf(k, 0) || k <= 0 {
		return 0
	}
	return k
}
