package engine

import (
	"fmt"
	"time"

	"github.com/betbot/snipebot/internal/domain"
)

// FilterConfig 入场过滤参数。零值字段代表对应过滤关闭。
type FilterConfig struct {
	BlockedHoursUTC []int         // 禁止交易的 UTC 小时
	BlockWeekends   bool          // 周末禁止交易
	MaxRealizedVol  float64       // 已实现波动率上限
	MinConfidence   float64       // 模型公允概率下限
	MinMomentumDisp float64       // 现货相对行权价的最小位移（与方向同号）
	MinElapsed      time.Duration // 开盘后至少经过多久才入场
	MaxRemaining    time.Duration // 距到期至少要剩多久
	MinPrice        float64       // 可接受的最低买价
	MaxPrice        float64       // 可接受的最高买价
	MinEdge         float64       // 扣费后的最小优势
	MaxPriceAge     time.Duration // 现货行情最大滞后
}

// Candidate 一个候选买入
type Candidate struct {
	Window *domain.MarketWindow
	Side   domain.Side
	Price  domain.Price // 将要吃的价格
	Fair   float64      // 模型公允概率（本方向）
	Edge   float64      // 扣费后优势 = Fair − Price − fee
}

// checkFilters 依次过每道入场过滤，返回第一个不通过的原因
func (f *FilterConfig) check(c *Candidate, spot, vol float64, priceAge time.Duration, now time.Time) (bool, string) {
	utc := now.UTC()
	for _, h := range f.BlockedHoursUTC {
		if utc.Hour() == h {
			return false, fmt.Sprintf("blocked hour %02d UTC", h)
		}
	}
	if f.BlockWeekends {
		if wd := utc.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false, "weekend blocked"
		}
	}

	if f.MaxPriceAge > 0 && priceAge > f.MaxPriceAge {
		return false, "stale spot price"
	}
	if f.MaxRealizedVol > 0 && vol > f.MaxRealizedVol {
		return false, "vol too high"
	}
	if f.MinConfidence > 0 && c.Fair < f.MinConfidence {
		return false, "low model confidence"
	}

	w := c.Window
	elapsed := w.Age(now)
	if f.MinElapsed > 0 && elapsed < f.MinElapsed {
		return false, "too early in window"
	}
	if f.MaxRemaining > 0 && w.SecondsToExpiry(now) < f.MaxRemaining.Seconds() {
		return false, "too close to expiry"
	}

	p := c.Price.ToDecimal()
	if f.MinPrice > 0 && p < f.MinPrice {
		return false, "price below floor"
	}
	if f.MaxPrice > 0 && p > f.MaxPrice {
		return false, "price above ceiling"
	}

	if f.MinMomentumDisp > 0 && w.Strike > 0 && spot > 0 {
		disp := (spot - w.Strike) / w.Strike
		if c.Side == domain.SideUp && disp < f.MinMomentumDisp {
			return false, "insufficient displacement"
		}
		if c.Side == domain.SideDown && disp > -f.MinMomentumDisp {
			return false, "insufficient displacement"
		}
	}

	if c.Edge < f.MinEdge {
		return false, "edge below threshold"
	}
	return true, ""
}
