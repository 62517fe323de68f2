package domain

import "math"

// Price 价格值对象（固定精度：1e-4）
//
// 二元市场的 tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001。
// 为了让策略/执行层不丢精度，内部用 1e-4 作为最小单位（pips）：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01（1 cent）
//   - 10000 pips = 1.0
type Price struct {
	// Pips: 价格 * 10000（合法范围通常 1..9999）
	Pips int
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(decimal float64) Price {
	return Price{
		Pips: int(math.Round(decimal * 10000)),
	}
}

// PriceFromCents 从分创建价格
func PriceFromCents(cents int) Price {
	return Price{Pips: cents * 100}
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// ToCents 返回分（0.01）口径的整数，用于阈值/日志换算
func (p Price) ToCents() int {
	return int(math.Round(float64(p.Pips) / 100.0))
}

// IsZero 检查价格是否为零（常用于表示盘口缺失）
func (p Price) IsZero() bool {
	return p.Pips == 0
}

// InRange 检查价格是否在 (0, 1) 开区间内
func (p Price) InRange() bool {
	return p.Pips > 0 && p.Pips < 10000
}

// Complement 返回 1 - p（对侧的镜像价格）
func (p Price) Complement() Price {
	return Price{Pips: 10000 - p.Pips}
}

// GreaterThan 检查是否大于
func (p Price) GreaterThan(other Price) bool {
	return p.Pips > other.Pips
}

// LessThan 检查是否小于
func (p Price) LessThan(other Price) bool {
	return p.Pips < other.Pips
}
