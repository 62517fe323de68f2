package domain

// Position 当前持仓（按 窗口+方向 聚合）
//
// 来源有两种：账本重放得到的本地持仓，或数据 API 返回的权威持仓。
// 对账时二者比对，权威有而本地无的即幽灵仓。
type Position struct {
	WindowID  string  // 结算窗口 ID
	AssetID   string  // token 资产 ID
	Side      Side    // 持仓方向
	Tokens    float64 // 持有 token 数
	CostBasis float64 // 成本（USDC）
}

// Key 持仓唯一键（与账本键同构）
func (p *Position) Key() string {
	return p.WindowID + ":" + string(p.Side)
}

// AvgPrice 持仓均价（无持仓返回 0）
func (p *Position) AvgPrice() float64 {
	if p.Tokens <= 0 {
		return 0
	}
	return p.CostBasis / p.Tokens
}

// Add 合并一笔成交
func (p *Position) Add(tokens, cost float64) {
	p.Tokens += tokens
	p.CostBasis += cost
}
