package engine

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/fairvalue"
)

// OrderPolicy 报价策略：从公允价与盘口推导候选买入。
// 候选的规模、过滤与提交由引擎统一处理。
type OrderPolicy interface {
	Name() string
	Candidates(w *domain.MarketWindow, q *domain.WindowQuote, fair fairvalue.Result) []*Candidate
}

// PolicyConfig 策略参数
type PolicyConfig struct {
	HalfSpread float64 // two_sided：报价相对公允价的半价差
}

var policyFactories = map[string]func(PolicyConfig) OrderPolicy{}

// RegisterPolicy 注册报价策略（init 期调用）
func RegisterPolicy(name string, factory func(PolicyConfig) OrderPolicy) {
	if _, dup := policyFactories[name]; dup {
		panic("duplicate order policy: " + name)
	}
	policyFactories[name] = factory
}

// NewPolicy 按名字实例化策略
func NewPolicy(name string, cfg PolicyConfig) (OrderPolicy, error) {
	factory, ok := policyFactories[name]
	if !ok {
		return nil, errors.Errorf("unknown order policy: %s", name)
	}
	return factory(cfg), nil
}

// PolicyNames 已注册的策略名（排序稳定）
func PolicyNames() []string {
	names := make([]string, 0, len(policyFactories))
	for n := range policyFactories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterPolicy("take_ask", func(cfg PolicyConfig) OrderPolicy { return &takeAskPolicy{} })
	RegisterPolicy("two_sided", func(cfg PolicyConfig) OrderPolicy { return &twoSidedPolicy{halfSpread: cfg.HalfSpread} })
}

func fairFor(fair fairvalue.Result, side domain.Side) float64 {
	if side == domain.SideUp {
		return fair.FairUp
	}
	return fair.FairDown
}

// feeAdjustedEdge 扣掉 taker 费后的每 token 优势
func feeAdjustedEdge(w *domain.MarketWindow, fairProb, price float64) float64 {
	fee := price * (1 - price) * w.Instrument.TakerFeeRate()
	return fairProb - price - fee
}

// takeAskPolicy 狙击式吃卖一：哪边的卖价低于扣费公允价就买哪边
type takeAskPolicy struct{}

func (p *takeAskPolicy) Name() string { return "take_ask" }

func (p *takeAskPolicy) Candidates(w *domain.MarketWindow, q *domain.WindowQuote, fair fairvalue.Result) []*Candidate {
	var out []*Candidate
	for _, side := range domain.Sides {
		top := q.Top(side)
		if !top.HasAsk() {
			continue
		}
		price := top.Ask.ToDecimal()
		fp := fairFor(fair, side)
		edge := feeAdjustedEdge(w, fp, price)
		if edge <= 0 {
			continue
		}
		out = append(out, &Candidate{
			Window: w,
			Side:   side,
			Price:  top.Ask,
			Fair:   fp,
			Edge:   edge,
		})
	}
	return out
}

// twoSidedPolicy 双边做市：在公允价下方 halfSpread 处双边挂买。
// 成交即意味着对手方愿意跨过公允价，优势即半价差扣费。
type twoSidedPolicy struct {
	halfSpread float64
}

func (p *twoSidedPolicy) Name() string { return "two_sided" }

func (p *twoSidedPolicy) Candidates(w *domain.MarketWindow, q *domain.WindowQuote, fair fairvalue.Result) []*Candidate {
	var out []*Candidate
	for _, side := range domain.Sides {
		fp := fairFor(fair, side)
		bid := fp - p.halfSpread
		if bid <= 0 || bid >= 1 {
			continue
		}
		price := domain.PriceFromDecimal(bid)
		edge := feeAdjustedEdge(w, fp, price.ToDecimal())
		if edge <= 0 {
			continue
		}
		out = append(out, &Candidate{
			Window: w,
			Side:   side,
			Price:  price,
			Fair:   fp,
			Edge:   edge,
		})
	}
	return out
}
