package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Registry 已验证的品种注册表
//
// 启动时从配置构建一次，之后只读。所有以 instrument ID 为键的查找
// 必须经过注册表，未注册的 ID 一律报错而不是静默跳过。
type Registry struct {
	byID map[string]*Instrument
}

// NewRegistry 构建注册表，重复或非法品种返回错误
func NewRegistry(instruments []*Instrument) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Instrument, len(instruments))}
	for _, inst := range instruments {
		if inst.Symbol == "" || inst.FeedSymbol == "" {
			return nil, errors.Errorf("instrument missing symbol: %+v", inst)
		}
		if inst.Duration < time.Minute {
			return nil, errors.Errorf("instrument %s: duration %s too short", inst.Symbol, inst.Duration)
		}
		if inst.DurationTag == "" {
			return nil, errors.Errorf("instrument %s: empty duration tag", inst.Symbol)
		}
		id := inst.ID()
		if _, dup := r.byID[id]; dup {
			return nil, errors.Errorf("duplicate instrument: %s", id)
		}
		r.byID[id] = inst
	}
	if len(r.byID) == 0 {
		return nil, errors.New("no instruments configured")
	}
	return r, nil
}

// Get 按 ID 查找品种
func (r *Registry) Get(id string) (*Instrument, error) {
	inst, ok := r.byID[id]
	if !ok {
		return nil, errors.Errorf("unknown instrument: %s", id)
	}
	return inst, nil
}

// All 返回全部品种（按 ID 排序，保证迭代顺序稳定）
func (r *Registry) All() []*Instrument {
	out := make([]*Instrument, 0, len(r.byID))
	for _, inst := range r.byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// FeedSymbols 返回去重后的行情源交易对列表
func (r *Registry) FeedSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range r.All() {
		if !seen[inst.FeedSymbol] {
			seen[inst.FeedSymbol] = true
			out = append(out, inst.FeedSymbol)
		}
	}
	return out
}
