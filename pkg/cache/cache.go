// Package cache 缓存窗口级的小件：行权价与结算赢方。
package cache

import (
	"sync"
	"time"
)

// windowTTL 窗口级条目的保留时长。窗口最长一小时，
// 结算后再留一段时间，重试路径还能复用。
const windowTTL = 30 * time.Minute

// ttlMap 按窗口 ID 缓存带过期时间的值。
// 写入时顺手清理过期项，活跃窗口数量很小，不需要后台协程。
type ttlMap[V any] struct {
	mu    sync.RWMutex
	items map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLMap[V any]() *ttlMap[V] {
	return &ttlMap[V]{items: make(map[string]ttlEntry[V])}
}

func (m *ttlMap[V]) get(windowID string) (V, bool) {
	m.mu.RLock()
	e, ok := m.items[windowID]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (m *ttlMap[V]) set(windowID string, v V) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.items {
		if now.After(e.expiresAt) {
			delete(m.items, k)
		}
	}
	m.items[windowID] = ttlEntry[V]{value: v, expiresAt: now.Add(windowTTL)}
}

// OutcomeCache 结算结果缓存
//
// 预言机一旦宣布某窗口的赢方，结果不可变，可以长期缓存，
// 避免结算循环对同一个已结算窗口反复打接口。
type OutcomeCache struct {
	byWindow *ttlMap[string]
}

// NewOutcomeCache 创建结算结果缓存
func NewOutcomeCache() *OutcomeCache {
	return &OutcomeCache{byWindow: newTTLMap[string]()}
}

// Get 获取窗口的赢方（"up"/"down"）
func (oc *OutcomeCache) Get(windowID string) (string, bool) {
	return oc.byWindow.get(windowID)
}

// Set 记录窗口的赢方
func (oc *OutcomeCache) Set(windowID, winner string) {
	oc.byWindow.set(windowID, winner)
}

// StrikeCache 行权价缓存（结算源快照，窗口内不会变）
type StrikeCache struct {
	byWindow *ttlMap[float64]
}

// NewStrikeCache 创建行权价缓存
func NewStrikeCache() *StrikeCache {
	return &StrikeCache{byWindow: newTTLMap[float64]()}
}

// Get 获取窗口的行权价
func (sc *StrikeCache) Get(windowID string) (float64, bool) {
	return sc.byWindow.get(windowID)
}

// Set 记录窗口的行权价
func (sc *StrikeCache) Set(windowID string, strike float64) {
	sc.byWindow.set(windowID, strike)
}
