package risk

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrCircuitBreakerOpen 断路器已打开，禁止继续交易。
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreaker 连败熔断器
//
// 按"结算窗口"计连败：同一窗口内多笔亏损只算一次，跨品种的同一
// 窗口 ID 也只算一次。连败达到阈值后熔断，必须显式 Acknowledge()
// 才恢复，不做自动恢复。
//
// 快路径（AllowTrading）走原子变量；窗口去重集合低频更新走互斥锁。
type CircuitBreaker struct {
	halted              atomic.Bool
	consecutiveLosses   atomic.Int64
	maxConsecutiveLoses atomic.Int64

	mu         sync.Mutex
	seenWindow map[string]bool // 本轮连败中已计入的窗口 ID
}

func NewCircuitBreaker(threshold int64) *CircuitBreaker {
	cb := &CircuitBreaker{seenWindow: make(map[string]bool)}
	cb.maxConsecutiveLoses.Store(threshold)
	return cb
}

// AllowTrading 快路径检查
func (cb *CircuitBreaker) AllowTrading() error {
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	return nil
}

// Halted 是否处于熔断状态
func (cb *CircuitBreaker) Halted() bool {
	return cb.halted.Load()
}

// ConsecutiveLosses 当前连败窗口数
func (cb *CircuitBreaker) ConsecutiveLosses() int64 {
	return cb.consecutiveLosses.Load()
}

// RecordWindow 上报一个已结算窗口的盈亏结果。
// 同一窗口重复上报被忽略；won=true 清零连败并重置去重集合。
func (cb *CircuitBreaker) RecordWindow(windowID string, won bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if won {
		cb.consecutiveLosses.Store(0)
		cb.seenWindow = make(map[string]bool)
		return
	}
	if cb.seenWindow[windowID] {
		return
	}
	cb.seenWindow[windowID] = true

	losses := cb.consecutiveLosses.Add(1)
	threshold := cb.maxConsecutiveLoses.Load()
	if threshold > 0 && losses >= threshold {
		cb.halted.Store(true)
	}
}

// Acknowledge 人工确认后解除熔断并清零计数
func (cb *CircuitBreaker) Acknowledge() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.halted.Store(false)
	cb.consecutiveLosses.Store(0)
	cb.seenWindow = make(map[string]bool)
}
