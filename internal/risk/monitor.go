package risk

import "sync"

// EdgeMonitor 优势衰减监视器（CUSUM）
//
// 每笔已结算交易上报一次结果：cusum = max(0, cusum + (目标胜率 − 结果))。
// 胜率持续低于目标时 cusum 单调上升，越过阈值即报警；上层在报警期间
// 把 Kelly 系数钳到下限，直到人工 Reset()。
type EdgeMonitor struct {
	mu        sync.Mutex
	targetWin float64
	threshold float64
	cusum     float64
	alarmed   bool
}

func NewEdgeMonitor(targetWinRate, threshold float64) *EdgeMonitor {
	return &EdgeMonitor{targetWin: targetWinRate, threshold: threshold}
}

// Record 上报一笔结果（won: 是否赢）
func (m *EdgeMonitor) Record(won bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := 0.0
	if won {
		outcome = 1.0
	}
	m.cusum += m.targetWin - outcome
	if m.cusum < 0 {
		m.cusum = 0
	}
	if m.cusum >= m.threshold {
		m.alarmed = true
	}
}

// Alarmed 是否处于报警状态（报警一旦触发即保持，直到 Reset）
func (m *EdgeMonitor) Alarmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarmed
}

// Value 当前 cusum 值（诊断用）
func (m *EdgeMonitor) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cusum
}

// Reset 人工复位
func (m *EdgeMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cusum = 0
	m.alarmed = false
}
