package risk

import (
	"sync"
)

// bucketWidth 入场价胜率分桶宽度（0.10）
const bucketWidth = 0.10

// State 风险会话状态
//
// 全部已结算/未结算交易的聚合计数，进程内唯一实例由调度方持有，
// 结算循环是唯一写入方。
type State struct {
	mu sync.Mutex

	wins    int
	losses  int
	pending int

	wagered float64 // 投入本金合计
	payout  float64 // 回款合计
	pnl     float64 // 已实现盈亏合计

	// 按入场价分桶的胜负（bucket = floor(price/0.10)）
	bucketWins   map[int]int
	bucketLosses map[int]int
}

func NewState() *State {
	return &State{
		bucketWins:   make(map[int]int),
		bucketLosses: make(map[int]int),
	}
}

// Snapshot 只读快照
type Snapshot struct {
	Wins    int
	Losses  int
	Pending int
	Wagered float64
	Payout  float64
	PnL     float64
}

// Decided 已定胜负的交易数
func (s Snapshot) Decided() int { return s.Wins + s.Losses }

// WinRate 胜率；无已定交易时返回 0
func (s Snapshot) WinRate() float64 {
	if s.Decided() == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Decided())
}

// AddPending 记一笔新开仓
func (s *State) AddPending(cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending++
	s.wagered += cost
}

// DropPending 撤销一笔开仓（幽灵仓清理时本金也回滚）
func (s *State) DropPending(cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
	s.wagered -= cost
}

// Settle 记一笔结算结果
func (s *State) Settle(won bool, entryPrice, payout, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
	bucket := priceBucket(entryPrice)
	if won {
		s.wins++
		s.bucketWins[bucket]++
	} else {
		s.losses++
		s.bucketLosses[bucket]++
	}
	s.payout += payout
	s.pnl += pnl
}

// Restore 启动时从账本聚合恢复计数（不经过 pending 阶段）
func (s *State) Restore(wins, losses int, wagered, payout, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wins += wins
	s.losses += losses
	s.wagered += wagered
	s.payout += payout
	s.pnl += pnl
}

// Get 当前快照
func (s *State) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Wins:    s.wins,
		Losses:  s.losses,
		Pending: s.pending,
		Wagered: s.wagered,
		Payout:  s.payout,
		PnL:     s.pnl,
	}
}

// BucketWinRate 某入场价所在分桶的 (胜, 负)
func (s *State) BucketWinRate(entryPrice float64) (wins, losses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := priceBucket(entryPrice)
	return s.bucketWins[b], s.bucketLosses[b]
}

func priceBucket(price float64) int {
	if price < 0 {
		return 0
	}
	return int(price / bucketWidth)
}
