package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/exchange"
	"github.com/betbot/snipebot/pkg/persistence"
)

func newTestLog(t *testing.T) *ResolvedLog {
	t.Helper()
	rlog, err := OpenResolvedLog(filepath.Join(t.TempDir(), "resolved.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rlog.Close() })
	return rlog
}

func newTestRecord(key string, side domain.Side) *domain.TradeRecord {
	return &domain.TradeRecord{
		Key:         key,
		WindowID:    "btc-15m-100",
		Slug:        "btc-updown-15m-100",
		Instrument:  "btc-15m",
		Side:        side,
		AssetID:     "tok-" + string(side),
		ConditionID: "0xc",
		Price:       0.40,
		Tokens:      10,
		Cost:        4.0,
		Fee:         0.05,
		SubmittedAt: time.Now().Add(-5 * time.Minute),
	}
}

func TestOpenPersistsBeforeReturn(t *testing.T) {
	svc := persistence.NewMemoryService()
	rlog := newTestLog(t)

	l, err := NewLedger(svc, rlog)
	require.NoError(t, err)
	require.NoError(t, l.OpenTrade(newTestRecord("btc-15m-100:up", domain.SideUp)))

	// 进程崩溃重启：同一后端重新打开账本，记录必须还在
	l2, err := NewLedger(svc, rlog)
	require.NoError(t, err)
	pending := l2.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "btc-15m-100:up", pending[0].Key)
	assert.Equal(t, domain.TradeStatusPending, pending[0].Status)
}

func TestDuplicateOpenRejected(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)

	require.NoError(t, l.OpenTrade(newTestRecord("k:up", domain.SideUp)))
	err = l.OpenTrade(newTestRecord("k:up", domain.SideUp))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	// 同窗口另一方向是不同的键，不算重复
	other := newTestRecord("k:down", domain.SideDown)
	require.NoError(t, l.OpenTrade(other))
}

func TestOpenRejectsMalformed(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)
	assert.Error(t, l.OpenTrade(&domain.TradeRecord{}))
	assert.Error(t, l.OpenTrade(&domain.TradeRecord{Key: "k", WindowID: "w", Side: "yes"}))
}

func TestResolveIdempotent(t *testing.T) {
	rlog := newTestLog(t)
	l, err := NewLedger(persistence.NewMemoryService(), rlog)
	require.NoError(t, err)

	rec := newTestRecord("btc-15m-100:up", domain.SideUp)
	require.NoError(t, l.OpenTrade(rec))

	now := time.Now()
	done, err := l.Resolve(rec.Key, domain.SideUp, now)
	require.NoError(t, err)
	assert.True(t, done)
	assert.False(t, l.Has(rec.Key))

	// 重放同一结算：空操作
	done, err = l.Resolve(rec.Key, domain.SideUp, now)
	require.NoError(t, err)
	assert.False(t, done)

	// 未知键也是空操作
	done, err = l.Resolve("nope:down", domain.SideDown, now)
	require.NoError(t, err)
	assert.False(t, done)

	// 日志恰好一条，聚合正确
	agg, err := rlog.LoadAggregates(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Wins)
	assert.Equal(t, 0, agg.Losses)
	assert.InDelta(t, 4.0, agg.Wagered, 1e-9)
	assert.InDelta(t, 10.0, agg.Payout, 1e-9)
	assert.InDelta(t, 10.0-4.0-0.05, agg.PnL, 1e-9)

	seen, err := rlog.Resolved(rec.Key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestResolveLoss(t *testing.T) {
	rlog := newTestLog(t)
	l, err := NewLedger(persistence.NewMemoryService(), rlog)
	require.NoError(t, err)

	rec := newTestRecord("btc-15m-100:up", domain.SideUp)
	require.NoError(t, l.OpenTrade(rec))
	done, err := l.Resolve(rec.Key, domain.SideDown, time.Now())
	require.NoError(t, err)
	assert.True(t, done)

	agg, err := rlog.LoadAggregates(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Losses)
	assert.InDelta(t, -4.05, agg.PnL, 1e-9)
}

func TestDropUnfilled(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)

	rec := newTestRecord("k:up", domain.SideUp)
	require.NoError(t, l.OpenTrade(rec))
	require.NoError(t, l.DropUnfilled("k:up"))
	assert.False(t, l.Has("k:up"))
	// 重复清理无害
	require.NoError(t, l.DropUnfilled("k:up"))
}

func TestUpdateFill(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)

	rec := newTestRecord("k:up", domain.SideUp)
	require.NoError(t, l.OpenTrade(rec))
	require.NoError(t, l.UpdateFill("k:up", 0.41, 10, 4.1, 0.06, "ord-1"))

	p := l.Pending()[0]
	assert.Equal(t, 0.41, p.Price)
	assert.Equal(t, "ord-1", p.OrderID)

	assert.Error(t, l.UpdateFill("missing", 0.4, 1, 0.4, 0, ""))
}

func TestReconcilePhantom(t *testing.T) {
	rlog := newTestLog(t)
	l, err := NewLedger(persistence.NewMemoryService(), rlog)
	require.NoError(t, err)

	rec := newTestRecord("btc-updown-15m-100:up", domain.SideUp)
	require.NoError(t, l.OpenTrade(rec))

	// 交易所无对应持仓 → 幽灵：移除 + 日志 outcome=phantom + pnl=0
	report, err := l.Reconcile(nil, time.Now())
	require.NoError(t, err)
	require.Len(t, report.Phantoms, 1)
	assert.False(t, l.Has(rec.Key))

	agg, err := rlog.LoadAggregates(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, agg.Wins)
	assert.Equal(t, 0, agg.Losses)
	assert.InDelta(t, 0.0, agg.PnL, 1e-9)
}

func TestReconcileGracePeriod(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)

	rec := newTestRecord("k:up", domain.SideUp)
	rec.SubmittedAt = time.Now() // 刚提交
	require.NoError(t, l.OpenTrade(rec))

	report, err := l.Reconcile(nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Phantoms)
	assert.True(t, l.Has("k:up"))
}

func TestReconcileMatchKeepsPending(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)

	rec := newTestRecord("btc-15m-100:up", domain.SideUp)
	require.NoError(t, l.OpenTrade(rec))

	report, err := l.Reconcile([]*exchange.ExchangePosition{{
		Slug:   rec.Slug,
		Side:   domain.SideUp,
		Tokens: 10,
	}}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Phantoms)
	assert.Empty(t, report.Reconstructed)
	assert.True(t, l.Has(rec.Key))
}

func TestReconcileReconstruction(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)

	report, err := l.Reconcile([]*exchange.ExchangePosition{
		{
			Slug:     "eth-updown-15m-200",
			Side:     domain.SideDown,
			Tokens:   20,
			AvgPrice: 0.55,
			AssetID:  "tok",
		},
		{
			// 已可赎回的旧仓不重建
			Slug:       "old-market",
			Side:       domain.SideUp,
			Tokens:     5,
			Redeemable: true,
		},
	}, time.Now())
	require.NoError(t, err)
	require.Len(t, report.Reconstructed, 1)

	rec := report.Reconstructed[0]
	assert.Equal(t, "eth-updown-15m-200:down", rec.Key)
	assert.InDelta(t, 11.0, rec.Cost, 1e-9)
	assert.True(t, l.Has(rec.Key))

	// 到期时间从 slug 推导：开始时间 200 + 15 分钟
	assert.Equal(t, time.Unix(200, 0).Add(15*time.Minute), rec.ExpiryTime)
}

func TestReconcileReconstructionUnparsableSlug(t *testing.T) {
	l, err := NewLedger(persistence.NewMemoryService(), newTestLog(t))
	require.NoError(t, err)

	report, err := l.Reconcile([]*exchange.ExchangePosition{{
		Slug:     "some-one-off-market",
		Side:     domain.SideUp,
		Tokens:   5,
		AvgPrice: 0.40,
	}}, time.Now())
	require.NoError(t, err)
	require.Len(t, report.Reconstructed, 1)

	// 推导不了到期时间就留零值，交给结算循环直接问预言机
	assert.True(t, report.Reconstructed[0].ExpiryTime.IsZero())
}
