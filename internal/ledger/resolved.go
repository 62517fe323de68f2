package ledger

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/betbot/snipebot/internal/domain"
)

// OutcomePhantom 幽灵仓的终结标记（真实资金未动，pnl 恒为 0）
const OutcomePhantom = "phantom"

const resolvedSchema = `
CREATE TABLE IF NOT EXISTS resolved_trades (
	key          TEXT NOT NULL,
	window_id    TEXT NOT NULL,
	slug         TEXT NOT NULL,
	instrument   TEXT NOT NULL,
	side         TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	price        REAL NOT NULL,
	tokens       REAL NOT NULL,
	cost         REAL NOT NULL,
	fee          REAL NOT NULL,
	payout       REAL NOT NULL,
	pnl          REAL NOT NULL,
	submitted_at INTEGER NOT NULL,
	resolved_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resolved_key ON resolved_trades(key);
`

// ResolvedLog 已结算交易的只追加日志（sqlite）
//
// 每笔结算恰好一条 INSERT，从不 UPDATE。会话聚合在启动时从这里重建。
type ResolvedLog struct {
	db *sql.DB
}

func OpenResolvedLog(path string) (*ResolvedLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open resolved log")
	}
	// 单写入方，避免 sqlite 的并发写锁竞争
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(resolvedSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init resolved schema")
	}
	return &ResolvedLog{db: db}, nil
}

func (r *ResolvedLog) Close() error {
	return r.db.Close()
}

// Append 追加一条已终结记录。outcome 为 WON/LOST/phantom。
func (r *ResolvedLog) Append(rec *domain.TradeRecord, outcome string) error {
	_, err := r.db.Exec(`
		INSERT INTO resolved_trades
		(key, window_id, slug, instrument, side, outcome, price, tokens, cost, fee, payout, pnl, submitted_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.WindowID, rec.Slug, rec.Instrument, string(rec.Side), outcome,
		rec.Price, rec.Tokens, rec.Cost, rec.Fee, rec.Payout(), rec.PnL,
		rec.SubmittedAt.Unix(), rec.ResolvedAt.Unix(),
	)
	return errors.Wrap(err, "append resolved trade")
}

// Aggregates 会话聚合（幽灵仓不计入胜负与盈亏）
type Aggregates struct {
	Wins    int
	Losses  int
	Wagered float64
	Payout  float64
	PnL     float64
}

// LoadAggregates 从日志重建聚合；since 之前的记录忽略（零值表示全部）
func (r *ResolvedLog) LoadAggregates(since time.Time) (Aggregates, error) {
	var agg Aggregates
	rows, err := r.db.Query(`
		SELECT outcome, cost, payout, pnl FROM resolved_trades WHERE resolved_at >= ?`,
		since.Unix())
	if err != nil {
		return agg, errors.Wrap(err, "query aggregates")
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var cost, payout, pnl float64
		if err := rows.Scan(&outcome, &cost, &payout, &pnl); err != nil {
			return agg, errors.Wrap(err, "scan aggregate row")
		}
		switch outcome {
		case string(domain.TradeStatusWon):
			agg.Wins++
		case string(domain.TradeStatusLost):
			agg.Losses++
		case OutcomePhantom:
			continue
		}
		agg.Wagered += cost
		agg.Payout += payout
		agg.PnL += pnl
	}
	return agg, errors.Wrap(rows.Err(), "iterate aggregate rows")
}

// Resolved 某键是否已有终结记录
func (r *ResolvedLog) Resolved(key string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM resolved_trades WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query resolved key")
	}
	return n > 0, nil
}
