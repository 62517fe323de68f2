package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/betbot/snipebot/internal/domain"
)

func TestWindowSlug(t *testing.T) {
	inst := &domain.Instrument{Symbol: "btc", FeedSymbol: "BTCUSDT", Duration: 15 * time.Minute, DurationTag: "15m"}
	open := time.Unix(1756400400, 0)
	if got := WindowSlug(inst, open); got != "btc-updown-15m-1756400400" {
		t.Fatalf("WindowSlug = %s", got)
	}
}

func TestParseWindowSlug(t *testing.T) {
	open, dur, err := ParseWindowSlug("btc-updown-15m-1756400400")
	if err != nil {
		t.Fatalf("ParseWindowSlug: %v", err)
	}
	if !open.Equal(time.Unix(1756400400, 0)) || dur != 15*time.Minute {
		t.Fatalf("open=%v dur=%v", open, dur)
	}

	for _, bad := range []string{
		"old-market",
		"btc-15m-1756400400",
		"btc-updown-15m-notanumber",
		"btc-updown-xx-1756400400",
	} {
		if _, _, err := ParseWindowSlug(bad); err == nil {
			t.Fatalf("ParseWindowSlug(%q) must error", bad)
		}
	}
}

func TestParseTokenIDs(t *testing.T) {
	up, down, err := parseTokenIDs(`["Up","Down"]`, `["111","222"]`)
	if err != nil {
		t.Fatalf("parseTokenIDs: %v", err)
	}
	if up != "111" || down != "222" {
		t.Fatalf("up=%s down=%s", up, down)
	}

	// 顺序颠倒也必须按 outcome 对齐
	up, down, err = parseTokenIDs(`["Down","Up"]`, `["111","222"]`)
	if err != nil {
		t.Fatalf("parseTokenIDs reversed: %v", err)
	}
	if up != "222" || down != "111" {
		t.Fatalf("reversed: up=%s down=%s", up, down)
	}

	if _, _, err := parseTokenIDs(`["Yes","No"]`, `["1","2"]`); err == nil {
		t.Fatal("non up/down outcomes must error")
	}
	if _, _, err := parseTokenIDs(`["Up"]`, `["1","2"]`); err == nil {
		t.Fatal("arity mismatch must error")
	}
}

func TestWinnerCapitalizedOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"slug":"btc-updown-15m-100","closed":true,` +
			`"outcomes":"[\"Up\",\"Down\"]","outcomePrices":"[\"0.02\",\"0.98\"]"}]`))
	}))
	defer srv.Close()

	o := NewOracleClient(srv.URL, srv.URL)
	winner, decided, err := o.Winner(context.Background(), "btc-updown-15m-100")
	if err != nil {
		t.Fatalf("Winner: %v", err)
	}
	if !decided || winner != domain.SideDown {
		t.Fatalf("winner=%s decided=%v", winner, decided)
	}
}

func TestPositionsCapitalizedOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"asset":"tok","conditionId":"0xc","slug":"btc-updown-15m-100","outcome":"Up","size":12,"avgPrice":0.4},
			{"asset":"t2","slug":"weird","outcome":"Yes","size":5,"avgPrice":0.5}
		]`))
	}))
	defer srv.Close()

	d := NewDataAPIClient(srv.URL, "0xabc")
	got, err := d.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	// 未知 outcome 的行跳过，线上大写的 Up/Down 正常入域
	if len(got) != 1 || got[0].Side != domain.SideUp || got[0].Tokens != 12 {
		t.Fatalf("positions: %+v", got)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]OrderStatus{
		"matched":   OrderStatusMatched,
		"FILLED":    OrderStatusMatched,
		"live":      OrderStatusLive,
		"OPEN":      OrderStatusLive,
		"canceled":  OrderStatusCanceled,
		"delayed":   OrderStatusRejected,
		"":          OrderStatusRejected,
		"unmatched": OrderStatusRejected,
	}
	for in, want := range cases {
		if got := normalizeStatus(in); got != want {
			t.Fatalf("normalizeStatus(%q) = %s, want %s", in, got, want)
		}
	}
	if !OrderStatusMatched.Filled() || OrderStatusLive.Filled() {
		t.Fatal("Filled semantics broken")
	}
}

func TestPaperGatewayFOK(t *testing.T) {
	book := map[string]domain.BookTop{
		"tok": {
			Bid:     domain.PriceFromDecimal(0.38),
			Ask:     domain.PriceFromDecimal(0.40),
			AskSize: 50,
		},
	}
	g := NewPaperGateway(func(assetID string) (domain.BookTop, bool) {
		top, ok := book[assetID]
		return top, ok
	})
	ctx := context.Background()

	// 限价 >= 卖一、量足够 → 全部成交于卖一价
	res, err := g.SubmitFOK(ctx, &OrderRequest{AssetID: "tok", Price: domain.PriceFromDecimal(0.41), Tokens: 50})
	if err != nil {
		t.Fatalf("SubmitFOK: %v", err)
	}
	if !res.Status.Filled() || res.FilledTokens != 50 || res.AvgPrice != 0.40 {
		t.Fatalf("fill result: %+v", res)
	}

	// 量不足 → 拒单（FOK 不允许部分成交）
	res, _ = g.SubmitFOK(ctx, &OrderRequest{AssetID: "tok", Price: domain.PriceFromDecimal(0.41), Tokens: 51})
	if res.Status != OrderStatusRejected {
		t.Fatalf("oversized FOK must reject, got %s", res.Status)
	}

	// 限价低于卖一 → 拒单
	res, _ = g.SubmitFOK(ctx, &OrderRequest{AssetID: "tok", Price: domain.PriceFromDecimal(0.39), Tokens: 10})
	if res.Status != OrderStatusRejected {
		t.Fatalf("priced-out FOK must reject, got %s", res.Status)
	}

	// 未知资产 → 拒单
	res, _ = g.SubmitFOK(ctx, &OrderRequest{AssetID: "nope", Price: domain.PriceFromDecimal(0.50), Tokens: 10})
	if res.Status != OrderStatusRejected {
		t.Fatalf("unknown asset must reject, got %s", res.Status)
	}
}

func TestParseLevel(t *testing.T) {
	p, s := parseLevel(bookLevel{Price: "0.42", Size: "120.5"})
	if p.Pips != 4200 || s != 120.5 {
		t.Fatalf("parseLevel = %d/%f", p.Pips, s)
	}
	p, s = parseLevel(bookLevel{Price: "bad", Size: "1"})
	if !p.IsZero() || s != 0 {
		t.Fatal("bad level must parse to zero")
	}
}
