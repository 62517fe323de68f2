package domain

import (
	"math"
	"testing"
	"time"
)

func TestParseSide(t *testing.T) {
	cases := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"up", SideUp, false},
		{"UP", SideUp, false},
		{"Down", SideDown, false},
		{"yes", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseSide(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParseSide(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSide(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseSide(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if SideUp.Opposite() != SideDown || SideDown.Opposite() != SideUp {
		t.Fatal("Opposite mismatch")
	}
}

func TestPriceRoundTrip(t *testing.T) {
	p := PriceFromDecimal(0.4237)
	if p.Pips != 4237 {
		t.Fatalf("Pips = %d, want 4237", p.Pips)
	}
	if math.Abs(p.ToDecimal()-0.4237) > 1e-9 {
		t.Fatalf("ToDecimal = %f", p.ToDecimal())
	}
	if p.ToCents() != 42 {
		t.Fatalf("ToCents = %d, want 42", p.ToCents())
	}
	if !p.Complement().InRange() || p.Complement().Pips != 5763 {
		t.Fatalf("Complement = %d", p.Complement().Pips)
	}
	if !(Price{}).IsZero() {
		t.Fatal("zero price should be IsZero")
	}
}

func testInstrument() *Instrument {
	return &Instrument{
		Symbol:      "btc",
		FeedSymbol:  "BTCUSDT",
		Duration:    5 * time.Minute,
		DurationTag: "5m",
	}
}

func TestInstrumentFees(t *testing.T) {
	inst := testInstrument()
	// 5m 窗口费率 0.0176，price*(1-price) 在 0.5 处取最大
	fee := inst.TakerFee(0.5, 100)
	want := 0.5 * 0.5 * 0.0176 * 100
	if math.Abs(fee-want) > 1e-9 {
		t.Fatalf("TakerFee = %f, want %f", fee, want)
	}
	hourly := &Instrument{Symbol: "btc", FeedSymbol: "BTCUSDT", Duration: time.Hour, DurationTag: "1h"}
	if hourly.TakerFee(0.5, 100) != 0 {
		t.Fatal("1h window should be fee-free")
	}
}

func TestWindowTradable(t *testing.T) {
	now := time.Now()
	w := &MarketWindow{
		Slug:        "btc-updown-5m-123",
		WindowID:    "btc-5m-123",
		Instrument:  testInstrument(),
		UpAssetID:   "u1",
		DownAssetID: "d1",
		Strike:      65000,
		OpenTime:    now.Add(-time.Minute),
		ExpiryTime:  now.Add(4 * time.Minute),
		State:       WindowStateActive,
	}
	if !w.IsValid() || !w.Tradable() {
		t.Fatal("active window with strike should be tradable")
	}

	w.StartupWindow = true
	if w.Tradable() {
		t.Fatal("startup window must not be tradable")
	}
	w.StartupWindow = false

	w.Strike = 0
	if w.Tradable() {
		t.Fatal("window without strike must not be tradable")
	}
	w.Strike = 65000

	w.State = WindowStateExpired
	if w.Tradable() {
		t.Fatal("expired window must not be tradable")
	}

	if got := w.SecondsToExpiry(now.Add(10 * time.Minute)); got != 0 {
		t.Fatalf("SecondsToExpiry past expiry = %f, want 0", got)
	}
	if w.AssetID(SideUp) != "u1" || w.AssetID(SideDown) != "d1" {
		t.Fatal("AssetID mismatch")
	}
	if w.TradeKey(SideUp) != "btc-5m-123:up" {
		t.Fatalf("TradeKey = %s", w.TradeKey(SideUp))
	}
}

func TestTradeResolveIdempotent(t *testing.T) {
	tr := &TradeRecord{
		Key:    "btc-5m-123:up",
		Side:   SideUp,
		Price:  0.40,
		Tokens: 10,
		Cost:   4.0,
		Fee:    0.04,
		Status: TradeStatusPending,
	}
	now := time.Now()

	tr.Resolve(SideUp, now)
	if tr.Status != TradeStatusWon {
		t.Fatalf("Status = %s, want WON", tr.Status)
	}
	wantPnL := 10 - 4.0 - 0.04
	if math.Abs(tr.PnL-wantPnL) > 1e-9 {
		t.Fatalf("PnL = %f, want %f", tr.PnL, wantPnL)
	}
	if tr.Payout() != 10 {
		t.Fatalf("Payout = %f", tr.Payout())
	}

	// 重复结算（包括相反结果）必须是空操作
	tr.Resolve(SideDown, now.Add(time.Minute))
	if tr.Status != TradeStatusWon || tr.PnL != wantPnL {
		t.Fatal("Resolve must be idempotent")
	}
}

func TestTradeResolveLoss(t *testing.T) {
	tr := &TradeRecord{Side: SideDown, Tokens: 10, Cost: 6.0, Fee: 0.1, Status: TradeStatusPending}
	tr.Resolve(SideUp, time.Now())
	if tr.Status != TradeStatusLost {
		t.Fatalf("Status = %s, want LOST", tr.Status)
	}
	if math.Abs(tr.PnL-(-6.1)) > 1e-9 {
		t.Fatalf("PnL = %f, want -6.1", tr.PnL)
	}
	if tr.Payout() != 0 {
		t.Fatal("losing trade pays nothing")
	}
}

func TestRegistryValidation(t *testing.T) {
	inst := testInstrument()
	r, err := NewRegistry([]*Instrument{inst})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.Get("btc-5m"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Get("doge-5m"); err == nil {
		t.Fatal("unknown instrument must error")
	}

	if _, err := NewRegistry([]*Instrument{inst, testInstrument()}); err == nil {
		t.Fatal("duplicate instruments must error")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("empty registry must error")
	}
	if _, err := NewRegistry([]*Instrument{{Symbol: "btc", FeedSymbol: "BTCUSDT", Duration: time.Second, DurationTag: "1s"}}); err == nil {
		t.Fatal("sub-minute duration must error")
	}

	syms := r.FeedSymbols()
	if len(syms) != 1 || syms[0] != "BTCUSDT" {
		t.Fatalf("FeedSymbols = %v", syms)
	}
}

func TestPositionAvgPrice(t *testing.T) {
	p := &Position{WindowID: "btc-5m-123", Side: SideUp}
	p.Add(10, 4)
	p.Add(5, 2.5)
	if math.Abs(p.AvgPrice()-6.5/15) > 1e-9 {
		t.Fatalf("AvgPrice = %f", p.AvgPrice())
	}
	if p.Key() != "btc-5m-123:up" {
		t.Fatalf("Key = %s", p.Key())
	}
}
