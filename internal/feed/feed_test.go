package feed

import (
	"math"
	"testing"
	"time"

	"github.com/betbot/snipebot/pkg/fairvalue"
)

func TestPriceBookBasics(t *testing.T) {
	b := NewPriceBook()
	now := time.Now()

	if _, _, ok := b.Price("BTCUSDT"); ok {
		t.Fatal("empty book must report no price")
	}

	b.Update("BTCUSDT", 65000, now)
	b.Update("BTCUSDT", 65100, now.Add(time.Second))

	price, at, ok := b.Price("BTCUSDT")
	if !ok || price != 65100 {
		t.Fatalf("Price = %f ok=%v", price, ok)
	}
	if !at.Equal(now.Add(time.Second)) {
		t.Fatalf("timestamp mismatch: %v", at)
	}
	if age := b.Age("BTCUSDT", now.Add(3*time.Second)); age != 2*time.Second {
		t.Fatalf("Age = %v", age)
	}

	// 非法价不写入
	b.Update("BTCUSDT", 0, now.Add(2*time.Second))
	price, _, _ = b.Price("BTCUSDT")
	if price != 65100 {
		t.Fatal("zero price must be dropped")
	}
}

func TestPriceBookMomentum(t *testing.T) {
	b := NewPriceBook()
	now := time.Now()

	b.Update("ETHUSDT", 3000, now)
	b.Update("ETHUSDT", 3030, now.Add(30*time.Second))

	frac, ok := b.Momentum("ETHUSDT", time.Minute, now.Add(30*time.Second))
	if !ok {
		t.Fatal("momentum should be available")
	}
	if math.Abs(frac-0.01) > 1e-9 {
		t.Fatalf("Momentum = %f, want 0.01", frac)
	}

	// 窗口外无旧样本
	if _, ok := b.Momentum("ETHUSDT", 0, now); ok {
		t.Fatal("zero lookback must fail")
	}
	if _, ok := b.Momentum("SOLUSDT", time.Minute, now); ok {
		t.Fatal("unknown symbol must fail")
	}
}

func TestVolTrackerDefaultBelowMinSamples(t *testing.T) {
	v := NewVolTracker()
	now := time.Now()
	for i := 0; i < 5; i++ {
		v.Observe("BTCUSDT", 65000, now.Add(time.Duration(i)*5*time.Second))
	}
	if got := v.Realized("BTCUSDT", now.Add(time.Minute)); got != DefaultVol {
		t.Fatalf("Realized = %f, want default %f", got, DefaultVol)
	}
}

func TestVolTrackerSampleInterval(t *testing.T) {
	v := NewVolTracker()
	now := time.Now()
	// 1s 间隔写入，只应保留 5s 间隔的样本
	for i := 0; i < 20; i++ {
		v.Observe("BTCUSDT", 65000+float64(i), now.Add(time.Duration(i)*time.Second))
	}
	if n := v.SampleCount("BTCUSDT"); n != 4 {
		t.Fatalf("SampleCount = %d, want 4", n)
	}
}

func TestVolTrackerFlatSeriesClampsToMin(t *testing.T) {
	v := NewVolTracker()
	now := time.Now()
	for i := 0; i < 20; i++ {
		v.Observe("BTCUSDT", 65000, now.Add(time.Duration(i)*5*time.Second))
	}
	got := v.Realized("BTCUSDT", now.Add(2*time.Minute))
	if got != fairvalue.MinVol {
		t.Fatalf("flat series Realized = %f, want clamp %f", got, fairvalue.MinVol)
	}
}

func TestVolTrackerWildSeriesClampsToMax(t *testing.T) {
	v := NewVolTracker()
	now := time.Now()
	price := 65000.0
	for i := 0; i < 20; i++ {
		// 每 5s 交替 ±5%，远超年化上限
		if i%2 == 0 {
			price *= 1.05
		} else {
			price *= 0.95
		}
		v.Observe("BTCUSDT", price, now.Add(time.Duration(i)*5*time.Second))
	}
	got := v.Realized("BTCUSDT", now.Add(2*time.Minute))
	if got != fairvalue.MaxVol {
		t.Fatalf("wild series Realized = %f, want clamp %f", got, fairvalue.MaxVol)
	}
}

func TestVolTrackerCaches(t *testing.T) {
	v := NewVolTracker()
	now := time.Now()
	for i := 0; i < 20; i++ {
		v.Observe("BTCUSDT", 65000, now.Add(time.Duration(i)*5*time.Second))
	}
	at := now.Add(2 * time.Minute)
	first := v.Realized("BTCUSDT", at)

	// 10s 内加入剧烈波动样本，缓存结果不应变化
	v.Observe("BTCUSDT", 70000, at)
	second := v.Realized("BTCUSDT", at.Add(5*time.Second))
	if first != second {
		t.Fatalf("cached vol changed: %f -> %f", first, second)
	}

	third := v.Realized("BTCUSDT", at.Add(11*time.Second))
	if third <= first {
		t.Fatalf("recomputed vol should rise: %f -> %f", first, third)
	}
}

type fixedImplied float64

func (f fixedImplied) ImpliedVol(string) (float64, bool) { return float64(f), true }

func TestEffectiveVol(t *testing.T) {
	v := NewVolTracker()
	now := time.Now()

	// 无样本 → realized 缺省 0.50
	e := &EffectiveVol{Tracker: v}
	if got := e.EffectiveVol("BTCUSDT", now); got != DefaultVol {
		t.Fatalf("EffectiveVol = %f", got)
	}

	// implied 更高时取 implied
	e.Implied = fixedImplied(0.9)
	if got := e.EffectiveVol("BTCUSDT", now); got != 0.9 {
		t.Fatalf("EffectiveVol with implied = %f, want 0.9", got)
	}

	// implied 更低时仍取 realized
	e.Implied = fixedImplied(0.2)
	if got := e.EffectiveVol("BTCUSDT", now); got != DefaultVol {
		t.Fatalf("EffectiveVol with lower implied = %f, want %f", got, DefaultVol)
	}

	// fixed 覆盖一切
	e.FixedVol = 0.35
	if got := e.EffectiveVol("BTCUSDT", now); got != 0.35 {
		t.Fatalf("EffectiveVol fixed = %f, want 0.35", got)
	}
}

func TestCurrencyFor(t *testing.T) {
	if currencyFor("BTCUSDT") != "BTC" || currencyFor("ethusdt") != "ETH" {
		t.Fatal("currency mapping broken")
	}
	if currencyFor("SOLUSDT") != "" {
		t.Fatal("unsupported symbol must map to empty")
	}
}
