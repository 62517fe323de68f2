package fairvalue

import (
	"math"
	"testing"
)

func TestCalculate_AtTheMoney(t *testing.T) {
	// spot=strike 时无论波动率如何，概率都应接近五五开
	c := NewCalculator()
	r := c.Calculate(100, 100, 600, 0.5)
	if math.Abs(r.FairUp-0.5) > 0.02 {
		t.Fatalf("ATM fairUp got=%f want~0.5", r.FairUp)
	}
	if math.Abs(r.FairUp+r.FairDown-1.0) > 1e-9 {
		t.Fatalf("fairUp+fairDown=%f want 1", r.FairUp+r.FairDown)
	}
}

func TestCalculate_ProbabilitiesSumToOne(t *testing.T) {
	c := NewCalculator()
	spots := []float64{90, 99, 100, 101, 110}
	vols := []float64{0.1, 0.5, 1.5}
	secs := []float64{30, 300, 900}
	for _, s := range spots {
		for _, v := range vols {
			for _, sec := range secs {
				r := c.Calculate(s, 100, sec, v)
				sum := r.FairUp + r.FairDown
				// 两边都被钳制时允许 2*MinProb 的偏差
				if sum < 1.0-2*MinProb-1e-9 || sum > 1.0+2*MinProb+1e-9 {
					t.Fatalf("sum=%f spot=%f vol=%f sec=%f", sum, s, v, sec)
				}
			}
		}
	}
}

func TestCalculate_MonotonicInSpot(t *testing.T) {
	c := NewCalculator()
	prev := -1.0
	for spot := 95.0; spot <= 105.0; spot += 0.5 {
		r := c.Calculate(spot, 100, 600, 0.5)
		if r.FairUp < prev {
			t.Fatalf("fairUp not monotonic at spot=%f: %f < %f", spot, r.FairUp, prev)
		}
		prev = r.FairUp
	}
}

func TestCalculate_MonotonicInStrike(t *testing.T) {
	c := NewCalculator()
	prev := 2.0
	for strike := 95.0; strike <= 105.0; strike += 0.5 {
		r := c.Calculate(100, strike, 600, 0.5)
		if r.FairUp > prev {
			t.Fatalf("fairUp not decreasing at strike=%f: %f > %f", strike, r.FairUp, prev)
		}
		prev = r.FairUp
	}
}

func TestCalculate_ExpiredStep(t *testing.T) {
	c := NewCalculator()

	r := c.Calculate(101, 100, 0, 0.5)
	if r.FairUp != MaxProb {
		t.Fatalf("expired above strike: got=%f want=%f", r.FairUp, MaxProb)
	}
	r = c.Calculate(99, 100, 0, 0.5)
	if r.FairUp != MinProb {
		t.Fatalf("expired below strike: got=%f want=%f", r.FairUp, MinProb)
	}
	r = c.Calculate(100, 100, 0, 0.5)
	if r.FairUp != 0.5 {
		t.Fatalf("expired at strike: got=%f want=0.5", r.FairUp)
	}
}

func TestCalculate_ConvergesToStepNearExpiry(t *testing.T) {
	// spot 高于 strike 时，剩余时间趋近 0 应收敛到上限
	c := NewCalculator()
	prev := 0.0
	for _, secs := range []float64{600, 60, 6, 0.6, 0.06} {
		r := c.Calculate(100.5, 100, secs, 0.5)
		if r.FairUp+1e-12 < prev {
			t.Fatalf("fairUp should increase toward 1 as expiry nears: secs=%f got=%f prev=%f", secs, r.FairUp, prev)
		}
		prev = r.FairUp
	}
	if prev != MaxProb {
		t.Fatalf("near-zero expiry fairUp got=%f want=%f", prev, MaxProb)
	}
}

func TestCalculate_OutputClamped(t *testing.T) {
	c := NewCalculator()
	// 极端价内：不允许输出 > 0.99
	r := c.Calculate(200, 100, 10, 0.1)
	if r.FairUp > MaxProb || r.FairDown < MinProb {
		t.Fatalf("clamp violated: up=%f down=%f", r.FairUp, r.FairDown)
	}
}

func TestCalculate_InvalidInputs(t *testing.T) {
	c := NewCalculator()
	r := c.Calculate(0, 100, 600, 0.5)
	if r.FairUp != 0.5 || r.FairDown != 0.5 {
		t.Fatalf("zero spot should give 0.5/0.5, got %f/%f", r.FairUp, r.FairDown)
	}
}

func TestCalculate_VolClamped(t *testing.T) {
	c := NewCalculator()
	r := c.Calculate(100, 100, 600, 99)
	if r.Vol != MaxVol {
		t.Fatalf("vol clamp got=%f want=%f", r.Vol, MaxVol)
	}
	r = c.Calculate(100, 100, 600, 0.001)
	if r.Vol != MinVol {
		t.Fatalf("vol floor got=%f want=%f", r.Vol, MinVol)
	}
}

func TestNormalCDF(t *testing.T) {
	cases := []struct{ x, want float64 }{
		{0, 0.5},
		{1.0, 0.8413},
		{-1.0, 0.1587},
		{2.0, 0.9772},
	}
	for _, c := range cases {
		got := NormalCDF(c.x)
		if math.Abs(got-c.want) > 1e-3 {
			t.Fatalf("NormalCDF(%f)=%f want=%f", c.x, got, c.want)
		}
	}
}

func TestInverseNormalCDF_RoundTrip(t *testing.T) {
	for _, p := range []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.99} {
		x := InverseNormalCDF(p)
		back := NormalCDF(x)
		if math.Abs(back-p) > 1e-3 {
			t.Fatalf("round trip p=%f -> x=%f -> %f", p, x, back)
		}
	}
}

func TestRequiredMoveForEdge(t *testing.T) {
	c := NewCalculator()
	// 目标概率 0.5 意味着不需要任何位移
	move := c.RequiredMoveForEdge(600, 0.5, 0.5)
	if math.Abs(move) > 1e-9 {
		t.Fatalf("move for p=0.5 got=%f want=0", move)
	}
	// 更高的目标概率需要更大的位移
	m65 := c.RequiredMoveForEdge(600, 0.5, 0.65)
	m80 := c.RequiredMoveForEdge(600, 0.5, 0.80)
	if !(m80 > m65 && m65 > 0) {
		t.Fatalf("moves should increase with target: m65=%f m80=%f", m65, m80)
	}
}
