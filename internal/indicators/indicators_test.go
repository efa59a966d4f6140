package indicators

import "testing"

func TestSMAEmptySeriesContract(t *testing.T) {
	cases := []struct {
		name   string
		closes []float64
		period int
	}{
		{"too few closes", []float64{1, 2, 3}, 5},
		{"zero period", []float64{1, 2, 3}, 0},
		{"negative period", []float64{1, 2, 3}, -1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := SMA(c.closes, c.period); got != nil {
				t.Errorf("SMA(%v, %d) = %v, want nil", c.closes, c.period, got)
			}
		})
	}
}

func TestSMAKnownValues(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	got := SMA(closes, 3)
	want := []float64{2, 3, 4} // (1+2+3)/3, (2+3+4)/3, (3+4+5)/3
	if len(got) != len(want) {
		t.Fatalf("SMA length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("SMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRSIEmptySeriesContract(t *testing.T) {
	if got := RSI([]float64{1, 2, 3}, 14); got != nil {
		t.Errorf("RSI with insufficient closes = %v, want nil", got)
	}
}

func TestRSIAllGainsSaturatesHigh(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1) // strictly increasing
	}
	got := RSI(closes, 14)
	if len(got) == 0 {
		t.Fatal("expected a non-empty RSI series")
	}
	last := got[len(got)-1]
	if last < 99 {
		t.Errorf("RSI for an all-gains series = %v, want close to 100", last)
	}
}

func TestRSIAllLossesSaturatesLow(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(20 - i) // strictly decreasing
	}
	got := RSI(closes, 14)
	if len(got) == 0 {
		t.Fatal("expected a non-empty RSI series")
	}
	last := got[len(got)-1]
	if last > 1 {
		t.Errorf("RSI for an all-losses series = %v, want close to 0", last)
	}
}

func TestRSIFlatSeriesIsMidpoint(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	got := RSI(closes, 14)
	last := got[len(got)-1]
	if diff := last - 50; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("RSI for a flat series = %v, want 50", last)
	}
}
