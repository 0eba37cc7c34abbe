package units

import (
	"math"
	"testing"
)

func TestBACFromCode(t *testing.T) {
	tests := []struct {
		name      string
		year      int
		code      int
		wantBAC   float64
		wantKnown bool
	}{
		{"zero pre-2015", 1990, 0, 0, true},
		{"0.08 pre-2015", 1990, 8, 0.08, true},
		{"max pre-2015", 2014, 94, 0.94, true},
		{"refused pre-2015", 2014, 95, 0, false},
		{"unknown pre-2015", 1983, 99, 0, false},
		{"zero thousandths", 2015, 0, 0, true},
		{"0.080 thousandths", 2016, 80, 0.08, true},
		{"0.153 thousandths", 2017, 153, 0.153, true},
		{"capped thousandths", 2017, 940, 0.94, true},
		{"not tested thousandths", 2017, 995, 0, false},
		{"unknown thousandths", 2017, 999, 0, false},
		{"negative code", 2000, -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bac, known := BACFromCode(tt.year, tt.code)
			if known != tt.wantKnown {
				t.Fatalf("BACFromCode(%d, %d) known = %v, want %v", tt.year, tt.code, known, tt.wantKnown)
			}
			if math.Abs(bac-tt.wantBAC) > 1e-12 {
				t.Errorf("BACFromCode(%d, %d) = %f, want %f", tt.year, tt.code, bac, tt.wantBAC)
			}
		})
	}
}

func TestCodeFromBAC_RoundTrip(t *testing.T) {
	for _, year := range []int{1985, 2014, 2015, 2017} {
		for _, bac := range []float64{0, 0.01, 0.08, 0.15, 0.3} {
			code := CodeFromBAC(year, bac, true)
			got, known := BACFromCode(year, code)
			if !known || math.Abs(got-bac) > 1e-9 {
				t.Errorf("year %d bac %.3f: round trip gave %.3f (known=%v)", year, bac, got, known)
			}
		}
		if _, known := BACFromCode(year, CodeFromBAC(year, 0, false)); known {
			t.Errorf("year %d: unknown BAC round-tripped as known", year)
		}
	}
}

func TestIsValidThreshold(t *testing.T) {
	tests := []struct {
		threshold float64
		expected  bool
	}{
		{AnyAlcohol, true},
		{LegalLimit, true},
		{-0.01, false},
		{1.5, false},
	}
	for _, tt := range tests {
		if got := IsValidThreshold(tt.threshold); got != tt.expected {
			t.Errorf("IsValidThreshold(%v) = %v, want %v", tt.threshold, got, tt.expected)
		}
	}
}
