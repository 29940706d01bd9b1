package asset

import (
	"math/big"
	"testing"
)

func TestMinOutputAppliesSlippageBound(t *testing.T) {
	out := big.NewInt(200_000_000)
	minOut, err := MinOutput(out, 50)
	if err != nil {
		t.Fatalf("MinOutput failed: %v", err)
	}
	if minOut.String() != "199000000" {
		t.Fatalf("expected 199000000, got %s", minOut)
	}
}

func TestMinOutputNeverExceedsQuoted(t *testing.T) {
	cases := []struct {
		out *big.Int
		bps int64
	}{
		{big.NewInt(1), 0},
		{big.NewInt(1), 1},
		{big.NewInt(3), 3333},
		{big.NewInt(999_999_999), 1},
		{new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil), 50},
		{big.NewInt(7), 10_000},
	}
	for _, tc := range cases {
		minOut, err := MinOutput(tc.out, tc.bps)
		if err != nil {
			t.Fatalf("MinOutput(%s, %d) failed: %v", tc.out, tc.bps, err)
		}
		if minOut.Cmp(tc.out) > 0 {
			t.Fatalf("MinOutput(%s, %d) = %s exceeds quoted output", tc.out, tc.bps, minOut)
		}
	}
}

func TestMinOutputValidation(t *testing.T) {
	if _, err := MinOutput(big.NewInt(100), -1); err == nil {
		t.Fatal("expected negative bps to be rejected")
	}
	if _, err := MinOutput(big.NewInt(100), 10_001); err == nil {
		t.Fatal("expected bps above 10000 to be rejected")
	}
	if _, err := MinOutput(big.NewInt(0), 50); err == nil {
		t.Fatal("expected zero output to be rejected")
	}
	if _, err := MinOutput(nil, 50); err == nil {
		t.Fatal("expected nil output to be rejected")
	}
}

func TestValidSlippageBps(t *testing.T) {
	for _, v := range []int64{0, 1, 50, 10_000} {
		if !ValidSlippageBps(v) {
			t.Fatalf("expected %d to be valid", v)
		}
	}
	for _, v := range []int64{-1, 10_001} {
		if ValidSlippageBps(v) {
			t.Fatalf("expected %d to be invalid", v)
		}
	}
}

func TestImpactBps(t *testing.T) {
	// Reference 2000, executed 1990: 0.5% below reference.
	if got := ImpactBps(big.NewInt(2000), big.NewInt(1990)); got != 50 {
		t.Fatalf("expected 50 bps impact, got %d", got)
	}
	if got := ImpactBps(big.NewInt(2000), big.NewInt(2000)); got != 0 {
		t.Fatalf("expected zero impact at parity, got %d", got)
	}
	if got := ImpactBps(big.NewInt(2000), big.NewInt(2100)); got != 0 {
		t.Fatalf("expected clamped impact when execution beats reference, got %d", got)
	}
	if got := ImpactBps(nil, big.NewInt(1)); got != 0 {
		t.Fatalf("expected zero impact for nil reference, got %d", got)
	}
}
