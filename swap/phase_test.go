package swap

import "testing"

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to Phase }{
		{PhaseIdle, PhaseQuoting},
		{PhaseQuoting, PhaseQuoting},
		{PhaseQuoting, PhaseNeedsApproval},
		{PhaseQuoting, PhaseReadyToSwap},
		{PhaseQuoting, PhaseFailed},
		{PhaseNeedsApproval, PhaseApproving},
		{PhaseNeedsApproval, PhaseQuoting},
		{PhaseApproving, PhaseReadyToSwap},
		{PhaseApproving, PhaseNeedsApproval},
		{PhaseApproving, PhaseFailed},
		{PhaseApproving, PhaseIdle},
		{PhaseReadyToSwap, PhaseSwapping},
		{PhaseReadyToSwap, PhaseQuoting},
		{PhaseSwapping, PhaseConfirmed},
		{PhaseSwapping, PhaseFailed},
		{PhaseSwapping, PhaseNeedsApproval},
		{PhaseSwapping, PhaseReadyToSwap},
		{PhaseSwapping, PhaseIdle},
		{PhaseConfirmed, PhaseQuoting},
		{PhaseFailed, PhaseQuoting},
		{PhaseFailed, PhaseIdle},
	}
	for _, tc := range legal {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to Phase }{
		{PhaseIdle, PhaseIdle},
		{PhaseIdle, PhaseApproving},
		{PhaseIdle, PhaseSwapping},
		{PhaseIdle, PhaseConfirmed},
		{PhaseQuoting, PhaseApproving},
		{PhaseQuoting, PhaseSwapping},
		{PhaseQuoting, PhaseConfirmed},
		{PhaseNeedsApproval, PhaseSwapping},
		{PhaseNeedsApproval, PhaseReadyToSwap},
		{PhaseNeedsApproval, PhaseConfirmed},
		{PhaseApproving, PhaseApproving},
		{PhaseApproving, PhaseConfirmed},
		{PhaseReadyToSwap, PhaseApproving},
		{PhaseReadyToSwap, PhaseConfirmed},
		{PhaseSwapping, PhaseSwapping},
		{PhaseConfirmed, PhaseSwapping},
		{PhaseConfirmed, PhaseConfirmed},
		{PhaseFailed, PhaseApproving},
		{PhaseFailed, PhaseSwapping},
		{Phase("bogus"), PhaseQuoting},
	}
	for _, tc := range illegal {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestBusy(t *testing.T) {
	busy := []Phase{PhaseApproving, PhaseSwapping}
	for _, p := range busy {
		if !p.Busy() {
			t.Errorf("expected %s to be busy", p)
		}
	}
	idle := []Phase{PhaseIdle, PhaseQuoting, PhaseNeedsApproval, PhaseReadyToSwap, PhaseConfirmed, PhaseFailed}
	for _, p := range idle {
		if p.Busy() {
			t.Errorf("expected %s not to be busy", p)
		}
	}
}
