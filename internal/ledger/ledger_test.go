package ledger

import "testing"

func TestCalculateCostScenario(t *testing.T) {
	// 2 cores, 1GB ram, no gpu, 300s timeout -> 15 credits
	got := CalculateCost(2, 1, false, 300)
	if got != 15 {
		t.Fatalf("CalculateCost(2,1,false,300) = %d, want 15", got)
	}
}

func TestCalculateCostIsPure(t *testing.T) {
	a := CalculateCost(3, 2.5, true, 120)
	b := CalculateCost(3, 2.5, true, 120)
	if a != b {
		t.Fatalf("CalculateCost is not idempotent: %d != %d", a, b)
	}
}

func TestApplyFloor(t *testing.T) {
	if got := ApplyFloor(3, 5); got != 5 {
		t.Fatalf("ApplyFloor(3,5) = %d, want 5", got)
	}
	if got := ApplyFloor(15, 5); got != 15 {
		t.Fatalf("ApplyFloor(15,5) = %d, want 15", got)
	}
}
