package clob

import "testing"

func TestToInternalFloors(t *testing.T) {
	// 18-decimal native down to 6-decimal internal: dust is truncated.
	if got := ToInternal(1_500_000_999_999_999_999, 18); got != 1_500_000 {
		t.Errorf("ToInternal: got %d, want 1500000", got)
	}
	// Same precision passes through.
	if got := ToInternal(42, InternalDecimals); got != 42 {
		t.Errorf("ToInternal same scale: got %d, want 42", got)
	}
	// Coarser native scales up exactly.
	if got := ToInternal(3, 2); got != 30_000 {
		t.Errorf("ToInternal scale up: got %d, want 30000", got)
	}
}

func TestFromInternalFloors(t *testing.T) {
	if got := FromInternal(1_500_000, 18); got != 1_500_000_000_000_000_000 {
		t.Errorf("FromInternal: got %d", got)
	}
	// Internal value below native resolution floors to zero.
	if got := FromInternal(123_456, 2); got != 12 {
		t.Errorf("FromInternal floor: got %d, want 12", got)
	}
}

func TestRoundTripNeverCreatesValue(t *testing.T) {
	for _, native := range []int64{0, 1, 999, 1_000_000, 123_456_789} {
		internal := ToInternal(native, 9)
		back := FromInternal(internal, 9)
		if back > native {
			t.Errorf("round trip created value: %d -> %d -> %d", native, internal, back)
		}
	}
}

func TestFeeFor(t *testing.T) {
	if got := FeeFor(10_000, 5); got != 5 {
		t.Errorf("FeeFor: got %d, want 5", got)
	}
	// Floors toward zero.
	if got := FeeFor(1_999, 5); got != 0 {
		t.Errorf("FeeFor small: got %d, want 0", got)
	}
	if got := FeeFor(10_000, 0); got != 0 {
		t.Errorf("FeeFor zero bps: got %d", got)
	}
	if got := FeeFor(10_000, -3); got != 0 {
		t.Errorf("FeeFor negative bps: got %d", got)
	}
}
