package clob

import (
	"errors"
	"testing"
)

func testMarket(t *testing.T) *Market {
	t.Helper()
	params := DefaultMarketParams()
	params.MinNotional = 100
	params.MinOrderSize = 1
	params.MaxOrderSize = 1_000
	m, err := NewMarket("MERA-USDC", "MERA", "USDC", params)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func TestValidateOrderLimit(t *testing.T) {
	m := testMarket(t)

	if err := m.ValidateOrder(LimitOrder, 100, 5); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}
	if err := m.ValidateOrder(LimitOrder, 0, 5); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("zero price: got %v", err)
	}
	if err := m.ValidateOrder(LimitOrder, -10, 5); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("negative price: got %v", err)
	}
	if err := m.ValidateOrder(LimitOrder, 100, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("zero qty: got %v", err)
	}
	if err := m.ValidateOrder(LimitOrder, 100, 2_000); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("oversize qty: got %v", err)
	}
	// 10 * 9 = 90 below MinNotional 100.
	if err := m.ValidateOrder(LimitOrder, 10, 9); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("dust notional: got %v", err)
	}
}

func TestValidateOrderMarketSkipsPriceChecks(t *testing.T) {
	m := testMarket(t)

	if err := m.ValidateOrder(MarketOrder, 0, 5); err != nil {
		t.Errorf("market order with zero price rejected: %v", err)
	}
	if err := m.ValidateOrder(MarketOrder, 0, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("market order zero qty: got %v", err)
	}
}

func TestFeeBpsByRole(t *testing.T) {
	m := testMarket(t)
	if got := m.FeeBps(true); got != m.MakerFeeBps {
		t.Errorf("maker fee: got %d", got)
	}
	if got := m.FeeBps(false); got != m.TakerFeeBps {
		t.Errorf("taker fee: got %d", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m := testMarket(t)

	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(m); err == nil {
		t.Error("duplicate register accepted")
	}

	got, err := r.Get("MERA-USDC")
	if err != nil || got.Symbol != "MERA-USDC" {
		t.Errorf("get: %v", err)
	}
	if _, err := r.Get("NOPE-USDC"); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("unknown market: got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("count: got %d", r.Count())
	}

	if err := r.UpdateStatus("MERA-USDC", Paused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := r.UpdateStatus("MERA-USDC", Settled); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Settled is terminal.
	if err := r.UpdateStatus("MERA-USDC", Active); err == nil {
		t.Error("reactivated a settled market")
	}
}

func TestOrderStatusStrings(t *testing.T) {
	cases := map[OrderStatus]string{
		OrderOpen:            "open",
		OrderPartiallyFilled: "partially_filled",
		OrderFilled:          "filled",
		OrderCancelled:       "cancelled",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("status %d: got %q, want %q", status, got, want)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("opposite side broken")
	}
}
