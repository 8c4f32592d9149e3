package ext

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/engine"
	"github.com/meridian-dex/meridian/pkg/clob/hooks"
	"github.com/meridian-dex/meridian/pkg/clob/ledger"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	sink  = common.HexToAddress("0x0000000000000000000000000000000000000FEE")
)

func TestDynamicFeeTiers(t *testing.T) {
	h := NewDynamicFeeHook([]FeeTier{
		{MinVolume: 0, TakerBps: 5},
		{MinVolume: 1_000_000, TakerBps: 3},
		{MinVolume: 10_000_000, TakerBps: 1},
	})

	fill := hooks.FillView{Symbol: "MERA-USDC", Taker: alice, Maker: bob, Price: 2000, Qty: 300}

	ack, delta, err := h.BeforeMatch(fill)
	if err != nil || ack != hooks.AckBeforeMatch {
		t.Fatalf("before-match: ack=%d err=%v", ack, err)
	}
	if delta.FeeBpsOverride != 5 {
		t.Errorf("base tier: got %d, want 5", delta.FeeBpsOverride)
	}

	// Accrue 600_000 notional. Staged volume is invisible until commit.
	if _, err := h.AfterMatch(fill); err != nil {
		t.Fatalf("after-match: %v", err)
	}
	if got := h.VolumeOf(alice); got != 0 {
		t.Errorf("staged volume visible before commit: %d", got)
	}
	h.Commit()
	_, delta, _ = h.BeforeMatch(fill)
	if delta.FeeBpsOverride != 5 {
		t.Errorf("below threshold: got %d, want 5", delta.FeeBpsOverride)
	}

	// A second committed operation crosses 1_000_000.
	h.AfterMatch(fill)
	h.Commit()
	_, delta, _ = h.BeforeMatch(fill)
	if delta.FeeBpsOverride != 3 {
		t.Errorf("tier 1: got %d, want 3", delta.FeeBpsOverride)
	}
	if got := h.VolumeOf(alice); got != 1_200_000 {
		t.Errorf("volume: got %d, want 1200000", got)
	}
	// Maker volume does not accrue to taker tiers.
	if got := h.VolumeOf(bob); got != 0 {
		t.Errorf("maker volume: got %d, want 0", got)
	}
}

func TestDynamicFeeCapabilities(t *testing.T) {
	h := NewDynamicFeeHook(nil)
	caps := h.Capabilities()
	if !caps.Has(hooks.CapBeforeMatch | hooks.CapAfterMatch | hooks.CapMatchDelta) {
		t.Errorf("capabilities: %b", caps)
	}
	// Empty tier table keeps the market schedule.
	_, delta, _ := h.BeforeMatch(hooks.FillView{Taker: alice})
	if delta.FeeBpsOverride != hooks.NoFeeOverride {
		t.Errorf("no tiers: got %d, want NoFeeOverride", delta.FeeBpsOverride)
	}
}

func TestVolumeTracker(t *testing.T) {
	h := NewVolumeTrackerHook()

	fill := hooks.FillView{Taker: alice, Maker: bob, Price: 100, Qty: 7}
	if _, err := h.AfterMatch(fill); err != nil {
		t.Fatalf("after-match: %v", err)
	}
	h.AfterMatch(fill)
	if s := h.StatsOf(alice); s != (VolumeStats{}) {
		t.Errorf("staged stats visible before commit: %+v", s)
	}
	h.Commit()

	taker := h.StatsOf(alice)
	if taker.TakerVolume != 1400 || taker.MakerVolume != 0 || taker.Fills != 2 {
		t.Errorf("taker stats: %+v", taker)
	}
	maker := h.StatsOf(bob)
	if maker.MakerVolume != 1400 || maker.TakerVolume != 0 || maker.Fills != 2 {
		t.Errorf("maker stats: %+v", maker)
	}
	if s := h.StatsOf(common.Address{}); s != (VolumeStats{}) {
		t.Errorf("unknown account stats: %+v", s)
	}
}

func TestMarginHookPriceBand(t *testing.T) {
	oracle := NewStaticOracle()
	oracle.Set("MERA-PERP", 2000)
	h := NewMarginHook(oracle, 1_000) // 10% band

	inside := hooks.OrderView{Symbol: "MERA-PERP", Kind: clob.LimitOrder, Price: 2150}
	ack, _, err := h.BeforePlace(inside)
	if err != nil || ack != hooks.AckBeforePlace {
		t.Errorf("inside band: ack=%d err=%v", ack, err)
	}

	outside := hooks.OrderView{Symbol: "MERA-PERP", Kind: clob.LimitOrder, Price: 2300}
	if _, _, err := h.BeforePlace(outside); !errors.Is(err, clob.ErrInvalidPrice) {
		t.Errorf("outside band: got %v", err)
	}

	low := hooks.OrderView{Symbol: "MERA-PERP", Kind: clob.LimitOrder, Price: 1700}
	if _, _, err := h.BeforePlace(low); !errors.Is(err, clob.ErrInvalidPrice) {
		t.Errorf("below band: got %v", err)
	}

	// Market orders and unknown symbols pass.
	market := hooks.OrderView{Symbol: "MERA-PERP", Kind: clob.MarketOrder}
	if _, _, err := h.BeforePlace(market); err != nil {
		t.Errorf("market order: %v", err)
	}
	unknown := hooks.OrderView{Symbol: "OTHER", Kind: clob.LimitOrder, Price: 1}
	if _, _, err := h.BeforePlace(unknown); err != nil {
		t.Errorf("unknown symbol: %v", err)
	}
}

func TestPositionBookNetting(t *testing.T) {
	pb := NewPositionBook()

	// Open long 10 @ 2000 with 2000 margin.
	pb.MarkPosition(alice, "MERA-PERP", 10, 2000, 2000)
	p := pb.PositionOf(alice, "MERA-PERP")
	if p.Size != 10 || p.EntryPrice != 2000 || p.Margin != 2000 {
		t.Fatalf("open: %+v", p)
	}

	// Grow to 20 at 2200: entry re-weights.
	pb.MarkPosition(alice, "MERA-PERP", 10, 2200, 2200)
	p = pb.PositionOf(alice, "MERA-PERP")
	if p.Size != 20 || p.EntryPrice != 2100 {
		t.Errorf("grow: %+v", p)
	}

	// Shrink keeps entry.
	pb.MarkPosition(alice, "MERA-PERP", -5, 2300, -500)
	p = pb.PositionOf(alice, "MERA-PERP")
	if p.Size != 15 || p.EntryPrice != 2100 {
		t.Errorf("shrink: %+v", p)
	}

	// Flip restarts entry at the fill price.
	pb.MarkPosition(alice, "MERA-PERP", -25, 2400, -1000)
	p = pb.PositionOf(alice, "MERA-PERP")
	if p.Size != -10 || p.EntryPrice != 2400 {
		t.Errorf("flip: %+v", p)
	}

	// Close zeroes the entry.
	pb.MarkPosition(alice, "MERA-PERP", 10, 2500, -2700)
	p = pb.PositionOf(alice, "MERA-PERP")
	if p.Size != 0 || p.EntryPrice != 0 {
		t.Errorf("close: %+v", p)
	}
}

func TestPositionBookHealth(t *testing.T) {
	pb := NewPositionBook()

	// No position at all is fully healthy.
	if equity, bps := pb.HealthOf(alice, "MERA-PERP", 2000); equity != 0 || bps != 10_000 {
		t.Errorf("flat: equity %d bps %d", equity, bps)
	}

	pb.MarkPosition(alice, "MERA-PERP", 10, 2000, 1_990)

	// Mark above entry: pnl 1_000, equity 2_990 on 21_000 notional.
	if equity, bps := pb.HealthOf(alice, "MERA-PERP", 2100); equity != 2_990 || bps != 1_423 {
		t.Errorf("long gain: equity %d bps %d", equity, bps)
	}

	// Mark near wipeout: equity 90 on 18_100 notional.
	if equity, bps := pb.HealthOf(alice, "MERA-PERP", 1810); equity != 90 || bps != 49 {
		t.Errorf("long loss: equity %d bps %d", equity, bps)
	}

	// A short gains when the mark drops.
	pb.MarkPosition(bob, "MERA-PERP", -10, 2000, 1_990)
	if equity, _ := pb.HealthOf(bob, "MERA-PERP", 1900); equity != 2_990 {
		t.Errorf("short gain: equity %d", equity)
	}
}

// armedGuard refuses after-place once armed, forcing the whole operation to
// abort after its fills were already planned.
type armedGuard struct {
	hooks.BaseHook
	armed bool
}

func (h *armedGuard) Name() string                   { return "armed-guard" }
func (h *armedGuard) Capabilities() hooks.Capability { return hooks.CapAfterPlace }

func (h *armedGuard) AfterPlace(hooks.OrderView) (hooks.Ack, error) {
	if h.armed {
		return 0, clob.ErrHookNotImplemented
	}
	return hooks.AckAfterPlace, nil
}

func TestAbortedOperationLeavesAccrualsUntouched(t *testing.T) {
	m, err := clob.NewMarket("MERA-USDC", "MERA", "USDC", clob.DefaultMarketParams())
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(nil)
	d := hooks.NewDispatcher(nil)
	fee := NewDynamicFeeHook([]FeeTier{{MinVolume: 0, TakerBps: 5}})
	tracker := NewVolumeTrackerHook()
	guard := &armedGuard{}
	for _, h := range []hooks.Hook{fee, tracker, guard} {
		if err := d.Install(h); err != nil {
			t.Fatal(err)
		}
	}
	eng := engine.New(m, l, d, engine.NewSpotSettler(m, sink), nil, engine.Config{FeeSink: sink}, nil)

	l.Deposit(bob, "MERA", 10)
	l.Deposit(alice, "USDC", 20_000)

	if _, err := eng.Place(bob, clob.Sell, clob.LimitOrder, 2000, 10); err != nil {
		t.Fatal(err)
	}

	// A crossing buy plans a fill, then aborts at after-place. Nothing may
	// accrue off the fill that never committed.
	guard.armed = true
	if _, err := eng.Place(alice, clob.Buy, clob.LimitOrder, 2000, 5); !errors.Is(err, clob.ErrHookNotImplemented) {
		t.Fatalf("want ErrHookNotImplemented, got %v", err)
	}
	if got := fee.VolumeOf(alice); got != 0 {
		t.Errorf("fee volume after aborted op: %d", got)
	}
	if s := tracker.StatsOf(alice); s != (VolumeStats{}) {
		t.Errorf("tracker stats after aborted op: %+v", s)
	}

	// The same order commits once the guard stands down, and only then do
	// the hooks see the fill.
	guard.armed = false
	if _, err := eng.Place(alice, clob.Buy, clob.LimitOrder, 2000, 5); err != nil {
		t.Fatal(err)
	}
	if got := fee.VolumeOf(alice); got != 10_000 {
		t.Errorf("fee volume after committed op: %d", got)
	}
	if s := tracker.StatsOf(bob); s.MakerVolume != 10_000 || s.Fills != 1 {
		t.Errorf("maker stats after committed op: %+v", s)
	}
}
