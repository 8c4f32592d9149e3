// Package ext ships the built-in hooks: volume-tiered fees, reward
// accounting, and margin checks for perpetual markets. They double as
// worked examples of the extension protocol.
package ext

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob/hooks"
)

// FeeTier maps a rolling notional threshold to a taker fee rate.
type FeeTier struct {
	MinVolume int64
	TakerBps  int64
}

// DynamicFeeHook overrides the taker fee per fill based on the taker's
// accumulated notional volume. Tiers must be sorted by MinVolume ascending;
// the highest tier at or below the taker's volume wins.
//
// After-match runs while the operation can still abort, so accruals are
// staged per operation and folded into the committed volume only when the
// dispatcher signals commit.
type DynamicFeeHook struct {
	hooks.BaseHook

	mu      sync.Mutex
	tiers   []FeeTier
	volume  map[common.Address]int64
	pending map[common.Address]int64
}

func NewDynamicFeeHook(tiers []FeeTier) *DynamicFeeHook {
	return &DynamicFeeHook{
		tiers:   tiers,
		volume:  make(map[common.Address]int64),
		pending: make(map[common.Address]int64),
	}
}

func (h *DynamicFeeHook) Name() string { return "dynamic-fee" }

func (h *DynamicFeeHook) Capabilities() hooks.Capability {
	return hooks.CapBeforeMatch | hooks.CapAfterMatch | hooks.CapMatchDelta
}

func (h *DynamicFeeHook) tierFor(vol int64) int64 {
	bps := hooks.NoFeeOverride
	for _, t := range h.tiers {
		if vol >= t.MinVolume {
			bps = t.TakerBps
		}
	}
	return bps
}

func (h *DynamicFeeHook) BeforeMatch(v hooks.FillView) (hooks.Ack, hooks.MatchDelta, error) {
	h.mu.Lock()
	vol := h.volume[v.Taker]
	h.mu.Unlock()

	delta := hooks.ZeroMatchDelta()
	delta.FeeBpsOverride = h.tierFor(vol)
	return hooks.AckBeforeMatch, delta, nil
}

// AfterMatch stages the fill's notional against the taker; it lands in the
// volume tally once the operation commits, so tier upgrades take effect
// from the next operation onward.
func (h *DynamicFeeHook) AfterMatch(v hooks.FillView) (hooks.Ack, error) {
	h.mu.Lock()
	h.pending[v.Taker] += v.Price * v.Qty
	h.mu.Unlock()
	return hooks.AckAfterMatch, nil
}

// Commit folds staged accruals into the committed volume.
func (h *DynamicFeeHook) Commit() {
	h.mu.Lock()
	for addr, n := range h.pending {
		h.volume[addr] += n
	}
	clear(h.pending)
	h.mu.Unlock()
}

// Abort drops staged accruals from an operation that never committed.
func (h *DynamicFeeHook) Abort() {
	h.mu.Lock()
	clear(h.pending)
	h.mu.Unlock()
}

// VolumeOf reports the committed notional for an account.
func (h *DynamicFeeHook) VolumeOf(addr common.Address) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume[addr]
}
