package ext

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob/hooks"
)

// VolumeStats is one account's accrued activity.
type VolumeStats struct {
	MakerVolume int64
	TakerVolume int64
	Fills       int64
}

// VolumeTrackerHook is observe-only: it accrues per-account maker and taker
// volume off committed fills for a rewards program. It never returns
// deltas. Fills seen at after-match are staged until the operation commits;
// an aborted operation leaves the stats untouched.
type VolumeTrackerHook struct {
	hooks.BaseHook

	mu      sync.Mutex
	stats   map[common.Address]*VolumeStats
	pending map[common.Address]VolumeStats
}

func NewVolumeTrackerHook() *VolumeTrackerHook {
	return &VolumeTrackerHook{
		stats:   make(map[common.Address]*VolumeStats),
		pending: make(map[common.Address]VolumeStats),
	}
}

func (h *VolumeTrackerHook) Name() string { return "volume-tracker" }

func (h *VolumeTrackerHook) Capabilities() hooks.Capability {
	return hooks.CapAfterMatch
}

func (h *VolumeTrackerHook) get(addr common.Address) *VolumeStats {
	s, ok := h.stats[addr]
	if !ok {
		s = &VolumeStats{}
		h.stats[addr] = s
	}
	return s
}

func (h *VolumeTrackerHook) AfterMatch(v hooks.FillView) (hooks.Ack, error) {
	notional := v.Price * v.Qty

	h.mu.Lock()
	taker := h.pending[v.Taker]
	taker.TakerVolume += notional
	taker.Fills++
	h.pending[v.Taker] = taker
	maker := h.pending[v.Maker]
	maker.MakerVolume += notional
	maker.Fills++
	h.pending[v.Maker] = maker
	h.mu.Unlock()

	return hooks.AckAfterMatch, nil
}

// Commit applies an operation's staged fills to the stats.
func (h *VolumeTrackerHook) Commit() {
	h.mu.Lock()
	for addr, p := range h.pending {
		s := h.get(addr)
		s.MakerVolume += p.MakerVolume
		s.TakerVolume += p.TakerVolume
		s.Fills += p.Fills
	}
	clear(h.pending)
	h.mu.Unlock()
}

// Abort drops the staged fills of an aborted operation.
func (h *VolumeTrackerHook) Abort() {
	h.mu.Lock()
	clear(h.pending)
	h.mu.Unlock()
}

// StatsOf returns a copy of an account's accrued stats.
func (h *VolumeTrackerHook) StatsOf(addr common.Address) VolumeStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.stats[addr]; ok {
		return *s
	}
	return VolumeStats{}
}
