package hooks

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/meridian-dex/meridian/pkg/clob"
)

// Dispatcher fans lifecycle events out to the installed hooks. The set of
// hooks is fixed at construction time (installed before the first
// operation); the capability bit is checked before each optional call, so an
// unregistered point costs nothing. Any error from a hook, or a wrong
// acknowledgment, aborts the enclosing operation.
type Dispatcher struct {
	hooks []Hook
	log   *zap.Logger

	// calls counts hook invocations for the active operation's batch
	// statistics; the engine reads and resets it per operation.
	calls int
}

// NewDispatcher creates a dispatcher with no hooks installed.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log}
}

// Install registers a hook. A delta bit without its lifecycle point bit is a
// registration bug and is rejected.
func (d *Dispatcher) Install(h Hook) error {
	caps := h.Capabilities()
	if caps.Has(CapPlaceDelta) && !caps.Has(CapBeforePlace) {
		return fmt.Errorf("hook %s: place delta capability requires before-place", h.Name())
	}
	if caps.Has(CapMatchDelta) && !caps.Has(CapBeforeMatch) {
		return fmt.Errorf("hook %s: match delta capability requires before-match", h.Name())
	}
	d.hooks = append(d.hooks, h)
	d.log.Info("hook_installed",
		zap.String("hook", h.Name()),
		zap.Uint16("capabilities", uint16(caps)))
	return nil
}

// Installed returns the names and capability masks of the installed hooks.
func (d *Dispatcher) Installed() map[string]Capability {
	out := make(map[string]Capability, len(d.hooks))
	for _, h := range d.hooks {
		out[h.Name()] = h.Capabilities()
	}
	return out
}

// TakeCalls returns the hook invocation count since the last call and
// resets it.
func (d *Dispatcher) TakeCalls() int {
	n := d.calls
	d.calls = 0
	return n
}

// Commit tells staging hooks the enclosing operation committed; staged
// effects become visible. Hooks without staged state are untouched.
func (d *Dispatcher) Commit() {
	for _, h := range d.hooks {
		if s, ok := h.(Stager); ok {
			s.Commit()
		}
	}
}

// Abort tells staging hooks the enclosing operation failed; staged effects
// are dropped.
func (d *Dispatcher) Abort() {
	for _, h := range d.hooks {
		if s, ok := h.(Stager); ok {
			s.Abort()
		}
	}
}

func (d *Dispatcher) violation(h Hook, point string, got Ack) error {
	d.log.Warn("hook_bad_ack",
		zap.String("hook", h.Name()),
		zap.String("point", point),
		zap.Uint8("ack", uint8(got)))
	return fmt.Errorf("%w: %s returned bad ack for %s", clob.ErrHookMisbehaved, h.Name(), point)
}

// BeforePlace runs before-place hooks and returns the summed order delta.
// Deltas from hooks without the place-delta capability are discarded.
func (d *Dispatcher) BeforePlace(v OrderView) (OrderDelta, error) {
	var total OrderDelta
	for _, h := range d.hooks {
		if !h.Capabilities().Has(CapBeforePlace) {
			continue
		}
		d.calls++
		ack, delta, err := h.BeforePlace(v)
		if err != nil {
			return OrderDelta{}, fmt.Errorf("hook %s before-place: %w", h.Name(), err)
		}
		if ack != AckBeforePlace {
			return OrderDelta{}, d.violation(h, "before-place", ack)
		}
		if h.Capabilities().Has(CapPlaceDelta) {
			total.PriceAdjust += delta.PriceAdjust
			total.QtyAdjust += delta.QtyAdjust
		}
	}
	return total, nil
}

// AfterPlace runs after-place hooks.
func (d *Dispatcher) AfterPlace(v OrderView) error {
	for _, h := range d.hooks {
		if !h.Capabilities().Has(CapAfterPlace) {
			continue
		}
		d.calls++
		ack, err := h.AfterPlace(v)
		if err != nil {
			return fmt.Errorf("hook %s after-place: %w", h.Name(), err)
		}
		if ack != AckAfterPlace {
			return d.violation(h, "after-place", ack)
		}
	}
	return nil
}

// AddedToBook runs on-added-to-book hooks for a resting remainder.
func (d *Dispatcher) AddedToBook(v OrderView) error {
	for _, h := range d.hooks {
		if !h.Capabilities().Has(CapAddedToBook) {
			continue
		}
		d.calls++
		ack, err := h.AddedToBook(v)
		if err != nil {
			return fmt.Errorf("hook %s added-to-book: %w", h.Name(), err)
		}
		if ack != AckAddedToBook {
			return d.violation(h, "added-to-book", ack)
		}
	}
	return nil
}

// BeforeCancel runs before-cancel hooks.
func (d *Dispatcher) BeforeCancel(v OrderView) error {
	for _, h := range d.hooks {
		if !h.Capabilities().Has(CapBeforeCancel) {
			continue
		}
		d.calls++
		ack, err := h.BeforeCancel(v)
		if err != nil {
			return fmt.Errorf("hook %s before-cancel: %w", h.Name(), err)
		}
		if ack != AckBeforeCancel {
			return d.violation(h, "before-cancel", ack)
		}
	}
	return nil
}

// AfterCancel runs after-cancel hooks.
func (d *Dispatcher) AfterCancel(v OrderView) error {
	for _, h := range d.hooks {
		if !h.Capabilities().Has(CapAfterCancel) {
			continue
		}
		d.calls++
		ack, err := h.AfterCancel(v)
		if err != nil {
			return fmt.Errorf("hook %s after-cancel: %w", h.Name(), err)
		}
		if ack != AckAfterCancel {
			return d.violation(h, "after-cancel", ack)
		}
	}
	return nil
}

// BeforeMatch runs before-match hooks for one specific fill. Price nudges
// sum across hooks; a later fee override wins over an earlier one.
func (d *Dispatcher) BeforeMatch(v FillView) (MatchDelta, error) {
	total := ZeroMatchDelta()
	for _, h := range d.hooks {
		if !h.Capabilities().Has(CapBeforeMatch) {
			continue
		}
		d.calls++
		ack, delta, err := h.BeforeMatch(v)
		if err != nil {
			return ZeroMatchDelta(), fmt.Errorf("hook %s before-match: %w", h.Name(), err)
		}
		if ack != AckBeforeMatch {
			return ZeroMatchDelta(), d.violation(h, "before-match", ack)
		}
		if h.Capabilities().Has(CapMatchDelta) {
			total.PriceAdjust += delta.PriceAdjust
			if delta.FeeBpsOverride != NoFeeOverride {
				total.FeeBpsOverride = delta.FeeBpsOverride
			}
		}
	}
	return total, nil
}

// AfterMatch runs after-match hooks for one specific fill.
func (d *Dispatcher) AfterMatch(v FillView) error {
	for _, h := range d.hooks {
		if !h.Capabilities().Has(CapAfterMatch) {
			continue
		}
		d.calls++
		ack, err := h.AfterMatch(v)
		if err != nil {
			return fmt.Errorf("hook %s after-match: %w", h.Name(), err)
		}
		if ack != AckAfterMatch {
			return d.violation(h, "after-match", ack)
		}
	}
	return nil
}
