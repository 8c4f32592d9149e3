package engine

import (
	"time"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/ledger"
)

// BatchStats are the per-operation counters: callers that perform many
// matches in one operation read them off the result for aggregate
// statistics.
type BatchStats struct {
	Fills           int   `json:"fills"`
	Volume          int64 `json:"volume"` // cumulative notional, quote units
	HookCalls       int   `json:"hookCalls"`
	BalancesTouched int   `json:"balancesTouched"`
	ElapsedMicros   int64 `json:"elapsedMicros"`
}

// ExecContext is the ephemeral state of one top-level operation: the ledger
// transaction view and the batch counters. It is created on entry, passed
// through the call chain, and discarded unconditionally on every exit path,
// success or failure.
type ExecContext struct {
	Txn   *ledger.Txn
	Stats BatchStats

	started time.Time
}

// enter opens an execution context and sets the reentrancy flag. Callers
// must serialize operations (the exchange facade holds a mutex across each
// one); under that model the flag's only job is to catch re-entry from
// within hook calls back into the engine.
func (e *Engine) enter() (*ExecContext, error) {
	if e.active != nil {
		return nil, clob.ErrReentrantCall
	}
	ctx := &ExecContext{
		Txn:     e.ledger.Begin(),
		started: e.clock.Now(),
	}
	e.active = ctx
	e.dispatcher.TakeCalls()
	return ctx, nil
}

// exit clears the reentrancy flag; deferred on every operation so release is
// guaranteed on all exit paths.
func (e *Engine) exit() {
	e.active = nil
}

// settleHooks resolves staged hook state once the operation's outcome is
// known: staged effects apply on commit and are dropped on abort, so hooks
// never keep accruals from fills that were planned but never committed.
func (e *Engine) settleHooks(committed bool) {
	if committed {
		e.dispatcher.Commit()
		return
	}
	e.dispatcher.Abort()
}

func (e *Engine) finishStats(ctx *ExecContext) {
	ctx.Stats.HookCalls = e.dispatcher.TakeCalls()
	ctx.Stats.BalancesTouched = ctx.Txn.Dirty()
	ctx.Stats.ElapsedMicros = e.clock.Now().Sub(ctx.started).Microseconds()
}
