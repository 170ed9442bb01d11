// Package clockbank fans periodic timers out across a fixed set of hardware
// timer slots, one per trigger output.
package clockbank

import (
	"time"

	"bigben/internal/hal"
	"bigben/pkg/logx"
)

// Bank owns the timer slots. Slot state lives in the driver; the bank's job
// is the reset protocol: a slot's old timer is stopped before a new one with
// the same index is armed, and stopping an idle slot is a no-op.
type Bank struct {
	drv hal.TimerDriver
	log logx.Logger
}

func New(drv hal.TimerDriver, log logx.Logger) *Bank {
	return &Bank{drv: drv, log: log}
}

func (b *Bank) Slots() int { return b.drv.Slots() }

// ResetAll stops every slot, then arms slots in index order with the supplied
// periods and the shared callback. Slots beyond the list stay idle. Calling
// it with no periods is the "stop everything" form.
func (b *Bank) ResetAll(periods []time.Duration, cb func(slot int)) {
	n := b.drv.Slots()
	for i := 0; i < n; i++ {
		b.drv.Disarm(i)
	}
	for i := 0; i < n && i < len(periods); i++ {
		b.arm(i, periods[i], cb)
	}
}

// ResetOne stops one slot and, if both a period and a callback are supplied,
// rearms it with that pair. Otherwise the slot is left idle.
func (b *Bank) ResetOne(idx int, period time.Duration, cb func(slot int)) {
	if idx < 0 || idx >= b.drv.Slots() {
		b.log.Warn("clockbank: slot out of range", logx.Int("slot", idx))
		return
	}
	b.drv.Disarm(idx)
	if period > 0 && cb != nil {
		b.arm(idx, period, cb)
	}
}

// StopAll leaves every slot idle.
func (b *Bank) StopAll() {
	b.ResetAll(nil, nil)
}

func (b *Bank) arm(idx int, period time.Duration, cb func(slot int)) {
	if err := b.drv.Arm(idx, period, cb); err != nil {
		b.log.Warn("clockbank: arm failed", logx.Int("slot", idx), logx.Duration("period", period), logx.Err(err))
		return
	}
	b.log.Debug("clockbank: slot armed", logx.Int("slot", idx), logx.Duration("period", period))
}
