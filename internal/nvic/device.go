package nvic

import (
	"log/slog"
	"sync/atomic"
)

// Device owns the interrupt controller singleton of one core.
type Device struct {
	ctrl  *Controller
	taken atomic.Bool
}

// NewDevice creates a device whose controller has 1<<priorityBits levels.
func NewDevice(priorityBits uint8, log *slog.Logger) *Device {
	return &Device{ctrl: New(priorityBits, log)}
}

// Take hands out the controller exactly once. Later calls return false.
func (d *Device) Take() (*Controller, bool) {
	if !d.taken.CompareAndSwap(false, true) {
		return nil, false
	}
	return d.ctrl, true
}
