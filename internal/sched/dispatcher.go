package sched

import (
	"fmt"
	"sync/atomic"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"rtiq/internal/nvic"
)

type readyEntry struct {
	task TaskID
	slot int
}

// level is one software priority level: its ready queue, the async tasks
// polled by its dispatcher and the interrupt that runs the dispatcher.
// Priority 0 has no interrupt; the idle loop drains it instead.
type level struct {
	prio   Priority
	vector nvic.Vector
	ready  *circularbuffer.Queue
	async  []*taskCore

	// priority 0 only
	pending atomic.Bool
}

func newLevel(p Priority, size int) *level {
	if size < 1 {
		size = 1
	}
	return &level{prio: p, ready: circularbuffer.New(size)}
}

func (l *level) add(tc *taskCore) {
	tc.level = l
	if tc.plan.Async {
		l.async = append(l.async, tc)
	}
}

// queues runs fn on the free and ready queues. On the core it also holds
// off preemption; other cores only take the queue mutex.
func (a *App) queues(remote bool, fn func()) {
	if remote {
		a.qmu.Lock()
		defer a.qmu.Unlock()
		fn()
		return
	}
	a.ctrl.Critical(func() {
		a.qmu.Lock()
		defer a.qmu.Unlock()
		fn()
	})
}

// alloc takes a free slot of tc.
func (a *App) alloc(tc *taskCore, remote bool) (int, bool) {
	var (
		v  any
		ok bool
	)
	a.queues(remote, func() { v, ok = tc.free.Dequeue() })
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// free returns a slot of tc.
func (a *App) free(tc *taskCore, slot int) {
	var full bool
	a.queues(false, func() {
		if full = tc.free.Full(); !full {
			tc.free.Enqueue(slot)
		}
	})
	if full {
		panic("free queue overflow: " + tc.plan.Name)
	}
}

// ready queues an activation whose payload is in place and pends its level.
// A remote ready latches the level's interrupt instead of taking it inline.
func (a *App) ready(tc *taskCore, slot int, remote bool) {
	l := tc.level
	var full bool
	a.queues(remote, func() {
		if full = l.ready.Full(); !full {
			l.ready.Enqueue(readyEntry{task: tc.id, slot: slot})
		}
	})
	if full {
		panic(fmt.Sprintf("ready queue overflow at priority %d", l.prio))
	}
	if remote {
		a.signalLevel(l)
		return
	}
	a.pendLevel(l)
}

func (a *App) pendLevel(l *level) {
	if l.prio == 0 {
		l.pending.Store(true)
		a.ctrl.Wake()
		return
	}
	a.ctrl.Pend(l.vector)
}

// signalLevel is pendLevel for callers off the core.
func (a *App) signalLevel(l *level) {
	if l.prio == 0 {
		l.pending.Store(true)
		a.ctrl.Wake()
		return
	}
	a.ctrl.Signal(l.vector)
}

func (a *App) popReady(l *level) (readyEntry, bool) {
	var (
		v  any
		ok bool
	)
	a.queues(false, func() { v, ok = l.ready.Dequeue() })
	if !ok {
		return readyEntry{}, false
	}
	return v.(readyEntry), true
}

// dispatch is the interrupt handler of a level. It runs ready activations in
// FIFO order and polls woken async tasks until neither is left, so the level
// is idle when it returns.
func (a *App) dispatch(l *level) {
	for {
		worked := false
		for {
			e, ok := a.popReady(l)
			if !ok {
				break
			}
			worked = true
			a.tasks[e.task].run(e.slot)
		}
		for _, tc := range l.async {
			if tc.poll() {
				worked = true
			}
		}
		if !worked {
			break
		}
	}
	if l.prio > 0 {
		a.ctrl.Unpend(l.vector)
	}
}

// drainZero runs the priority-0 level from the idle loop. It reports whether
// there was anything to do.
func (a *App) drainZero() bool {
	l, ok := a.levels[0]
	if !ok || !l.pending.CompareAndSwap(true, false) {
		return false
	}
	a.dispatch(l)
	return true
}

// Pending reports how many activations wait in the ready queue of prio.
func (a *App) Pending(prio Priority) int {
	l, ok := a.levels[prio]
	if !ok {
		return 0
	}
	var n int
	a.queues(false, func() { n = l.ready.Size() })
	return n
}
