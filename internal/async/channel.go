package async

import (
	"errors"

	"github.com/gammazero/deque"
)

var (
	// ErrChannelFull is returned by TrySend when no slot is free or other
	// senders are already waiting for one.
	ErrChannelFull = errors.New("channel full")
	// ErrNoReceiver is returned to senders once the receiver closed.
	ErrNoReceiver = errors.New("channel receiver closed")
	// ErrNoSender completes a receive once the channel is drained and every
	// sender closed.
	ErrNoSender = errors.New("channel has no senders")
	// ErrSenderClosed is returned when a closed Sender is used.
	ErrSenderClosed = errors.New("sender closed")
)

// channel is the state shared by the two ends. Everything is touched only
// under cs.
type channel[T any] struct {
	cs       Critical
	capacity int
	values   deque.Deque[T]

	// waiting senders, in arrival order; a slot freed while they wait is
	// reserved for the head so TrySend cannot overtake it
	senders  deque.Deque[*waiter]
	reserved int

	receiver     WakerRegistration
	numSenders   int
	receiverGone bool
}

// NewChannel creates a bounded multi-producer single-consumer channel with
// room for capacity values and returns its first sender and its receiver.
// More senders are made with Sender.Clone.
func NewChannel[T any](cs Critical, capacity int) (*Sender[T], *Receiver[T]) {
	if capacity < 1 {
		capacity = 1
	}
	ch := &channel[T]{cs: cs, capacity: capacity, numSenders: 1}
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

func (ch *channel[T]) roomLocked() bool {
	return ch.values.Len()+ch.reserved < ch.capacity
}

// grantLocked hands a free slot to the head waiter, if any.
func (ch *channel[T]) grantLocked() *waiter {
	if ch.senders.Len() == 0 || !ch.roomLocked() {
		return nil
	}
	w := ch.senders.PopFront()
	w.popped = true
	ch.reserved++
	return w
}

func (ch *channel[T]) removeLocked(link *waiter) {
	if i := ch.senders.Index(func(x *waiter) bool { return x == link }); i >= 0 {
		ch.senders.Remove(i)
	}
}

// pushLocked stores v and takes the receiver's waker for waking outside cs.
func (ch *channel[T]) pushLocked(v T) WakerRegistration {
	ch.values.PushBack(v)
	r := ch.receiver
	ch.receiver = WakerRegistration{}
	return r
}

// Sender is one producing end of a channel.
type Sender[T any] struct {
	ch     *channel[T]
	closed bool
}

// Clone returns another sender of the same channel.
func (s *Sender[T]) Clone() *Sender[T] {
	s.ch.cs(func() { s.ch.numSenders++ })
	return &Sender[T]{ch: s.ch}
}

// Close drops this sender. When the last one closes, the receiver sees
// ErrNoSender after draining what is queued. Closing twice is harmless.
func (s *Sender[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	var r WakerRegistration
	s.ch.cs(func() {
		s.ch.numSenders--
		if s.ch.numSenders == 0 {
			r, s.ch.receiver = s.ch.receiver, WakerRegistration{}
		}
	})
	r.Wake()
}

// IsClosed reports whether the receiver is gone.
func (s *Sender[T]) IsClosed() bool {
	var gone bool
	s.ch.cs(func() { gone = s.ch.receiverGone })
	return gone
}

// TrySend queues v without waiting.
func (s *Sender[T]) TrySend(v T) error {
	if s.closed {
		return ErrSenderClosed
	}
	var (
		r   WakerRegistration
		err error
	)
	ch := s.ch
	ch.cs(func() {
		switch {
		case ch.receiverGone:
			err = ErrNoReceiver
		case ch.senders.Len() > 0 || !ch.roomLocked():
			err = ErrChannelFull
		default:
			r = ch.pushLocked(v)
		}
	})
	r.Wake()
	return err
}

// Send returns a future that queues v, waiting for a free slot if needed.
func (s *Sender[T]) Send(v T) *SendFuture[T] {
	return &SendFuture[T]{s: s, value: v}
}

// SendFuture is the future returned by Sender.Send.
type SendFuture[T any] struct {
	s     *Sender[T]
	value T
	link  *waiter
	done  bool
	err   error
}

// Err is nil once the value was queued, or tells why it was not.
func (f *SendFuture[T]) Err() error { return f.err }

// Poll implements Future.
func (f *SendFuture[T]) Poll(w Waker) bool {
	if f.done {
		return true
	}
	if f.s.closed {
		f.done, f.err = true, ErrSenderClosed
		return true
	}
	ch := f.s.ch
	var r WakerRegistration
	ch.cs(func() {
		switch {
		case ch.receiverGone:
			if f.link != nil && f.link.popped {
				ch.reserved--
			} else if f.link != nil {
				ch.removeLocked(f.link)
			}
			f.done, f.err = true, ErrNoReceiver
		case f.link != nil && f.link.popped:
			ch.reserved--
			r = ch.pushLocked(f.value)
			f.done = true
		case f.link == nil && ch.senders.Len() == 0 && ch.roomLocked():
			r = ch.pushLocked(f.value)
			f.done = true
		case f.link == nil:
			f.link = &waiter{w: w}
			ch.senders.PushBack(f.link)
		default:
			f.link.w = w
		}
	})
	if f.done {
		f.link = nil
	}
	r.Wake()
	return f.done
}

// Cancel gives up a send that has not completed. A slot already reserved
// for it passes to the next waiting sender.
func (f *SendFuture[T]) Cancel() {
	if f.done || f.link == nil {
		return
	}
	link := f.link
	f.link = nil
	ch := f.s.ch
	var next *waiter
	ch.cs(func() {
		if !link.popped {
			ch.removeLocked(link)
			return
		}
		ch.reserved--
		next = ch.grantLocked()
	})
	if next != nil {
		next.w.Wake()
	}
}

// Receiver is the single consuming end of a channel.
type Receiver[T any] struct {
	ch *channel[T]
}

// Len is the number of queued values.
func (r *Receiver[T]) Len() int {
	var n int
	r.ch.cs(func() { n = r.ch.values.Len() })
	return n
}

// IsClosed reports whether every sender closed.
func (r *Receiver[T]) IsClosed() bool {
	var closed bool
	r.ch.cs(func() { closed = r.ch.numSenders == 0 })
	return closed
}

// TryRecv takes the oldest value without waiting. A freed slot goes to the
// first waiting sender.
func (r *Receiver[T]) TryRecv() (T, bool) {
	var (
		v    T
		ok   bool
		next *waiter
	)
	ch := r.ch
	ch.cs(func() {
		if ch.values.Len() == 0 {
			return
		}
		v, ok = ch.values.PopFront(), true
		next = ch.grantLocked()
	})
	if next != nil {
		next.w.Wake()
	}
	return v, ok
}

// Recv returns a future that completes with the next value, or with
// ErrNoSender once the channel is drained and every sender closed.
func (r *Receiver[T]) Recv() *RecvFuture[T] {
	return &RecvFuture[T]{r: r}
}

// Close drops the receiver. Waiting and later sends fail with ErrNoReceiver.
func (r *Receiver[T]) Close() {
	var waiting []*waiter
	ch := r.ch
	ch.cs(func() {
		if ch.receiverGone {
			return
		}
		ch.receiverGone = true
		for ch.senders.Len() > 0 {
			waiting = append(waiting, ch.senders.PopFront())
		}
	})
	for _, w := range waiting {
		w.w.Wake()
	}
}

// RecvFuture is the future returned by Receiver.Recv.
type RecvFuture[T any] struct {
	r     *Receiver[T]
	value T
	err   error
	done  bool
}

// Value is the received value once the future completed without error.
func (f *RecvFuture[T]) Value() T { return f.value }

// Err is ErrNoSender when the channel closed instead of delivering a value.
func (f *RecvFuture[T]) Err() error { return f.err }

// Poll implements Future.
func (f *RecvFuture[T]) Poll(w Waker) bool {
	if f.done {
		return true
	}
	ch := f.r.ch
	ch.cs(func() { ch.receiver.Register(w) })
	if v, ok := f.r.TryRecv(); ok {
		f.value, f.done = v, true
		return true
	}
	if f.r.IsClosed() {
		f.err, f.done = ErrNoSender, true
		return true
	}
	return false
}
