package timeq

import (
	"github.com/emirpasic/gods/trees/redblacktree"

	"rtiq/internal/async"
)

// Marker identifies a queued entry for cancel and reschedule.
type Marker uint64

// Entry is one pending timer event: either a task instance to release
// (Task >= 0) or a waker to wake (Task < 0).
type Entry struct {
	At    Instant
	Task  int
	Slot  int
	Waker async.Waker
}

// nodeKey orders entries by due instant, then by insertion order.
type nodeKey struct {
	at  Instant
	seq uint64
}

type item struct {
	marker Marker
	entry  Entry
}

// cmp implements the Comparator for the red-black tree. Instants compare with
// rollover, so all queued instants must lie within half the counter range.
func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	if c := ka.at.Compare(kb.at); c != 0 {
		return c
	}
	switch {
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// Queue is the sorted store behind a Timer. It is not safe for concurrent
// use; the Timer serialises access with critical sections.
type Queue struct {
	rbt  *redblacktree.Tree
	keys map[Marker]nodeKey
	seq  uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		rbt:  redblacktree.NewWith(cmp),
		keys: make(map[Marker]nodeKey),
	}
}

// Len is the number of pending entries.
func (q *Queue) Len() int { return q.rbt.Size() }

// Insert queues e and reports whether it became the earliest entry.
func (q *Queue) Insert(e Entry) (Marker, bool) {
	q.seq++
	m := Marker(q.seq)
	q.put(m, e)
	return m, q.isHead(m)
}

func (q *Queue) put(m Marker, e Entry) {
	q.seq++
	k := nodeKey{at: e.At, seq: q.seq}
	q.rbt.Put(k, &item{marker: m, entry: e})
	q.keys[m] = k
}

func (q *Queue) isHead(m Marker) bool {
	left := q.rbt.Left()
	return left != nil && left.Value.(*item).marker == m
}

// Peek returns the earliest entry.
func (q *Queue) Peek() (Entry, bool) {
	left := q.rbt.Left()
	if left == nil {
		return Entry{}, false
	}
	return left.Value.(*item).entry, true
}

// Pop removes the earliest entry.
func (q *Queue) Pop() (Entry, bool) {
	left := q.rbt.Left()
	if left == nil {
		return Entry{}, false
	}
	it := left.Value.(*item)
	q.rbt.Remove(left.Key)
	delete(q.keys, it.marker)
	return it.entry, true
}

// Remove takes the entry m out of the queue. It reports false when the entry
// already fired or was cancelled.
func (q *Queue) Remove(m Marker) (Entry, bool) {
	k, ok := q.keys[m]
	if !ok {
		return Entry{}, false
	}
	v, _ := q.rbt.Get(k)
	q.rbt.Remove(k)
	delete(q.keys, m)
	return v.(*item).entry, true
}

// Reschedule moves entry m to a new instant. Among entries due at the same
// instant it goes last. It reports whether m is still queued and whether it
// is now the earliest entry.
func (q *Queue) Reschedule(m Marker, at Instant) (ok, head bool) {
	e, ok := q.Remove(m)
	if !ok {
		return false, false
	}
	e.At = at
	q.put(m, e)
	return true, q.isHead(m)
}

// Pending reports whether m is still queued.
func (q *Queue) Pending(m Marker) bool {
	_, ok := q.keys[m]
	return ok
}
