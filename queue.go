package timerbatch

import (
	"sort"
	"time"
)

type (
	// entry is a single registration, ordered by deadline.
	entry struct {
		deadline time.Time
		callback Callback
		// removed is set when the entry leaves the store other than by being
		// drained, so stale references (e.g. fire cycle snapshots) skip it
		removed bool
		// started is set once the entry has been invoked, it remains in the
		// active queue until the fire cycle drains it, but is never removable
		started bool
	}

	// entryQueue is sorted ascending by deadline, ties in insertion order.
	entryQueue []*entry

	// entryStore holds the active and reentrant queues.
	//
	// While executing is set, add only ever touches reentrant, so active may
	// be iterated without observing insertions.
	entryStore struct {
		active    entryQueue
		reentrant entryQueue
		executing bool
	}
)

// insert places e immediately before the first entry with a strictly
// greater deadline.
func (q *entryQueue) insert(e *entry) {
	s := *q
	i := sort.Search(len(s), func(i int) bool { return s[i].deadline.After(e.deadline) })
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = e
	*q = s
}

// removeFirst removes and returns the first entry for cb that has not
// started, or nil.
func (q *entryQueue) removeFirst(cb Callback) *entry {
	s := *q
	for i, e := range s {
		if e.started || e.callback != cb {
			continue
		}
		copy(s[i:], s[i+1:])
		s[len(s)-1] = nil
		*q = s[:len(s)-1]
		return e
	}
	return nil
}

// dueLen returns the length of the prefix with deadline <= now.
func (q entryQueue) dueLen(now time.Time) (n int) {
	for n < len(q) && !q[n].deadline.After(now) {
		n++
	}
	return n
}

// truncateFront drops the first n entries, retaining capacity.
func (q *entryQueue) truncateFront(n int) {
	if n <= 0 {
		return
	}
	s := *q
	copy(s, s[n:])
	clear(s[len(s)-n:])
	*q = s[:len(s)-n]
}

func (q *entryQueue) reset() {
	for _, e := range *q {
		e.removed = true
	}
	clear(*q)
	*q = (*q)[:0]
}

func (x *entryStore) add(deadline time.Time, cb Callback) *entry {
	e := &entry{deadline: deadline, callback: cb}
	if x.executing {
		x.reentrant.insert(e)
	} else {
		x.active.insert(e)
	}
	return e
}

// removeFirst removes the first entry for cb, searching active then
// reentrant, reporting whether one was found.
func (x *entryStore) removeFirst(cb Callback) bool {
	e := x.active.removeFirst(cb)
	if e == nil {
		e = x.reentrant.removeFirst(cb)
	}
	if e == nil {
		return false
	}
	e.removed = true
	return true
}

// drainDue removes the due prefix of active, appending it to dst.
func (x *entryStore) drainDue(now time.Time, dst entryQueue) entryQueue {
	n := x.active.dueLen(now)
	dst = append(dst, x.active[:n]...)
	x.active.truncateFront(n)
	return dst
}

// mergeReentrant moves every reentrant entry into active.
func (x *entryStore) mergeReentrant() {
	if len(x.reentrant) == 0 {
		return
	}
	if len(x.active) == 0 {
		x.active, x.reentrant = x.reentrant, x.active[:0]
		return
	}
	for _, e := range x.reentrant {
		x.active.insert(e)
	}
	clear(x.reentrant)
	x.reentrant = x.reentrant[:0]
}

// earliest returns the first active deadline.
func (x *entryStore) earliest() (time.Time, bool) {
	if len(x.active) == 0 {
		return time.Time{}, false
	}
	return x.active[0].deadline, true
}

func (x *entryStore) len() int {
	return len(x.active) + len(x.reentrant)
}

func (x *entryStore) reset() {
	x.active.reset()
	x.reentrant.reset()
}
