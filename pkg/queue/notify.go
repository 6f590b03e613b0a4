package queue

import "sync"

// Completion is the local event fired when a request is marked done.
// It is purely observational: worker instances cannot see each other's
// events, so consumers poll Status for correctness and use completions only
// for logging or local metrics.
type Completion struct {
	ID       string
	Response string
}

// notifier fans completion events out to local subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the event.
type notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Completion
	nextID int
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Completion)}
}

// subscribe registers a new observer channel with the given buffer size and
// returns it together with a cancel function. Cancel is safe to call more
// than once.
func (n *notifier) subscribe(buf int) (<-chan Completion, func()) {
	if buf <= 0 {
		buf = 1
	}
	ch := make(chan Completion, buf)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (n *notifier) publish(ev Completion) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than block the caller.
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
