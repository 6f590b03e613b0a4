package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"biliticket/callqueue/pkg/store"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultCapacity = 5
	DefaultTTL      = 24 * time.Hour
)

// Config bounds one queue: how many calls may be in flight at once and how
// long slot records survive in the store without explicit removal.
type Config struct {
	// Capacity is the maximum number of simultaneously in-flight calls.
	// Zero is legal and makes every Reserve fail with ErrQueueFull.
	Capacity int64

	// TTL is how long a slot record lives in the store. Zero selects
	// DefaultTTL. Expiry is passive and store-driven: an expired slot reads
	// as absent, and the in-flight count is not decremented for it.
	TTL time.Duration
}

// Queue coordinates admission control and result hand-off for asynchronous
// out-of-process API calls across stateless worker instances. All shared
// state lives in the store; a Queue holds no authoritative state of its own,
// so any number of instances may run against the same key prefix.
type Queue struct {
	st       store.Store
	ttl      time.Duration
	counter  *counter
	notifier *notifier
}

// New validates cfg and returns a Queue over st. It performs no I/O; call
// Init at process start to reconcile persisted state eagerly, or let the
// first operation do it lazily.
func New(st store.Store, cfg Config) (*Queue, error) {
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("capacity must be >= 0, got %d", cfg.Capacity)
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 {
		return nil, fmt.Errorf("ttl must be positive, got %v", cfg.TTL)
	}
	return &Queue{
		st:       st,
		ttl:      ttl,
		counter:  newCounter(st, cfg.Capacity),
		notifier: newNotifier(),
	}, nil
}

// Init idempotently reconciles the persisted capacity with the configured
// one, initializing both counters when absent.
func (q *Queue) Init(ctx context.Context) error {
	_, _, err := q.counter.read(ctx)
	return err
}

// Reserve admits one call if capacity allows and counts it in flight,
// failing with ErrQueueFull once the in-flight count has reached capacity.
// The correlation id is usually unknown before the outbound call returns,
// so the slot key is written later by MarkPending. The admission check and
// the increment are separate round trips: concurrent reserves can overshoot
// capacity by at most the number of racing callers.
func (q *Queue) Reserve(ctx context.Context) error {
	full, err := q.counter.full(ctx)
	if err != nil {
		return err
	}
	if full {
		return ErrQueueFull
	}
	return q.counter.increment(ctx)
}

// MarkPending records the slot for id as pending, with the configured TTL.
// Call it after a successful Reserve, once the correlation id is known.
func (q *Queue) MarkPending(ctx context.Context, id string) error {
	data, err := encodeSlot(StatePending, "")
	if err != nil {
		return err
	}
	if err := q.st.SetWithTTL(ctx, id, data, q.ttl); err != nil {
		return fmt.Errorf("store pending slot: %w", err)
	}
	return nil
}

// MarkDone records the response for id, releases its unit of capacity and
// fires a local completion event. Capacity is freed here, not at Remove, so
// a slow consumer does not hold admission back. The write is unconditional:
// completing an already-expired slot recreates it as done.
func (q *Queue) MarkDone(ctx context.Context, id, response string) error {
	data, err := encodeSlot(StateDone, response)
	if err != nil {
		return err
	}
	if err := q.st.SetWithTTL(ctx, id, data, q.ttl); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if err := q.counter.decrement(ctx); err != nil {
		return err
	}
	q.notifier.publish(Completion{ID: id, Response: response})
	return nil
}

// Status reads the slot for id. Absence is a normal status, not an error.
func (q *Queue) Status(ctx context.Context, id string) (Status, error) {
	data, err := q.st.Get(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("read slot: %w", err)
	}
	return decodeSlot(data)
}

// Remove deletes the slot for id and reports whether anything was removed.
// Removing a still-pending slot releases its capacity; removing a done slot
// does not decrement again, since MarkDone already did.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	st, err := q.Status(ctx, id)
	if err != nil {
		return false, err
	}
	if st.State == StateAbsent {
		return false, nil
	}

	deleted, err := q.st.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete slot: %w", err)
	}
	if deleted == 0 {
		// Expired between the read and the delete; nothing left to account for.
		return false, nil
	}

	if st.State == StatePending {
		if err := q.counter.decrement(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Capacity returns the persisted capacity, initializing it from the
// configured value when absent or stale.
func (q *Queue) Capacity(ctx context.Context) (int64, error) {
	capacity, _, err := q.counter.read(ctx)
	return capacity, err
}

// InFlight returns the current in-flight count.
func (q *Queue) InFlight(ctx context.Context) (int64, error) {
	_, inFlight, err := q.counter.read(ctx)
	return inFlight, err
}

// Full reports whether the queue is at capacity, reading both counters in
// one round trip.
func (q *Queue) Full(ctx context.Context) (bool, error) {
	return q.counter.full(ctx)
}

// Stats is a point-in-time snapshot of the shared counters.
type Stats struct {
	Capacity int64 `json:"capacity"`
	InFlight int64 `json:"in_flight"`
	Full     bool  `json:"full"`
}

// Stats reads both counters in a single round trip.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	capacity, inFlight, err := q.counter.read(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Capacity: capacity, InFlight: inFlight, Full: inFlight >= capacity}, nil
}

// Subscribe registers a local observer for completion events. Events are
// delivered best-effort and dropped when the buffer is full; never gate
// cross-instance decisions on them.
func (q *Queue) Subscribe(buf int) (<-chan Completion, func()) {
	return q.notifier.subscribe(buf)
}

// Close releases local notifier resources. No persisted state is cleared,
// and the store stays open: whoever constructed it owns its lifecycle.
func (q *Queue) Close() error {
	q.notifier.close()
	return nil
}
