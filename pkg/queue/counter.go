package queue

import (
	"context"
	"fmt"
	"strconv"

	"biliticket/callqueue/pkg/store"
)

// Persisted counter keys, shared by every instance under the same prefix.
const (
	keyQueueSize  = "QUEUE_SIZE"
	keyQueueCount = "QUEUE_COUNT"
)

// counter maintains the two persisted integers behind admission control:
// the configured capacity (QUEUE_SIZE) and the current in-flight count
// (QUEUE_COUNT). Neither key expires. Any instance may read or mutate them;
// mutation goes through the store's atomic arithmetic so concurrent callers
// cannot lose updates.
type counter struct {
	st       store.Store
	capacity int64
}

func newCounter(st store.Store, capacity int64) *counter {
	return &counter{st: st, capacity: capacity}
}

// init persists the configured capacity and resets the in-flight count to
// zero. It runs on first use and again whenever the persisted capacity
// drifts from the configured one, so a redeploy with a new capacity needs
// no migration step.
func (c *counter) init(ctx context.Context) error {
	if err := c.st.SetWithTTL(ctx, keyQueueSize, []byte(strconv.FormatInt(c.capacity, 10)), 0); err != nil {
		return fmt.Errorf("persist capacity: %w", err)
	}
	if err := c.st.SetWithTTL(ctx, keyQueueCount, []byte("0"), 0); err != nil {
		return fmt.Errorf("reset in-flight count: %w", err)
	}
	return nil
}

// read fetches capacity and in-flight count in a single round trip,
// re-initializing the persisted values when they are absent or stale.
func (c *counter) read(ctx context.Context) (capacity, inFlight int64, err error) {
	vals, err := c.st.MGet(ctx, keyQueueSize, keyQueueCount)
	if err != nil {
		return 0, 0, fmt.Errorf("read counters: %w", err)
	}

	persisted, ok, err := parseCounter(keyQueueSize, vals[0])
	if err != nil {
		return 0, 0, err
	}
	if !ok || persisted != c.capacity {
		if err := c.init(ctx); err != nil {
			return 0, 0, err
		}
		return c.capacity, 0, nil
	}

	inFlight, ok, err = parseCounter(keyQueueCount, vals[1])
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		if err := c.init(ctx); err != nil {
			return 0, 0, err
		}
		return c.capacity, 0, nil
	}
	return persisted, inFlight, nil
}

func (c *counter) full(ctx context.Context) (bool, error) {
	capacity, inFlight, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	return inFlight >= capacity, nil
}

func (c *counter) increment(ctx context.Context) error {
	if _, err := c.st.IncrBy(ctx, keyQueueCount, 1); err != nil {
		return fmt.Errorf("increment in-flight count: %w", err)
	}
	return nil
}

// decrement releases one unit of capacity. The store floors the count at
// zero, so releasing more often than reserved can never drive it negative.
func (c *counter) decrement(ctx context.Context) error {
	if _, err := c.st.DecrByFloor(ctx, keyQueueCount, 1); err != nil {
		return fmt.Errorf("decrement in-flight count: %w", err)
	}
	return nil
}

func parseCounter(key string, data []byte) (int64, bool, error) {
	if data == nil {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("counter %s holds non-integer value %q", key, data)
	}
	return v, true, nil
}
