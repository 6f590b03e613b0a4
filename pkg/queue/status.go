package queue

import (
	"encoding/json"
	"fmt"
)

// State of a request slot as observed in the shared store.
type State string

const (
	// StateAbsent means no record exists: never reserved, expired, or removed.
	StateAbsent State = "absent"
	// StatePending means the call is reserved and awaiting completion.
	StatePending State = "pending"
	// StateDone means a completion was recorded with a response payload.
	StateDone State = "done"
)

// Status is the observable state of one request slot. Response carries the
// completion payload (a success marker or a serialized error/response body)
// and is only set for done slots.
type Status struct {
	State    State  `json:"state"`
	Response string `json:"response,omitempty"`
}

// Done reports whether the slot holds a recorded completion.
func (s Status) Done() bool { return s.State == StateDone }

func encodeSlot(state State, response string) ([]byte, error) {
	data, err := json.Marshal(Status{State: state, Response: response})
	if err != nil {
		return nil, fmt.Errorf("encode slot record: %w", err)
	}
	return data, nil
}

func decodeSlot(data []byte) (Status, error) {
	if data == nil {
		return Status{State: StateAbsent}, nil
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("decode slot record: %w", err)
	}
	return st, nil
}
