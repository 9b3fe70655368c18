package node

import "fmt"

// State is one of the four states a running node occupies. A node
// starts and normally sits in StateOnline; it only leaves that state
// while assisting a neighbor's recovery.
type State int

const (
	StateOnline State = iota
	StateUpdatingPrimary
	StateUpdatingSecondary
	StateSwitchingPrimary
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "ONLINE"
	case StateUpdatingPrimary:
		return "UPDATING_PRIMARY"
	case StateUpdatingSecondary:
		return "UPDATING_SECONDARY"
	case StateSwitchingPrimary:
		return "SWITCHING_PRIMARY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event names the control message (or internal completion signal)
// that drives a state transition.
type Event int

const (
	// EventUpdatePrimary arrives when this node is Sc: a neighbor's
	// primary shard failed and this node must bulk-push its own
	// primary shard to the replacement as the replacement's secondary.
	EventUpdatePrimary Event = iota
	// EventUpdateSecondary arrives when this node is Sb: it must start
	// serving Sa's former primary range out of its own secondary
	// shard, forwarding to the replacement once reachable.
	EventUpdateSecondary
	// EventSwitchPrimary arrives on Sb once both bulk pushes landed;
	// Sb must stop taking new client writes and flush what it has.
	EventSwitchPrimary
	// EventFlushComplete returns Sb to ONLINE after SWITCH_PRIMARY;
	// flushAndRebind fires it as soon as SWITCH_PRIMARY is handled.
	EventFlushComplete
	// EventBulkPushComplete signals Sc's push to the replacement
	// finished and UPDATED_SECONDARY was sent to the coordinator.
	EventBulkPushComplete
)

func (e Event) String() string {
	switch e {
	case EventUpdatePrimary:
		return "UPDATE_PRIMARY"
	case EventUpdateSecondary:
		return "UPDATE_SECONDARY"
	case EventSwitchPrimary:
		return "SWITCH_PRIMARY"
	case EventFlushComplete:
		return "flush-complete"
	case EventBulkPushComplete:
		return "bulk-push-complete"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrInvalidTransition reports an event that the current state does
// not admit.
type ErrInvalidTransition struct {
	From  State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("node: event %s not admitted in state %s", e.Event, e.From)
}

// transition implements the table in the node state machine design:
//
//	ONLINE              -- UPDATE_PRIMARY   --> UPDATING_PRIMARY
//	ONLINE              -- UPDATE_SECONDARY --> UPDATING_SECONDARY
//	UPDATING_SECONDARY  -- SWITCH_PRIMARY    --> SWITCHING_PRIMARY
//	SWITCHING_PRIMARY   -- flush complete    --> ONLINE
//	UPDATING_PRIMARY    -- bulk push done    --> ONLINE
func transition(from State, ev Event) (State, error) {
	switch from {
	case StateOnline:
		switch ev {
		case EventUpdatePrimary:
			return StateUpdatingPrimary, nil
		case EventUpdateSecondary:
			return StateUpdatingSecondary, nil
		}
	case StateUpdatingSecondary:
		if ev == EventSwitchPrimary {
			return StateSwitchingPrimary, nil
		}
	case StateSwitchingPrimary:
		if ev == EventFlushComplete {
			return StateOnline, nil
		}
	case StateUpdatingPrimary:
		if ev == EventBulkPushComplete {
			return StateOnline, nil
		}
	}
	return from, &ErrInvalidTransition{From: from, Event: ev}
}
