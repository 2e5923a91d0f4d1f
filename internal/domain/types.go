package domain

// Direction says which side of the market a position is on.
type Direction int

const (
	Long Direction = iota + 1
	Short
)

// Sign returns +1 for long, -1 for short.
func (d Direction) Sign() int64 {
	if d == Long {
		return 1
	}
	return -1
}

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// Action is what an order does to a position.
type Action int

const (
	Open Action = iota + 1
	Close
	Adjust
)

// Sign returns +1 for open, -1 for close. Adjust orders carry a signed
// target already and get +1.
func (a Action) Sign() int64 {
	if a == Close {
		return -1
	}
	return 1
}

func (a Action) String() string {
	switch a {
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	case Adjust:
		return "ADJUST"
	default:
		return "UNKNOWN"
	}
}

// StopStatus is the per-session verdict of a stop aggregate.
type StopStatus int

const (
	StatusNotTriggered StopStatus = iota
	StatusTimeStop
	StatusInitialStop
	StatusTrailingStop
	StatusTargetReached
)

func (s StopStatus) String() string {
	switch s {
	case StatusNotTriggered:
		return "NOT_TRIGGERED"
	case StatusTimeStop:
		return "TIME_STOP"
	case StatusInitialStop:
		return "INITIAL_STOP"
	case StatusTrailingStop:
		return "TRAILING_STOP"
	case StatusTargetReached:
		return "TARGET_REACHED"
	default:
		return "UNKNOWN"
	}
}
