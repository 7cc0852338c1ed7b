package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCancelled Status = "CANCELLED"
	StatusFulfilled Status = "FULFILLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCancelled: true, StatusFulfilled: true},
	StatusCancelled: {},
	StatusFulfilled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}
