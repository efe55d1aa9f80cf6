package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCreated   Status = "CREATED"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Payment status is tracked separately from Status and is free text on the wire.
const (
	PaymentPending = "PENDING"
	PaymentPaid    = "PAID"
	PaymentFailed  = "FAILED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCreated: true, StatusCancelled: true},
	StatusCreated:   {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Modifiable reports whether items may still be added, changed or removed.
func (s Status) Modifiable() bool {
	switch s {
	case StatusShipped, StatusDelivered, StatusCancelled:
		return false
	}
	return true
}

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}
