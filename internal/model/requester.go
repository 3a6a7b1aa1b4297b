package model

// Requester identifies who is asking for a booking.  It is either a
// customer acting for themselves or an operator booking for a walk-in
// customer.  Use a type switch to tell them apart.
type Requester interface {
	// HolderID is the user id that owns the seat holds for the request.
	HolderID() uint64
	isRequester()
}

// Self is a customer booking for their own account.
type Self struct {
	UserID uint64
}

func (s Self) HolderID() uint64 { return s.UserID }
func (Self) isRequester() {}

// OnBehalf is an operator booking at the counter.  The resulting booking
// has no owning user.
type OnBehalf struct {
	OperatorID uint64
}

func (o OnBehalf) HolderID() uint64 { return o.OperatorID }
func (OnBehalf) isRequester() {}
