package domain

// Visitor actions.
const (
	ActionRegister = "register" // companion completes their form
	ActionCheckIn  = "check_in"
)

// Booking actions.
const (
	ActionApprove = "approve"
	ActionCancel  = "cancel"
)

var visitorTransitions = map[string][]VisitorStatus{
	ActionRegister: {VisitorPendingRegistration},
	ActionCheckIn:  {VisitorApproved},
}

var bookingTransitions = map[string][]BookingStatus{
	ActionApprove: {BookingPending},
	ActionCancel:  {BookingPending, BookingApproved},
}

func ValidVisitorTransition(action string, from VisitorStatus) bool {
	for _, status := range visitorTransitions[action] {
		if status == from {
			return true
		}
	}
	return false
}

func ValidBookingTransition(action string, from BookingStatus) bool {
	for _, status := range bookingTransitions[action] {
		if status == from {
			return true
		}
	}
	return false
}
