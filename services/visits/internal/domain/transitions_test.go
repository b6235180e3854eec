package domain

import "testing"

func TestValidVisitorTransition(t *testing.T) {
	cases := []struct {
		action string
		from   VisitorStatus
		valid  bool
	}{
		{ActionRegister, VisitorPendingRegistration, true},
		{ActionRegister, VisitorApproved, false},
		{ActionRegister, VisitorVisited, false},
		{ActionCheckIn, VisitorApproved, true},
		{ActionCheckIn, VisitorPendingRegistration, false},
		{ActionCheckIn, VisitorVisited, false},
		{"unknown", VisitorApproved, false},
	}

	for _, tt := range cases {
		if got := ValidVisitorTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidVisitorTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestValidBookingTransition(t *testing.T) {
	cases := []struct {
		action string
		from   BookingStatus
		valid  bool
	}{
		{ActionApprove, BookingPending, true},
		{ActionApprove, BookingApproved, false},
		{ActionApprove, BookingCancelled, false},
		{ActionCancel, BookingPending, true},
		{ActionCancel, BookingApproved, true},
		{ActionCancel, BookingCancelled, false},
	}

	for _, tt := range cases {
		if got := ValidBookingTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidBookingTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestParseBookingType(t *testing.T) {
	cases := map[string]BookingType{
		"individual":    BookingIndividual,
		"GROUP":         BookingGroup,
		"walkin":        BookingWalkIn,
		" walk-in ":     BookingWalkIn,
		"group-walk-in": BookingGroupWalkIn,
	}
	for in, want := range cases {
		got, ok := ParseBookingType(in)
		if !ok || got != want {
			t.Fatalf("ParseBookingType(%q)=%q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseBookingType("vip"); ok {
		t.Fatal("expected vip to be rejected")
	}
}
