package domain

import (
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingApproved  BookingStatus = "approved"
	BookingCancelled BookingStatus = "cancelled"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingPending, BookingApproved, BookingCancelled:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

type BookingType string

const (
	BookingIndividual  BookingType = "individual"
	BookingGroup       BookingType = "group"
	BookingWalkIn      BookingType = "walk-in"
	BookingGroupWalkIn BookingType = "group-walk-in"
)

func ParseBookingType(s string) (BookingType, bool) {
	t := BookingType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case BookingIndividual, BookingGroup, BookingWalkIn, BookingGroupWalkIn:
		return t, true
	case "walkin":
		return BookingWalkIn, true
	case "group-walkin", "group_walk_in":
		return BookingGroupWalkIn, true
	default:
		return "", false
	}
}

// IsWalkIn reports whether the party is already on site.
func (t BookingType) IsWalkIn() bool {
	return t == BookingWalkIn || t == BookingGroupWalkIn
}

// IsGroup reports whether the booking may carry companions.
func (t BookingType) IsGroup() bool {
	return t == BookingGroup || t == BookingGroupWalkIn
}

// InitialStatus is the status a new booking of this type starts in.
// Scheduled groups wait for staff approval; everything else is approved on creation.
func (t BookingType) InitialStatus() BookingStatus {
	if t == BookingGroup {
		return BookingPending
	}
	return BookingApproved
}

type Booking struct {
	ID            string        `json:"id"`
	Type          BookingType   `json:"type"`
	VisitDate     string        `json:"visitDate"`
	TimeSlot      string        `json:"timeSlot"`
	Status        BookingStatus `json:"status"`
	TotalVisitors int           `json:"totalVisitors"`
	Institution   string        `json:"institution,omitempty"`
	Purpose       string        `json:"purpose,omitempty"`
	CancelReason  string        `json:"cancelReason,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (b *Booking) IsCancelled() bool {
	return b.Status == BookingCancelled
}

// CreateBookingReq is the public booking request body.
type CreateBookingReq struct {
	Type        string          `json:"type"`
	MainVisitor IdentityInput   `json:"mainVisitor"`
	Companions  []string        `json:"companions"`
	Members     []IdentityInput `json:"members,omitempty"` // group walk-in members present at the desk
	Date        string          `json:"date"`
	Time        string          `json:"time"`
}

type CreateBookingRes struct {
	Success     bool              `json:"success"`
	BookingID   string            `json:"bookingId"`
	Status      BookingStatus     `json:"status"`
	VisitDate   string            `json:"visitDate"`
	TimeSlot    string            `json:"timeSlot"`
	MainVisitor *CredentialDTO    `json:"mainVisitor,omitempty"`
	Members     []CredentialDTO   `json:"members,omitempty"`
	Companions  []CompanionInvite `json:"companions,omitempty"`
}

type CompanionInvite struct {
	Email     string     `json:"email"`
	TokenID   string     `json:"tokenId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// BookingDetail is the staff view of a booking and everyone on it.
type BookingDetail struct {
	Booking  Booking          `json:"booking"`
	Visitors []Visitor        `json:"visitors"`
	Tokens   []CompanionToken `json:"tokens"`
}

// Business Rules
const (
	DefaultSlotCapacity  = 30
	DefaultMaxPerBooking = 30
	MinVisitors          = 1
)
