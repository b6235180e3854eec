package domain

import "time"

type VisitorStatus string

const (
	VisitorPendingRegistration VisitorStatus = "pending-registration"
	VisitorApproved            VisitorStatus = "approved"
	VisitorVisited             VisitorStatus = "visited"
)

func ParseVisitorStatus(s string) (VisitorStatus, bool) {
	switch VisitorStatus(s) {
	case VisitorPendingRegistration, VisitorApproved, VisitorVisited:
		return VisitorStatus(s), true
	default:
		return "", false
	}
}

// SeatHoldingStatuses are the visitor statuses that occupy a seat in a slot.
var SeatHoldingStatuses = []VisitorStatus{VisitorPendingRegistration, VisitorApproved, VisitorVisited}

type Visitor struct {
	ID               string        `json:"id"`
	BookingID        string        `json:"bookingId"`
	FirstName        string        `json:"firstName"`
	LastName         string        `json:"lastName"`
	Gender           string        `json:"gender"`
	Address          string        `json:"address"`
	Email            string        `json:"email"`
	VisitorType      string        `json:"visitorType"`
	Institution      string        `json:"institution"`
	Purpose          string        `json:"purpose"`
	Status           VisitorStatus `json:"status"`
	IsMainVisitor    bool          `json:"isMainVisitor"`
	BackupCode       string        `json:"backupCode"`
	QRCode           string        `json:"-"`
	IdentityComplete bool          `json:"identityComplete"`
	CheckinTime      *time.Time    `json:"checkinTime,omitempty"`
	QRUsed           bool          `json:"qrUsed"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Identity returns the fields the completion rules inspect.
func (v *Visitor) Identity() Identity {
	return Identity{FirstName: v.FirstName, LastName: v.LastName, Gender: v.Gender}
}

// Identity is the subset of visitor fields required before check-in.
type Identity struct {
	FirstName string
	LastName  string
	Gender    string
}

// IdentityInput is what a visitor types into a form.
type IdentityInput struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Gender      string `json:"gender"`
	Address     string `json:"address"`
	Email       string `json:"email"`
	VisitorType string `json:"visitorType"`
	Institution string `json:"institution"`
	Purpose     string `json:"purpose"`
}

func (in IdentityInput) Identity() Identity {
	return Identity{FirstName: in.FirstName, LastName: in.LastName, Gender: in.Gender}
}

// CredentialDTO is what a visitor needs to get through the door.
type CredentialDTO struct {
	VisitorID   string `json:"visitorId"`
	Email       string `json:"email,omitempty"`
	BackupCode  string `json:"backupCode"`
	QRCodeImage string `json:"qrCodeImage"`
}

// VisitorDTO is the check-in view of a visitor.
type VisitorDTO struct {
	ID          string        `json:"id"`
	BookingID   string        `json:"bookingId"`
	FirstName   string        `json:"firstName"`
	LastName    string        `json:"lastName"`
	Gender      string        `json:"gender"`
	Email       string        `json:"email,omitempty"`
	VisitorType string        `json:"visitorType,omitempty"`
	Institution string        `json:"institution,omitempty"`
	Purpose     string        `json:"purpose,omitempty"`
	Status      VisitorStatus `json:"status"`
	IsMain      bool          `json:"isMainVisitor"`
	VisitDate   string        `json:"visitDate"`
	TimeSlot    string        `json:"timeSlot"`
	CheckinTime *time.Time    `json:"checkinTime,omitempty"`
}

func NewVisitorDTO(v *Visitor, b *Booking) VisitorDTO {
	dto := VisitorDTO{
		ID:          v.ID,
		BookingID:   v.BookingID,
		FirstName:   v.FirstName,
		LastName:    v.LastName,
		Gender:      v.Gender,
		Email:       v.Email,
		VisitorType: v.VisitorType,
		Institution: v.Institution,
		Purpose:     v.Purpose,
		Status:      v.Status,
		IsMain:      v.IsMainVisitor,
		CheckinTime: v.CheckinTime,
	}
	if b != nil {
		dto.VisitDate = b.VisitDate
		dto.TimeSlot = b.TimeSlot
	}
	return dto
}
