package domain

import "time"

type TokenStatus string

const (
	TokenPending   TokenStatus = "pending"
	TokenCompleted TokenStatus = "completed"
	TokenCheckedIn TokenStatus = "checked-in"
)

type CompanionToken struct {
	ID        string      `json:"id"`
	BookingID string      `json:"bookingId"`
	Email     string      `json:"email"`
	Status    TokenStatus `json:"status"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
	VisitorID string      `json:"visitorId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// IsExpired compares the stored expiry against now; a nil expiry never lapses.
func (t *CompanionToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// TokenInfo is what the companion form shows before submission.
type TokenInfo struct {
	Email                string      `json:"email"`
	Status               TokenStatus `json:"status"`
	VisitDate            string      `json:"visitDate"`
	VisitTime            string      `json:"visitTime"`
	LinkExpired          bool        `json:"linkExpired"`
	ExpiresAt            *time.Time  `json:"expiresAt,omitempty"`
	InheritedInstitution string      `json:"inheritedInstitution"`
	InheritedPurpose     string      `json:"inheritedPurpose"`
}

type CompleteTokenRes struct {
	Success     bool   `json:"success"`
	VisitorID   string `json:"visitorId"`
	QRCodeImage string `json:"qrCodeImage"`
	BackupCode  string `json:"backupCode"`
}
