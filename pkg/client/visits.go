package client

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type SlotsQuery struct {
	Date string `url:"date"`
}

type Slot struct {
	Time      string `json:"time"`
	Capacity  int    `json:"capacity"`
	Booked    int    `json:"booked"`
	Remaining int    `json:"remaining"`
}

type SlotsResult struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

// Slots lists a day's time slots with their remaining seats.
func (c *Client) Slots(ctx context.Context, q SlotsQuery) (*SlotsResult, error) {
	var out SlotsResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/slots", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckInRequest identifies a visitor by exactly one of its fields, or email with an optional booking id.
type CheckInRequest struct {
	QRData     string `json:"qrData,omitempty"`
	VisitorID  string `json:"visitorId,omitempty"`
	BackupCode string `json:"backupCode,omitempty"`
	Token      string `json:"token,omitempty"`
	BookingID  string `json:"bookingId,omitempty"`
	Email      string `json:"email,omitempty"`
}

type Visitor struct {
	ID          string     `json:"id"`
	BookingID   string     `json:"bookingId"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       string     `json:"email,omitempty"`
	Status      string     `json:"status"`
	IsMain      bool       `json:"isMainVisitor"`
	VisitDate   string     `json:"visitDate"`
	TimeSlot    string     `json:"timeSlot"`
	CheckinTime *time.Time `json:"checkinTime,omitempty"`
}

type CheckInResult struct {
	AlreadyCheckedIn bool    `json:"alreadyCheckedIn"`
	ResolvedBy       string  `json:"resolvedBy"`
	Visitor          Visitor `json:"visitor"`
}

// CheckIn admits a visitor. Requires a staff token.
func (c *Client) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	var out CheckInResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/checkin", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Credential struct {
	VisitorID   string `json:"visitorId"`
	Email       string `json:"email,omitempty"`
	BackupCode  string `json:"backupCode"`
	QRCodeImage string `json:"qrCodeImage"`
}

// Credential re-renders a visitor's entry QR. Requires a staff token.
func (c *Client) Credential(ctx context.Context, visitorID string) (*Credential, error) {
	var out Credential
	path := "/api/v1/visitors/" + url.PathEscape(visitorID) + "/credential"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
