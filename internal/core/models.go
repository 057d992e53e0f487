package core

import (
	"time"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Delivery status of a message row. Inbound rows stay "received".
const (
	StatusReceived = "received"
	StatusQueued   = "queued"
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
)

type Message struct {
	ID                string    `json:"id"`
	PhoneNumber       string    `json:"phoneNumber"`
	Body              string    `json:"body"`
	Direction         Direction `json:"direction"`
	Timestamp         time.Time `json:"timestamp"`
	Processed         bool      `json:"processed"`
	AIResponse        *string   `json:"aiResponse,omitempty"`
	Intent            *string   `json:"intent,omitempty"`
	Action            *string   `json:"action,omitempty"`
	Read              bool      `json:"read"`
	Notified          bool      `json:"notified"`
	Status            string    `json:"status,omitempty"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Attempts          int       `json:"attempts,omitempty"`
}

// IntentText returns the intent label or "" when unset.
func (m Message) IntentText() string {
	if m.Intent == nil {
		return ""
	}
	return *m.Intent
}

type EventTime struct {
	DateTime time.Time `json:"dateTime"`
	TimeZone string    `json:"timeZone,omitempty"`
}

type Attendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type CalendarEvent struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       EventTime  `json:"start"`
	End         EventTime  `json:"end"`
	Attendees   []Attendee `json:"attendees,omitempty"`
}

// Booking is what the booking flow hands to the calendar.
type Booking struct {
	CustomerName string `json:"customerName" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Service      string `json:"service" validate:"required"`
	Vehicle      string `json:"vehicle,omitempty"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Time         string `json:"time" validate:"required,datetime=15:04"`
	Duration     int    `json:"duration,omitempty" validate:"omitempty,min=1,max=1440"`
	Notes        string `json:"notes,omitempty"`
}
