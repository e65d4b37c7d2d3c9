package model

import "time"

// NotificationKind is the closed set of domain notifications.
type NotificationKind string

const (
	NotifyRegistrationCreated NotificationKind = "registration_created"
	NotifyPaymentReminder     NotificationKind = "payment_reminder"
	NotifyPaymentConfirmed    NotificationKind = "payment_confirmed"
	NotifyAccountApproved     NotificationKind = "account_approved"
	NotifyEventReminder       NotificationKind = "event_reminder"
)

// Valid reports whether k belongs to the closed set.
func (k NotificationKind) Valid() bool {
	switch k {
	case NotifyRegistrationCreated, NotifyPaymentReminder, NotifyPaymentConfirmed,
		NotifyAccountApproved, NotifyEventReminder:
		return true
	}
	return false
}

// Channel is one delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// DeliveryStatus is the outcome recorded for one channel attempt.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// NotificationData is the template payload shared by every kind. Each kind
// reads only the fields it needs.
type NotificationData struct {
	GuardianName   string    `json:"guardian_name,omitempty"`
	StudentName    string    `json:"student_name,omitempty"`
	EventTitle     string    `json:"event_title,omitempty"`
	EventDate      time.Time `json:"event_date,omitempty"`
	Location       string    `json:"location,omitempty"`
	Fee            Cents     `json:"fee,omitempty"`
	Amount         Cents     `json:"amount,omitempty"`
	PaymentDueDate time.Time `json:"payment_due_date,omitempty"`
	DaysLeft       int       `json:"days_left,omitempty"`
	RegisteredBy   string    `json:"registered_by,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	PaymentDate    time.Time `json:"payment_date,omitempty"`
	TempPassword   string    `json:"temp_password,omitempty"`
	ChildrenNames  []string  `json:"children_names,omitempty"`
}

// Notification is one logical domain event to fan out.
type Notification struct {
	ID   string           `json:"id"`
	Kind NotificationKind `json:"kind"`
	Data NotificationData `json:"data"`
}

// Recipient is the addressee of a notification. AccountID is required; email
// and phone are optional.
type Recipient struct {
	AccountID string `json:"account_id" validate:"required"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty"`
}

// Capabilities is the set of channels a recipient can be reached on,
// evaluated once per dispatch.
type Capabilities struct {
	HasEmail bool
	HasPhone bool
}

// Capabilities evaluates which optional channels the recipient supports.
func (r Recipient) Capabilities() Capabilities {
	return Capabilities{HasEmail: r.Email != "", HasPhone: r.Phone != ""}
}

// NotificationRecord is the audit row of a single channel attempt.
type NotificationRecord struct {
	ID             string           `json:"id"`
	NotificationID string           `json:"notification_id"`
	Kind           NotificationKind `json:"kind"`
	Channel        Channel          `json:"channel"`
	AccountID      string           `json:"account_id"`
	Destination    string           `json:"destination,omitempty"`
	Subject        string           `json:"subject,omitempty"`
	Body           string           `json:"body"`
	Status         DeliveryStatus   `json:"status"`
	Error          string           `json:"error,omitempty"`
	MessageID      string           `json:"message_id,omitempty"`
	Cost           float64          `json:"cost,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	DeliveredAt    *time.Time       `json:"delivered_at,omitempty"`
}

// InAppNotification is the row shown on a user's dashboard.
type InAppNotification struct {
	ID             string           `json:"id"`
	NotificationID string           `json:"notification_id"`
	AccountID      string           `json:"account_id"`
	Kind           NotificationKind `json:"kind"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Type           string           `json:"type"`
	Category       string           `json:"category"`
	ActionURL      string           `json:"action_url"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ChannelResult is the outcome of one channel attempt.
type ChannelResult struct {
	Channel   Channel        `json:"channel"`
	Status    DeliveryStatus `json:"status"`
	MessageID string         `json:"message_id,omitempty"`
	Cost      float64        `json:"cost,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Succeeded reports whether the channel accepted the message.
func (c ChannelResult) Succeeded() bool { return c.Status != DeliveryFailed }

// DispatchResult aggregates every channel attempt for one notification.
type DispatchResult struct {
	NotificationID string           `json:"notification_id"`
	Kind           NotificationKind `json:"kind"`
	AccountID      string           `json:"account_id"`
	Success        bool             `json:"success"`
	Channels       []ChannelResult  `json:"channels"`
}

// Channel returns the result for ch, if that channel was attempted.
func (d DispatchResult) Channel(ch Channel) (ChannelResult, bool) {
	for _, c := range d.Channels {
		if c.Channel == ch {
			return c, true
		}
	}
	return ChannelResult{}, false
}

// ReminderOutcome is the per-registration result of a reminder sweep.
type ReminderOutcome struct {
	RegistrationID string `json:"registration_id"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// SweepResult summarises one reminder sweep run.
type SweepResult struct {
	Matched  int               `json:"matched"`
	Outcomes []ReminderOutcome `json:"outcomes"`
}

// DueRegistration is a registration joined with the data a reminder needs.
type DueRegistration struct {
	Registration Registration
	Event        Event
	Student      Student
	Guardian     Account
}
