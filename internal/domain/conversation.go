package domain

import "time"

// ConversationType distinguishes customer-initiated sessions from business-initiated outreach.
type ConversationType string

const (
	ConversationTypeSession   ConversationType = "session"
	ConversationTypeMarketing ConversationType = "marketing"
)

// ConversationStatus enumerates conversation lifecycle states.
type ConversationStatus string

const (
	ConversationStatusActive  ConversationStatus = "active"
	ConversationStatusExpired ConversationStatus = "expired"
	ConversationStatusClosed  ConversationStatus = "closed"
)

// DefaultWindowHours is the provider's customer service window.
const DefaultWindowHours = 24

// Conversation is a customer↔business messaging session.
type Conversation struct {
	ID              string
	CustomerPhone   string
	BusinessPhoneID string
	Type            ConversationType
	Status          ConversationStatus
	LastMessageAt   time.Time
	ExpiresAt       time.Time
	LastInboundAt   *time.Time
	Metadata        Metadata
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExpired reports whether the window has elapsed at now.
func (c *Conversation) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func windowLength(hours int) time.Duration {
	if hours <= 0 {
		hours = DefaultWindowHours
	}
	return time.Duration(hours) * time.Hour
}

// RecordActivity extends the window by hours starting at now.
func (c *Conversation) RecordActivity(now time.Time, hours int) {
	c.LastMessageAt = now
	c.ExpiresAt = now.Add(windowLength(hours))
	if c.Status != ConversationStatusClosed {
		c.Status = ConversationStatusActive
	}
}

// EffectiveStatus returns the stored status with lazy expiry applied.
func (c *Conversation) EffectiveStatus(now time.Time) ConversationStatus {
	if c.Status == ConversationStatusActive && c.IsExpired(now) {
		return ConversationStatusExpired
	}
	return c.Status
}

// RecordInbound is RecordActivity for a message the customer sent.
func (c *Conversation) RecordInbound(now time.Time, hours int) {
	c.RecordActivity(now, hours)
	at := now
	c.LastInboundAt = &at
}

// CanSendSessionMessage reports whether free-form messages may be sent at
// now. Only a customer message opens the service window; outbound traffic
// keeps the conversation active but never opens it.
func (c *Conversation) CanSendSessionMessage(now time.Time, hours int) bool {
	if c.EffectiveStatus(now) != ConversationStatusActive || c.LastInboundAt == nil {
		return false
	}
	return now.Before(c.LastInboundAt.Add(windowLength(hours)))
}
