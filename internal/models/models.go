package models

import "time"

// Handshake status values. Transitions are monotone: pending -> accepted ->
// completed, with cancelled/denied as alternate terminal states.
const (
	HandshakePending   = "pending"
	HandshakeAccepted  = "accepted"
	HandshakeCompleted = "completed"
	HandshakeCancelled = "cancelled"
	HandshakeDenied    = "denied"
)

// Service kinds: an offer of hours, or a need asking for them.
const (
	ServiceOffer = "offer"
	ServiceNeed  = "need"
)

// Transfer log entry kinds.
const (
	TransferDebit  = "debit"
	TransferCredit = "credit"
)

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never return
	Balance      float64    `json:"balance"`
	Karma        int        `json:"karma"`
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Service is a listed offer or need priced in hours. Its chat room shares the
// service ID and lives exactly as long as the service does.
type Service struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Kind            string    `json:"kind"`
	DurationHours   float64   `json:"duration_hours"`
	MaxParticipants int       `json:"max_participants"`
	Location        string    `json:"location,omitempty"`
	HotScore        float64   `json:"hot_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// Handshake is a negotiation between a service owner (provider) and a
// requester. Both *_initiated flags must be true before completion settles.
type Handshake struct {
	ID                 string     `json:"id"`
	ServiceID          string     `json:"service_id"`
	RequesterID        string     `json:"requester_id"`
	ProviderID         string     `json:"provider_id"`
	Status             string     `json:"status"`
	ProvisionedHours   float64    `json:"provisioned_hours"`
	ExactLocation      string     `json:"exact_location,omitempty"`
	ExactDuration      float64    `json:"exact_duration,omitempty"`
	ScheduledTime      *time.Time `json:"scheduled_time,omitempty"`
	ProviderInitiated  bool       `json:"provider_initiated"`
	RequesterInitiated bool       `json:"requester_initiated"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Terminal reports whether no further transition is possible.
func (h *Handshake) Terminal() bool {
	return h.Status == HandshakeCompleted || h.Status == HandshakeCancelled || h.Status == HandshakeDenied
}

// Participant reports whether userID is one of the two negotiating parties.
func (h *Handshake) Participant(userID string) bool {
	return userID == h.RequesterID || userID == h.ProviderID
}

// ReputationRep is a post-completion rating. At most one per
// (handshake, giver) pair.
type ReputationRep struct {
	ID          string    `json:"id"`
	HandshakeID string    `json:"handshake_id"`
	GiverID     string    `json:"giver_id"`
	ReceiverID  string    `json:"receiver_id"`
	OnTime      bool      `json:"on_time"`
	Kind        bool      `json:"kind"`
	Satisfied   bool      `json:"satisfied"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// KarmaDelta is the bounded score effect of this rep: one point per true flag.
func (r *ReputationRep) KarmaDelta() int {
	d := 0
	if r.OnTime {
		d++
	}
	if r.Kind {
		d++
	}
	if r.Satisfied {
		d++
	}
	return d
}

// Message is one entry in a service room's append-only log.
type Message struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// TransferEntry is one side of a settled transfer, kept for auditability.
type TransferEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Change       float64   `json:"change"`
	BalanceAfter float64   `json:"balance_after"`
	Kind         string    `json:"kind"`
	Reference    string    `json:"reference"`
	CreatedAt    time.Time `json:"created_at"`
}
