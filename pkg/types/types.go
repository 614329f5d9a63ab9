package types

import (
	"encoding/json"
	"time"
)

// Role is the kind of account behind an identity.
type Role string

const (
	RoleStudent        Role = "student"
	RoleLecturer       Role = "lecturer"
	RoleDepartmentHead Role = "departmentHead"
)

// Roles lists every role in lookup order.
var Roles = []Role{RoleStudent, RoleLecturer, RoleDepartmentHead}

// Identity is a resolved, verified user reference. It is attached to a
// connection once at connect time and never changes afterwards.
type Identity struct {
	ID                 string `json:"id" bson:"_id"`
	Role               Role   `json:"role" bson:"role"`
	DisplayName        string `json:"displayName" bson:"displayName"`
	RegistrationNumber string `json:"registrationNumber,omitempty" bson:"registrationNumber,omitempty"`
}

// IsLecturer reports whether the identity may run a lecture room.
func (i *Identity) IsLecturer() bool {
	return i != nil && i.Role == RoleLecturer
}

// ConnectionInfo describes one live connection as seen by the registry.
type ConnectionInfo struct {
	ConnectionID   string    `json:"connectionId"`
	Identity       Identity  `json:"identity"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActiveAt   time.Time `json:"lastActiveAt"`
	HeartbeatCount int64     `json:"heartbeatCount"`
}

// Message is a durable private message between two identities.
// Delivered is flipped only by an explicit recipient acknowledgment.
type Message struct {
	ID                     string    `json:"id" bson:"_id"`
	Seq                    int64     `json:"-" bson:"seq"`
	FromID                 string    `json:"fromId" bson:"fromId"`
	FromRole               Role      `json:"fromRole" bson:"fromRole"`
	FromName               string    `json:"fromName" bson:"fromName"`
	FromRegistrationNumber string    `json:"fromRegistrationNumber,omitempty" bson:"fromRegistrationNumber,omitempty"`
	ToID                   string    `json:"toId" bson:"toId"`
	ToRole                 Role      `json:"toRole" bson:"toRole"`
	Content                string    `json:"content" bson:"content"`
	Timestamp              time.Time `json:"timestamp" bson:"timestamp"`
	Delivered              bool      `json:"delivered" bson:"delivered"`
}

// Participant is one attendee entry in a room snapshot.
type Participant struct {
	UserID      string `json:"userId"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	HandRaised  bool   `json:"handRaised"`
}

// RoomSnapshot is a point-in-time copy of a lecture room's state.
type RoomSnapshot struct {
	LectureID       string        `json:"lectureId"`
	Participants    []Participant `json:"participants"`
	PresenterID     string        `json:"presenterId,omitempty"`
	PendingRequests []string      `json:"pendingRequests"`
}

// Envelope is the wire frame for every websocket message in both
// directions. Ack is set by the client when it expects exactly one reply.
type Envelope struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is a server-originated frame.
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Ack   *int64      `json:"ack,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

const (
	AckStatusSuccess = "success"
	AckStatusError   = "error"
)

// Ack is the single reply to a client request carrying an ack id.
type Ack struct {
	Status        string        `json:"status"`
	MessageID     string        `json:"messageId,omitempty"`
	Messages      []*Message    `json:"messages,omitempty"`
	ModifiedCount *int64        `json:"modifiedCount,omitempty"`
	Room          *RoomSnapshot `json:"room,omitempty"`
	Error         *AckError     `json:"error,omitempty"`
}

// AckError is the tagged error carried back through the ack channel.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON keeps "messages" on history replies even when the
// conversation is empty. A nil Messages is omitted.
func (a Ack) MarshalJSON() ([]byte, error) {
	type plain Ack
	if a.Messages == nil {
		return json.Marshal(plain(a))
	}
	return json.Marshal(struct {
		plain
		Messages []*Message `json:"messages"`
	}{plain(a), a.Messages})
}

// SuccessAck returns an empty successful ack.
func SuccessAck() *Ack {
	return &Ack{Status: AckStatusSuccess}
}

// ErrorAck converts err into a tagged error ack.
func ErrorAck(err error) *Ack {
	return &Ack{
		Status: AckStatusError,
		Error: &AckError{
			Code:    ErrorCode(err),
			Message: err.Error(),
		},
	}
}
