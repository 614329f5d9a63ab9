package types

import "time"

// Client to server events.
const (
	EventHeartbeatAck        = "heartbeat_ack"
	EventPrivateMessage      = "private_message"
	EventGetChatHistory      = "get_chat_history"
	EventMarkAsDelivered     = "mark_as_delivered"
	EventJoinLecture         = "join-lecture"
	EventLeaveLecture        = "leave-lecture"
	EventLeave               = "leave"
	EventRaiseHand           = "raise-hand"
	EventStartPresentation   = "start-presentation"
	EventStopPresentation    = "stop-presentation"
	EventRequestPresentation = "request-presentation"
	EventApprovePresentation = "approve-presentation"
	EventSendChatMessage     = "send-chat-message"
)

// Server to client events. EventPrivateMessage is shared by both directions.
const (
	EventAck                   = "ack"
	EventHeartbeat             = "heartbeat"
	EventAttendanceUpdate      = "attendance-update"
	EventHandRaised            = "hand-raised"
	EventPresentationRequested = "presentation-requested"
	EventPresentationStarted   = "presentation-started"
	EventPresentationStopped   = "presentation-stopped"
	EventChatMessage           = "chat-message"
)

// PrivateMessageRequest is the payload of a private_message request.
type PrivateMessageRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// ChatHistoryRequest is the payload of a get_chat_history request.
type ChatHistoryRequest struct {
	WithUserID string `json:"withUserId"`
}

// LectureRequest carries the room for join, leave and presentation events.
type LectureRequest struct {
	LectureID string `json:"lectureId"`
}

// RaiseHandRequest is the payload of a raise-hand request. UserID is
// accepted for compatibility; the connection identity is authoritative.
type RaiseHandRequest struct {
	LectureID string `json:"lectureId"`
	UserID    string `json:"userId,omitempty"`
	IsRaised  bool   `json:"isRaised"`
}

// ApprovePresentationRequest names the student being handed the floor.
type ApprovePresentationRequest struct {
	LectureID string `json:"lectureId"`
	StudentID string `json:"studentId"`
}

// RoomChatRequest is the payload of a send-chat-message request.
type RoomChatRequest struct {
	LectureID string `json:"lectureId"`
	Message   string `json:"message"`
}

// HeartbeatEvent is the liveness probe pushed to clients.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// AttendanceUpdate is broadcast on every membership change.
type AttendanceUpdate struct {
	LectureID    string        `json:"lectureId"`
	Count        int           `json:"count"`
	Participants []Participant `json:"participants"`
}

// HandRaised is broadcast when a participant toggles their hand.
type HandRaised struct {
	LectureID string `json:"lectureId"`
	UserID    string `json:"userId"`
	IsRaised  bool   `json:"isRaised"`
}

// PresentationRequested is sent to the lecturers of a room only.
type PresentationRequested struct {
	LectureID   string `json:"lectureId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// PresentationChange is broadcast on presentation-started and
// presentation-stopped.
type PresentationChange struct {
	LectureID string `json:"lectureId"`
	UserID    string `json:"userId,omitempty"`
}

// RoomChatMessage is an ephemeral room chat line. It is never persisted.
type RoomChatMessage struct {
	LectureID string    `json:"lectureId"`
	Text      string    `json:"text"`
	Sender    Identity  `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}
