package chat

import "time"

// Event names produced by the client.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventEditMessage       = "edit_message"
	EventDeleteMessage     = "delete_message"
	EventStartTyping       = "start_typing"
	EventStopTyping        = "stop_typing"
)

// Event names consumed by the client.
const (
	EventReceiveMessage  = "receive_message"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventUserStartTyping = "user_start_typing"
	EventUserStopTyping  = "user_stop_typing"
)

// Event is the wire envelope for everything crossing the channel, in both
// directions. One flat struct with omitempty fields; Type decides which
// fields are meaningful.
type Event struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
	SenderID       int64  `json:"sender_id,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	UserID         int64  `json:"user_id,omitempty"`
	OtherUserID    int64  `json:"other_user_id,omitempty"`
	Content        string `json:"content,omitempty"`
	LocalID        string `json:"local_id,omitempty"`
	SentAt         string `json:"sent_at,omitempty"`
}

// Message converts a receive_message event into the client-side model.
// A malformed or missing sent_at falls back to the local clock so the
// message still sorts near its arrival time.
func (e Event) Message() Message {
	at, err := time.Parse(time.RFC3339, e.SentAt)
	if err != nil {
		at = time.Now().UTC()
	}
	return Message{
		ID:             e.MessageID,
		LocalID:        e.LocalID,
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		SenderUsername: e.SenderUsername,
		Content:        e.Content,
		SentAt:         at,
		State:          StateConfirmed,
	}
}
