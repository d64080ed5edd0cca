package chat

import "time"

// MessageState tracks where a message sits between optimistic send and
// server acknowledgement.
type MessageState string

const (
	// StatePending marks a locally originated message that has not been
	// acknowledged by the server yet. Its ID is zero; LocalID identifies it.
	StatePending MessageState = "pending"
	// StateConfirmed marks a message fetched from history or received on
	// the channel, carrying a server-assigned ID.
	StateConfirmed MessageState = "confirmed"
	StateEdited    MessageState = "edited"
)

// Message is the client-side view of one chat message.
type Message struct {
	ID             int64        `json:"id"`
	LocalID        string       `json:"local_id,omitempty"`
	ConversationID int64        `json:"conversation_id"`
	SenderID       int64        `json:"sender_id"`
	SenderUsername string       `json:"sender_username,omitempty"`
	Content        string       `json:"content"`
	SentAt         time.Time    `json:"sent_at"`
	State          MessageState `json:"state"`
}

// Pending reports whether the message is still an optimistic placeholder.
func (m Message) Pending() bool {
	return m.State == StatePending
}

// Confirmed reports whether the message carries a server-assigned identity.
func (m Message) Confirmed() bool {
	return m.State == StateConfirmed || m.State == StateEdited
}
