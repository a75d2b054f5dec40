package messaging

import "time"

// Message is one entry of a consultation's conversation. Messages are never
// edited or deleted.
type Message struct {
	ID             int64     `json:"id"`
	ConsultationID int64     `json:"consultation_id"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"created_at"`
}

// MaxDescriptionLength bounds a single message, in characters.
const MaxDescriptionLength = 4000
