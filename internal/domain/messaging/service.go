package messaging

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/middleware"
	"github.com/lightweightcoder/telehealth-app/internal/platform/websocket"
)

// PartyChecker reports whether a user is the patient or doctor of a
// consultation. It returns ErrNotFound for an unknown consultation and
// ErrForbidden for a user outside it.
type PartyChecker interface {
	AuthorizeParty(ctx context.Context, consultationID, userID int64) error
}

type Service struct {
	messages  Repository
	parties   PartyChecker
	publisher websocket.EventPublisher
	logger    zerolog.Logger
}

// NewService creates the messaging service. publisher may be nil, in which
// case posts are stored without a live notification.
func NewService(messages Repository, parties PartyChecker, publisher websocket.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{messages: messages, parties: parties, publisher: publisher, logger: logger}
}

// Post appends a message to a consultation's conversation and notifies
// subscribers of the consultation topic.
func (s *Service) Post(ctx context.Context, consultationID, senderID int64, description string) (*Message, error) {
	description = middleware.SanitizeString(description)
	if description == "" {
		return nil, apperror.Invalid("message is empty")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, apperror.Invalid("message exceeds %d characters", MaxDescriptionLength)
	}
	if err := s.parties.AuthorizeParty(ctx, consultationID, senderID); err != nil {
		return nil, err
	}

	m := &Message{ConsultationID: consultationID, SenderID: senderID, Description: description}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	s.notify(ctx, m)
	return m, nil
}

// List returns the conversation of a consultation, oldest first. Callers are
// expected to have checked party membership.
func (s *Service) List(ctx context.Context, consultationID int64) ([]Message, error) {
	return s.messages.ListByConsultation(ctx, consultationID)
}

// ListForUser returns the conversation after checking the user is a party.
func (s *Service) ListForUser(ctx context.Context, consultationID, userID int64) ([]Message, error) {
	if err := s.parties.AuthorizeParty(ctx, consultationID, userID); err != nil {
		return nil, err
	}
	return s.List(ctx, consultationID)
}

// notify publishes the message event. A failed publish does not undo the
// stored message; clients still see it on their next load.
func (s *Service) notify(ctx context.Context, m *Message) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		s.logger.Error().Err(err).Int64("message_id", m.ID).Msg("failed to encode message event")
		return
	}
	event := websocket.Event{
		Type:           websocket.EventMessageCreated,
		Topic:          websocket.ConsultationTopic(m.ConsultationID),
		ConsultationID: m.ConsultationID,
		Timestamp:      time.Now().UTC(),
		Data:           data,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Int64("consultation_id", m.ConsultationID).Msg("failed to publish message event")
	}
}
