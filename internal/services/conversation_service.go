package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/pravatus-technologies/spreed/internal/database"
	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/internal/participants"
	"github.com/pravatus-technologies/spreed/pkg/logger"
)

// ConversationService bridges the durable attendee records in the database
// and the in-memory runtime store the reconciler works against.
type ConversationService struct {
	db    database.Database
	store *participants.Store
}

func NewConversationService(db database.Database, store *participants.Store) *ConversationService {
	return &ConversationService{
		db:    db,
		store: store,
	}
}

// SyncConversation re-seeds the runtime store from the durable attendee list.
// This heals the benign race where a signaling event references an attendee
// added to the conversation after the store was last seeded.
func (s *ConversationService) SyncConversation(ctx context.Context, token string) error {
	attendees, err := s.db.ListAttendees(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to load attendees for %s: %w", token, err)
	}

	s.store.MergeConversation(token, attendees)
	logger.Info("Synced %d attendees for conversation %s", len(attendees), token)
	return nil
}

// AddAttendee creates a durable membership and seeds the runtime store.
func (s *ConversationService) AddAttendee(ctx context.Context, token string, req *models.AddAttendeeRequest) (*models.Attendee, error) {
	if err := validateAddAttendeeRequest(req); err != nil {
		return nil, err
	}

	attendee, err := s.db.CreateAttendee(ctx, token, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create attendee: %w", err)
	}

	s.store.AddAttendee(token, attendee)
	return attendee, nil
}

// UpdateAttendee changes the durable role fields of a membership and mirrors
// them in the runtime store. The store side is best effort: a conversation the
// store never seeded is left for the next sync.
func (s *ConversationService) UpdateAttendee(ctx context.Context, token string, attendeeID int64, req *models.UpdateAttendeeRequest) error {
	if err := s.db.UpdateAttendee(ctx, token, attendeeID, req.DisplayName, req.ParticipantType, req.Permissions); err != nil {
		return fmt.Errorf("failed to update attendee %d: %w", attendeeID, err)
	}

	_, err := s.store.Apply(token, attendeeID, models.ParticipantUpdate{
		DisplayName:     &req.DisplayName,
		ParticipantType: &req.ParticipantType,
		Permissions:     &req.Permissions,
	})
	if err != nil && !errors.Is(err, participants.ErrAttendeeNotFound) {
		return err
	}
	return nil
}

// RemoveAttendee deletes the durable membership and evicts the runtime record.
// Registry entries for the attendee's sessions stay; later commits against the
// removed attendee are skipped by the mutator.
func (s *ConversationService) RemoveAttendee(ctx context.Context, token string, attendeeID int64) error {
	if err := s.db.RemoveAttendee(ctx, token, attendeeID); err != nil {
		return fmt.Errorf("failed to remove attendee %d: %w", attendeeID, err)
	}

	s.store.RemoveAttendee(token, attendeeID)
	logger.Info("Removed attendee %d from conversation %s", attendeeID, token)
	return nil
}

// ListParticipants returns the runtime attendee state of a conversation.
func (s *ConversationService) ListParticipants(ctx context.Context, token string) ([]*models.Attendee, error) {
	return s.store.ListAttendees(ctx, token)
}

func validateAddAttendeeRequest(req *models.AddAttendeeRequest) error {
	if req.ActorType == "" {
		return fmt.Errorf("missing actor type")
	}
	if req.ActorID == "" {
		return fmt.Errorf("missing actor id")
	}
	if req.ParticipantType == 0 {
		req.ParticipantType = models.ParticipantTypeUser
		if req.ActorType == models.ActorTypeGuests {
			req.ParticipantType = models.ParticipantTypeGuest
		}
	}
	return nil
}
