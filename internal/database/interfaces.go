package database

import (
	"context"
	"errors"

	"github.com/pravatus-technologies/spreed/internal/models"
)

// ErrAttendeeNotFound is returned when a token/attendeeId pair has no durable
// record.
var ErrAttendeeNotFound = errors.New("attendee not found")

type AttendeeRepository interface {
	ListAttendees(ctx context.Context, token string) ([]*models.Attendee, error)
	GetAttendee(ctx context.Context, token string, attendeeID int64) (*models.Attendee, error)
	CreateAttendee(ctx context.Context, token string, req *models.AddAttendeeRequest) (*models.Attendee, error)
	UpdateAttendee(ctx context.Context, token string, attendeeID int64, displayName string, participantType models.ParticipantType, permissions models.Permission) error
	RemoveAttendee(ctx context.Context, token string, attendeeID int64) error
}

type Database interface {
	AttendeeRepository
	Close() error
}
