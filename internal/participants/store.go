package participants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pravatus-technologies/spreed/internal/models"
)

// ErrAttendeeNotFound is returned when a token/attendeeId pair is not present.
var ErrAttendeeNotFound = errors.New("attendee not found")

// Directory is the read side of the attendee store, as consumed by the
// reconciliation pipelines.
type Directory interface {
	ListAttendees(ctx context.Context, token string) ([]*models.Attendee, error)
	GetAttendee(ctx context.Context, token string, attendeeID int64) (*models.Attendee, error)
}

// Committer applies a partial update to a stored attendee.
type Committer interface {
	Commit(ctx context.Context, token string, attendeeID int64, update models.ParticipantUpdate) error
}

// Store holds the authoritative runtime attendee state per conversation.
// All methods are safe for concurrent use; the reconciliation path normally
// runs single-writer per token, but the HTTP ingest and the standalone
// signaling client may overlap on the same conversation.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]map[int64]*models.Attendee
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]map[int64]*models.Attendee),
	}
}

var _ Directory = (*Store)(nil)

// ListAttendees returns copies of all attendees of a conversation, ordered by
// attendee id so reconciliation passes commit in a stable order.
func (s *Store) ListAttendees(ctx context.Context, token string) ([]*models.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attendees := make([]*models.Attendee, 0, len(s.conversations[token]))
	for _, attendee := range s.conversations[token] {
		attendees = append(attendees, attendee.Clone())
	}
	sort.Slice(attendees, func(i, j int) bool {
		return attendees[i].AttendeeID < attendees[j].AttendeeID
	})
	return attendees, nil
}

// GetAttendee returns a copy of one attendee, or ErrAttendeeNotFound.
func (s *Store) GetAttendee(ctx context.Context, token string, attendeeID int64) (*models.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attendee, ok := s.conversations[token][attendeeID]
	if !ok {
		return nil, fmt.Errorf("attendee %d in conversation %s: %w", attendeeID, token, ErrAttendeeNotFound)
	}
	return attendee.Clone(), nil
}

// AddAttendee seeds or overwrites one attendee record.
func (s *Store) AddAttendee(token string, attendee *models.Attendee) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversations[token] == nil {
		s.conversations[token] = make(map[int64]*models.Attendee)
	}
	s.conversations[token][attendee.AttendeeID] = attendee.Clone()
}

// RemoveAttendee drops the runtime record. Absent attendees are a no-op.
func (s *Store) RemoveAttendee(token string, attendeeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations[token], attendeeID)
}

// MergeConversation reconciles the conversation against the durable attendee
// list: new attendees are added, existing ones get their durable fields
// refreshed while live call state (sessionIds, inCall, lastPing) is kept, and
// attendees no longer present durably are dropped.
func (s *Store) MergeConversation(token string, attendees []*models.Attendee) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[int64]*models.Attendee, len(attendees))
	current := s.conversations[token]
	for _, attendee := range attendees {
		next := attendee.Clone()
		if existing, ok := current[attendee.AttendeeID]; ok {
			next.SessionIDs = existing.SessionIDs
			next.InCall = existing.InCall
			next.LastPing = existing.LastPing
		} else if next.SessionIDs == nil {
			next.SessionIDs = []string{}
		}
		merged[next.AttendeeID] = next
	}
	s.conversations[token] = merged
}

// Apply shallow-merges the update onto the stored attendee and returns a copy
// of the result.
func (s *Store) Apply(token string, attendeeID int64, update models.ParticipantUpdate) (*models.Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attendee, ok := s.conversations[token][attendeeID]
	if !ok {
		return nil, fmt.Errorf("attendee %d in conversation %s: %w", attendeeID, token, ErrAttendeeNotFound)
	}

	if update.DisplayName != nil {
		attendee.DisplayName = *update.DisplayName
	}
	if update.SessionIDs != nil {
		attendee.SessionIDs = append([]string(nil), (*update.SessionIDs)...)
	}
	if update.InCall != nil {
		attendee.InCall = *update.InCall
	}
	if update.Permissions != nil {
		attendee.Permissions = *update.Permissions
	}
	if update.LastPing != nil {
		attendee.LastPing = *update.LastPing
	}
	if update.ParticipantType != nil {
		attendee.ParticipantType = *update.ParticipantType
	}
	return attendee.Clone(), nil
}
