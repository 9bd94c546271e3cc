package participants

import (
	"context"
	"errors"
	"sync"

	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/pkg/logger"
)

// UpdateEvent is published after every successful commit so observability and
// UI layers can follow attendee state without polling the store.
type UpdateEvent struct {
	Token    string
	Attendee *models.Attendee
}

// Mutator commits partial updates to the store and notifies subscribers.
// Commits against attendees missing from the store are logged and skipped:
// the directory and the signaling sources refresh independently, so a missing
// attendee is a benign race, not a failure.
type Mutator struct {
	store *Store

	mu     sync.Mutex
	subs   map[int]chan UpdateEvent
	nextID int
}

func NewMutator(store *Store) *Mutator {
	return &Mutator{
		store: store,
		subs:  make(map[int]chan UpdateEvent),
	}
}

var _ Committer = (*Mutator)(nil)

func (m *Mutator) Commit(ctx context.Context, token string, attendeeID int64, update models.ParticipantUpdate) error {
	attendee, err := m.store.Apply(token, attendeeID, update)
	if err != nil {
		if errors.Is(err, ErrAttendeeNotFound) {
			logger.Warn("Skipping update for unknown attendee %d in conversation %s", attendeeID, token)
			return nil
		}
		return err
	}

	m.publish(UpdateEvent{Token: token, Attendee: attendee})
	return nil
}

// Subscribe registers an update listener. The returned cancel function must be
// called to release the subscription; the channel is closed afterwards.
func (m *Mutator) Subscribe(buffer int) (<-chan UpdateEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan UpdateEvent, buffer)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (m *Mutator) publish(event UpdateEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		select {
		case sub <- event:
		default:
			// Slow subscribers miss events instead of stalling commits.
		}
	}
}
