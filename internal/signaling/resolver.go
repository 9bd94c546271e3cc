package signaling

import (
	"slices"

	"github.com/pravatus-technologies/spreed/internal/models"
)

// sessionRef is the transport-independent view of one signaling payload entry,
// carrying the identifiers needed to resolve it to an attendee.
type sessionRef struct {
	signalingSessionID string
	userID             string
	sessionID          string
}

func internalRef(entry models.InternalSessionEntry) sessionRef {
	// The internal backend has a single id space, so the durable session id
	// doubles as the signaling session id.
	return sessionRef{
		signalingSessionID: entry.SessionID,
		userID:             entry.UserID,
		sessionID:          entry.SessionID,
	}
}

func joinRef(event models.StandaloneJoinEvent) sessionRef {
	return sessionRef{
		signalingSessionID: event.SignalingSessionID,
		userID:             event.UserID,
		sessionID:          event.RoomSessionID,
	}
}

func changeRef(event models.StandaloneChangeEvent) sessionRef {
	return sessionRef{
		signalingSessionID: event.SignalingSessionID,
		userID:             event.UserID,
		sessionID:          event.RoomSessionID,
	}
}

// resolutionStrategy decides whether a directory attendee owns the session
// described by ref.
type resolutionStrategy func(ref sessionRef, attendee *models.Attendee) bool

// byActorID matches registered identities (users, federated users, phones,
// ...) on their actor id.
func byActorID(ref sessionRef, attendee *models.Attendee) bool {
	return ref.userID != "" && attendee.ActorID == ref.userID
}

// byGuestSession matches guests on an already-known durable session id, since
// guests carry no usable user id.
func byGuestSession(ref sessionRef, attendee *models.Attendee) bool {
	return ref.sessionID != "" && slices.Contains(attendee.SessionIDs, ref.sessionID)
}

func strategyFor(attendee *models.Attendee) resolutionStrategy {
	if attendee.ActorType == models.ActorTypeGuests {
		return byGuestSession
	}
	return byActorID
}

// resolveAttendee scans the attendee list with the strategy matching each
// attendee's actor category. Returns zero when nothing matches.
func resolveAttendee(ref sessionRef, attendees []*models.Attendee) int64 {
	for _, attendee := range attendees {
		if strategyFor(attendee)(ref, attendee) {
			return attendee.AttendeeID
		}
	}
	return 0
}
