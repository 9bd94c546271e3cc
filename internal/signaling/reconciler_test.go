package signaling_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/internal/participants"
	"github.com/pravatus-technologies/spreed/internal/signaling"
)

const testToken = "TOKEN"

type guestRecord struct {
	token       string
	actorID     string
	displayName string
}

type fakeGuestNames struct {
	records []guestRecord
}

func (f *fakeGuestNames) RecordGuestName(ctx context.Context, token, actorID, displayName string) error {
	f.records = append(f.records, guestRecord{token: token, actorID: actorID, displayName: displayName})
	return nil
}

type fixture struct {
	reconciler *signaling.Reconciler
	registry   *signaling.Registry
	store      *participants.Store
	guests     *fakeGuestNames
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := signaling.NewRegistry()
	store := participants.NewStore()
	guests := &fakeGuestNames{}
	reconciler := signaling.NewReconciler(registry, store, participants.NewMutator(store), guests)
	return &fixture{
		reconciler: reconciler,
		registry:   registry,
		store:      store,
		guests:     guests,
	}
}

func (f *fixture) seedAttendees(t *testing.T) {
	t.Helper()

	for _, attendee := range []*models.Attendee{
		{AttendeeID: 1, ActorType: models.ActorTypeUsers, ActorID: "user1", SessionIDs: []string{"session-id-1"}},
		{AttendeeID: 2, ActorType: models.ActorTypeUsers, ActorID: "user2", SessionIDs: []string{}},
		{AttendeeID: 3, ActorType: models.ActorTypeGuests, ActorID: "hex", SessionIDs: []string{"session-id-4"}},
	} {
		f.store.AddAttendee(testToken, attendee)
	}
}

func (f *fixture) attendee(t *testing.T, attendeeID int64) *models.Attendee {
	t.Helper()

	attendee, err := f.store.GetAttendee(context.Background(), testToken, attendeeID)
	require.NoError(t, err)
	return attendee
}

// requireCallStateInvariant checks that no attendee has the in-call flag set
// without a live session backing it.
func requireCallStateInvariant(t *testing.T, store *participants.Store) {
	t.Helper()

	attendees, err := store.ListAttendees(context.Background(), testToken)
	require.NoError(t, err)
	for _, attendee := range attendees {
		if len(attendee.SessionIDs) == 0 {
			require.Equal(t, models.CallFlagDisconnected, attendee.InCall,
				"attendee %d has no sessions but inCall=%d", attendee.AttendeeID, attendee.InCall)
		}
	}
}

func internalSnapshot() []models.InternalSessionEntry {
	return []models.InternalSessionEntry{
		{UserID: "user1", SessionID: "session-id-1", InCall: 7, LastPing: 1717192800, Permissions: 254},
		{UserID: "user2", SessionID: "session-id-2", InCall: 7, LastPing: 1717192800, Permissions: 254},
		{UserID: "user2", SessionID: "session-id-3", InCall: 7, LastPing: 1717192800, Permissions: 254},
		{UserID: "", SessionID: "session-id-4", InCall: 7, LastPing: 1717192800, Permissions: 254},
	}
}

func standaloneJoins() []models.StandaloneJoinEvent {
	return []models.StandaloneJoinEvent{
		{UserID: "user1", User: models.StandaloneUserInfo{DisplayName: "User 1"}, SignalingSessionID: "signaling-id-1", RoomSessionID: "session-id-1"},
		{UserID: "user2", User: models.StandaloneUserInfo{DisplayName: "User 2"}, SignalingSessionID: "signaling-id-2", RoomSessionID: "session-id-2"},
		{UserID: "user2", User: models.StandaloneUserInfo{DisplayName: "User 2"}, SignalingSessionID: "signaling-id-3", RoomSessionID: "session-id-3"},
		{UserID: "", User: models.StandaloneUserInfo{DisplayName: "Guest"}, SignalingSessionID: "signaling-id-4", RoomSessionID: "session-id-4"},
	}
}

func TestInternalSnapshotResolvesSessions(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	unknown, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, internalSnapshot())
	require.NoError(t, err)
	require.False(t, unknown)
	require.Equal(t, 4, f.registry.Len())

	expected := map[string]int64{
		"session-id-1": 1,
		"session-id-2": 2,
		"session-id-3": 2,
		"session-id-4": 3,
	}
	for signalingSessionID, attendeeID := range expected {
		session, ok := f.registry.Get(signalingSessionID)
		require.True(t, ok, "missing session %s", signalingSessionID)
		require.Equal(t, signaling.Session{
			AttendeeID:         attendeeID,
			Token:              testToken,
			SignalingSessionID: signalingSessionID,
			SessionID:          signalingSessionID,
		}, session)
	}
}

func TestInternalSnapshotUpdatesAttendees(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, internalSnapshot())
	require.NoError(t, err)

	first := f.attendee(t, 1)
	require.Equal(t, []string{"session-id-1"}, first.SessionIDs)
	require.Equal(t, models.CallFlag(7), first.InCall)
	require.EqualValues(t, 1717192800, first.LastPing)
	require.Equal(t, models.Permission(254), first.Permissions)

	// Joined from two devices: both durable session ids are present.
	second := f.attendee(t, 2)
	require.Equal(t, []string{"session-id-2", "session-id-3"}, second.SessionIDs)
	require.Equal(t, models.CallFlag(7), second.InCall)

	third := f.attendee(t, 3)
	require.Equal(t, []string{"session-id-4"}, third.SessionIDs)

	requireCallStateInvariant(t, f.store)
}

func TestInternalSnapshotLastEntryWinsOnScalars(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	entries := []models.InternalSessionEntry{
		{UserID: "user2", SessionID: "session-id-2", InCall: 1, LastPing: 100, Permissions: 254},
		{UserID: "user2", SessionID: "session-id-3", InCall: 7, LastPing: 200, Permissions: 128},
	}
	_, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, entries)
	require.NoError(t, err)

	second := f.attendee(t, 2)
	require.Equal(t, []string{"session-id-2", "session-id-3"}, second.SessionIDs)
	require.Equal(t, models.CallFlag(7), second.InCall)
	require.EqualValues(t, 200, second.LastPing)
	require.Equal(t, models.Permission(128), second.Permissions)
}

func TestInternalSnapshotReportsUnknownSessions(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	entries := []models.InternalSessionEntry{
		{UserID: "user-unknown", SessionID: "session-id-unknown"},
	}
	unknown, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, entries)
	require.NoError(t, err)
	require.True(t, unknown)
	require.Equal(t, 1, f.registry.Len())

	session, ok := f.registry.Get("session-id-unknown")
	require.True(t, ok)
	require.False(t, session.Resolved())
	require.Equal(t, "session-id-unknown", session.SessionID)
}

func TestInternalSnapshotSweepsStaleSessions(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, internalSnapshot())
	require.NoError(t, err)

	// Everyone but user2's second device left.
	next := []models.InternalSessionEntry{
		{UserID: "user2", SessionID: "session-id-2", InCall: 7, LastPing: 1717192800, Permissions: 254},
	}
	_, err = f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, next)
	require.NoError(t, err)

	require.Equal(t, 1, f.registry.Len())
	_, ok := f.registry.Get("session-id-1")
	require.False(t, ok)

	first := f.attendee(t, 1)
	require.Empty(t, first.SessionIDs)
	require.Equal(t, models.CallFlagDisconnected, first.InCall)

	second := f.attendee(t, 2)
	require.Equal(t, []string{"session-id-2"}, second.SessionIDs)
	require.Equal(t, models.CallFlag(7), second.InCall)

	third := f.attendee(t, 3)
	require.Empty(t, third.SessionIDs)
	require.Equal(t, models.CallFlagDisconnected, third.InCall)

	requireCallStateInvariant(t, f.store)
}

func TestInternalSnapshotSweepIsScopedToConversation(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)
	f.store.AddAttendee("OTHER", &models.Attendee{
		AttendeeID: 9, ActorType: models.ActorTypeUsers, ActorID: "other-user", SessionIDs: []string{},
	})

	_, err := f.reconciler.ApplyInternalSnapshot(context.Background(), "OTHER", []models.InternalSessionEntry{
		{UserID: "other-user", SessionID: "other-session", InCall: 1, LastPing: 1, Permissions: 254},
	})
	require.NoError(t, err)

	// A snapshot for another conversation must not sweep OTHER's session.
	_, err = f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, internalSnapshot())
	require.NoError(t, err)

	_, ok := f.registry.Get("other-session")
	require.True(t, ok)
}

func TestInternalSnapshotIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, internalSnapshot())
	require.NoError(t, err)
	once, err := f.store.ListAttendees(context.Background(), testToken)
	require.NoError(t, err)

	_, err = f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, internalSnapshot())
	require.NoError(t, err)
	twice, err := f.store.ListAttendees(context.Background(), testToken)
	require.NoError(t, err)

	require.Equal(t, once, twice)
	require.Equal(t, 4, f.registry.Len())
}

func TestInternalSnapshotFullRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.store.AddAttendee(testToken, &models.Attendee{
		AttendeeID: 1, ActorType: models.ActorTypeUsers, ActorID: "u1", SessionIDs: []string{},
	})

	_, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, []models.InternalSessionEntry{
		{UserID: "u1", SessionID: "s1", InCall: 7, LastPing: 100, Permissions: 254},
	})
	require.NoError(t, err)

	attendee := f.attendee(t, 1)
	require.Equal(t, []string{"s1"}, attendee.SessionIDs)
	require.Equal(t, models.CallFlag(7), attendee.InCall)
	require.EqualValues(t, 100, attendee.LastPing)
	require.Equal(t, models.Permission(254), attendee.Permissions)

	// An empty snapshot means everyone left.
	_, err = f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, nil)
	require.NoError(t, err)

	attendee = f.attendee(t, 1)
	require.Empty(t, attendee.SessionIDs)
	require.Equal(t, models.CallFlagDisconnected, attendee.InCall)
	_, ok := f.registry.Get("s1")
	require.False(t, ok)
}

func TestStandaloneJoinsResolveSessions(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	unknown, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)
	require.False(t, unknown)
	require.Equal(t, 4, f.registry.Len())

	session, ok := f.registry.Get("signaling-id-3")
	require.True(t, ok)
	require.Equal(t, signaling.Session{
		AttendeeID:         2,
		Token:              testToken,
		SignalingSessionID: "signaling-id-3",
		SessionID:          "session-id-3",
	}, session)

	session, ok = f.registry.Get("signaling-id-4")
	require.True(t, ok)
	require.EqualValues(t, 3, session.AttendeeID)
	require.Equal(t, "session-id-4", session.SessionID)
}

func TestStandaloneJoinsUpdateAttendees(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)

	// Already connected with session-id-1; the join is deduplicated.
	first := f.attendee(t, 1)
	require.Equal(t, []string{"session-id-1"}, first.SessionIDs)
	require.Equal(t, "User 1", first.DisplayName)

	second := f.attendee(t, 2)
	require.Equal(t, []string{"session-id-2", "session-id-3"}, second.SessionIDs)
	require.Equal(t, "User 2", second.DisplayName)

	third := f.attendee(t, 3)
	require.Equal(t, []string{"session-id-4"}, third.SessionIDs)
	require.Equal(t, "Guest", third.DisplayName)
}

func TestStandaloneJoinsAreAdditiveAcrossBatches(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, []models.StandaloneJoinEvent{
		{UserID: "user2", SignalingSessionID: "signaling-id-2", RoomSessionID: "session-id-2"},
	})
	require.NoError(t, err)
	_, err = f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, []models.StandaloneJoinEvent{
		{UserID: "user2", SignalingSessionID: "signaling-id-3", RoomSessionID: "session-id-3"},
	})
	require.NoError(t, err)

	second := f.attendee(t, 2)
	require.Equal(t, []string{"session-id-2", "session-id-3"}, second.SessionIDs)
}

func TestStandaloneJoinsReportUnknownSessions(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	unknown, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, []models.StandaloneJoinEvent{
		{UserID: "user-unknown", SignalingSessionID: "signaling-id-unknown", RoomSessionID: "session-id-unknown"},
	})
	require.NoError(t, err)
	require.True(t, unknown)
	require.Equal(t, 1, f.registry.Len())

	session, ok := f.registry.Get("signaling-id-unknown")
	require.True(t, ok)
	require.False(t, session.Resolved())
	require.Equal(t, "session-id-unknown", session.SessionID)
}

func TestStandaloneLeaves(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)
	require.Equal(t, 4, f.registry.Len())

	err = f.reconciler.ApplyStandaloneLeaves(context.Background(), []string{
		"signaling-id-1",
		"signaling-id-2",
		"signaling-id-4",
		"signaling-id-unknown",
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.registry.Len())

	first := f.attendee(t, 1)
	require.Empty(t, first.SessionIDs)
	require.Equal(t, models.CallFlagDisconnected, first.InCall)

	// Still connected from the second device.
	second := f.attendee(t, 2)
	require.Equal(t, []string{"session-id-3"}, second.SessionIDs)

	third := f.attendee(t, 3)
	require.Empty(t, third.SessionIDs)
	require.Equal(t, models.CallFlagDisconnected, third.InCall)

	requireCallStateInvariant(t, f.store)
}

func TestStandaloneChanges(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)

	err = f.reconciler.ApplyStandaloneChanges(context.Background(), testToken, []models.StandaloneChangeEvent{
		{UserID: "user1", SignalingSessionID: "signaling-id-1", InCall: 7, ParticipantType: models.ParticipantTypeOwner, LastPing: 1717192800, Permissions: 254},
		{UserID: "user2", SignalingSessionID: "signaling-id-2", InCall: 7, ParticipantType: models.ParticipantTypeUser, LastPing: 1717192800, Permissions: 254},
		{UserID: "user2", SignalingSessionID: "signaling-id-3", InCall: 0, ParticipantType: models.ParticipantTypeUser, LastPing: 1717192800, Permissions: 254},
		{DisplayName: "Guest New", SignalingSessionID: "signaling-id-4", InCall: 7, ParticipantType: models.ParticipantTypeGuestModerator, LastPing: 1717192800, Permissions: 254},
		{SignalingSessionID: "signaling-id-unknown", InCall: 7, ParticipantType: models.ParticipantTypeUser, LastPing: 1717192800, Permissions: 254},
	})
	require.NoError(t, err)

	first := f.attendee(t, 1)
	require.Equal(t, models.CallFlag(7), first.InCall)
	require.Equal(t, models.ParticipantTypeOwner, first.ParticipantType)

	// Multi-device: the second device's lower in-call flag must not clobber
	// the first device's active call.
	second := f.attendee(t, 2)
	require.Equal(t, models.CallFlag(7), second.InCall)
	require.Equal(t, models.ParticipantTypeUser, second.ParticipantType)

	third := f.attendee(t, 3)
	require.Equal(t, "Guest New", third.DisplayName)
	require.Equal(t, models.ParticipantTypeGuestModerator, third.ParticipantType)
	require.Equal(t, models.CallFlag(7), third.InCall)
}

func TestStandaloneChangesMaxInCallEitherOrder(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)

	err = f.reconciler.ApplyStandaloneChanges(context.Background(), testToken, []models.StandaloneChangeEvent{
		{UserID: "user2", SignalingSessionID: "signaling-id-2", InCall: 0, ParticipantType: models.ParticipantTypeUser, LastPing: 100, Permissions: 254},
		{UserID: "user2", SignalingSessionID: "signaling-id-3", InCall: 7, ParticipantType: models.ParticipantTypeUser, LastPing: 200, Permissions: 254},
	})
	require.NoError(t, err)

	second := f.attendee(t, 2)
	require.Equal(t, models.CallFlag(7), second.InCall)
	require.EqualValues(t, 200, second.LastPing)
}

func TestStandaloneChangesRecordGuestRename(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)

	err = f.reconciler.ApplyStandaloneChanges(context.Background(), testToken, []models.StandaloneChangeEvent{
		{DisplayName: "Guest New", SignalingSessionID: "signaling-id-4", InCall: 7, ParticipantType: models.ParticipantTypeGuest, LastPing: 1717192800, Permissions: 254},
	})
	require.NoError(t, err)

	require.Len(t, f.guests.records, 1)
	require.Equal(t, guestRecord{
		token: testToken,
		// hex SHA-1 of "session-id-4", the guest's first durable session id
		actorID:     "ade9b14d91cb5e46341411e1dc61f3cccde0a025",
		displayName: "Guest New",
	}, f.guests.records[0])
}

func TestStandaloneChangesRegisteredRenameIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)

	err = f.reconciler.ApplyStandaloneChanges(context.Background(), testToken, []models.StandaloneChangeEvent{
		{UserID: "user1", DisplayName: "Renamed User", SignalingSessionID: "signaling-id-1", InCall: 7, ParticipantType: models.ParticipantTypeUser, LastPing: 1, Permissions: 254},
	})
	require.NoError(t, err)

	require.Empty(t, f.guests.records)
	require.Equal(t, "Renamed User", f.attendee(t, 1).DisplayName)
}

func TestCallDisconnectedForEveryone(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	_, err := f.reconciler.ApplyStandaloneJoins(context.Background(), testToken, standaloneJoins())
	require.NoError(t, err)
	err = f.reconciler.ApplyStandaloneChanges(context.Background(), testToken, []models.StandaloneChangeEvent{
		{UserID: "user1", SignalingSessionID: "signaling-id-1", InCall: 7, ParticipantType: models.ParticipantTypeUser, LastPing: 1, Permissions: 254},
	})
	require.NoError(t, err)
	require.Equal(t, models.CallFlag(7), f.attendee(t, 1).InCall)

	err = f.reconciler.DisconnectCall(context.Background(), testToken)
	require.NoError(t, err)

	for _, attendeeID := range []int64{1, 2, 3} {
		attendee := f.attendee(t, attendeeID)
		require.Equal(t, models.CallFlagDisconnected, attendee.InCall)
	}
	// Presence is untouched: this is a call-level event, not a disconnect.
	require.Equal(t, []string{"session-id-1"}, f.attendee(t, 1).SessionIDs)
}

func TestMalformedEntriesAreSkipped(t *testing.T) {
	f := newFixture(t)
	f.seedAttendees(t)

	unknown, err := f.reconciler.ApplyInternalSnapshot(context.Background(), testToken, []models.InternalSessionEntry{
		{UserID: "user1", SessionID: "", InCall: 7, LastPing: 1, Permissions: 254},
		{UserID: "user2", SessionID: "session-id-2", InCall: 7, LastPing: 1, Permissions: 254},
	})
	require.NoError(t, err)
	require.False(t, unknown)
	require.Equal(t, 1, f.registry.Len())
	require.Equal(t, []string{"session-id-2"}, f.attendee(t, 2).SessionIDs)
}
