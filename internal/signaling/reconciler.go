package signaling

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/pravatus-technologies/spreed/internal/guestname"
	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/internal/participants"
	"github.com/pravatus-technologies/spreed/pkg/logger"
)

// Reconciler merges signaling facts from both transports into the session
// registry and pushes the resulting per-attendee diffs through the committer.
// All collaborators are injected; the reconciler owns no global state.
//
// Within one pipeline invocation updates are accumulated for the whole batch
// before anything is committed, so observers never see partial per-entry
// state (e.g. a forced disconnect followed by session ids from a later entry).
type Reconciler struct {
	registry   *Registry
	directory  participants.Directory
	committer  participants.Committer
	guestNames guestname.Recorder
}

func NewReconciler(registry *Registry, directory participants.Directory, committer participants.Committer, guestNames guestname.Recorder) *Reconciler {
	return &Reconciler{
		registry:   registry,
		directory:  directory,
		committer:  committer,
		guestNames: guestNames,
	}
}

// ApplyInternalSnapshot replaces the session state of one conversation with a
// full snapshot from the internal signaling backend. Sessions absent from the
// snapshot are considered left: their attendees are reset to disconnected and
// the stale registry entries are swept.
//
// The returned boolean reports whether any entry failed to resolve to an
// attendee, so the caller can refresh the attendee list and retry. The error
// only reflects directory access failure, never reconciliation faults.
func (r *Reconciler) ApplyInternalSnapshot(ctx context.Context, token string, entries []models.InternalSessionEntry) (bool, error) {
	attendees, err := r.directory.ListAttendees(ctx, token)
	if err != nil {
		return false, fmt.Errorf("list attendees for %s: %w", token, err)
	}

	type snapshotUpdate struct {
		inCall      models.CallFlag
		lastPing    int64
		permissions models.Permission
		sessionIDs  []string
	}

	updates := make(map[int64]*snapshotUpdate)
	snapshotSessions := make(map[string]struct{}, len(entries))
	hasUnknownSessions := false

	for _, entry := range entries {
		if entry.SessionID == "" {
			logger.Warn("Dropping internal signaling entry without session id in conversation %s", token)
			continue
		}
		snapshotSessions[entry.SessionID] = struct{}{}

		session := r.resolveSession(token, internalRef(entry), attendees)
		if !session.Resolved() {
			hasUnknownSessions = true
			continue
		}

		update := updates[session.AttendeeID]
		if update == nil {
			update = &snapshotUpdate{}
			updates[session.AttendeeID] = update
		}
		// The participant may be connected from several devices; session ids
		// accumulate while the last entry wins on the scalar fields.
		update.inCall = entry.InCall
		update.lastPing = entry.LastPing
		update.permissions = entry.Permissions
		update.sessionIDs = append(update.sessionIDs, entry.SessionID)
	}

	for _, attendee := range attendees {
		if update, ok := updates[attendee.AttendeeID]; ok {
			r.commit(ctx, token, attendee.AttendeeID, models.ParticipantUpdate{
				InCall:      &update.inCall,
				LastPing:    &update.lastPing,
				Permissions: &update.permissions,
				SessionIDs:  &update.sessionIDs,
			})
		} else if attendee.Connected() {
			// Left from all devices since the previous snapshot.
			r.commit(ctx, token, attendee.AttendeeID, disconnectedUpdate())
		}
	}

	// Sweep sessions of this conversation that the snapshot no longer lists.
	for _, signalingSessionID := range r.registry.SignalingSessionIDs() {
		session, ok := r.registry.Get(signalingSessionID)
		if !ok || session.Token != token {
			continue
		}
		if _, live := snapshotSessions[session.SessionID]; !live {
			r.registry.Remove(signalingSessionID)
		}
	}

	return hasUnknownSessions, nil
}

// ApplyStandaloneJoins merges a join batch from the standalone signaling
// server. Joins are additive: the new durable session ids are appended to the
// attendee's current list, deduplicated across repeated deliveries.
func (r *Reconciler) ApplyStandaloneJoins(ctx context.Context, token string, events []models.StandaloneJoinEvent) (bool, error) {
	attendees, err := r.directory.ListAttendees(ctx, token)
	if err != nil {
		return false, fmt.Errorf("list attendees for %s: %w", token, err)
	}

	type joinUpdate struct {
		displayName string
		hasName     bool
		sessionIDs  []string
	}

	updates := make(map[int64]*joinUpdate)
	var order []int64
	hasUnknownSessions := false

	for _, event := range events {
		if event.SignalingSessionID == "" || event.RoomSessionID == "" {
			logger.Warn("Dropping malformed join event in conversation %s", token)
			continue
		}

		session := r.resolveSession(token, joinRef(event), attendees)
		if !session.Resolved() {
			hasUnknownSessions = true
			continue
		}

		update := updates[session.AttendeeID]
		if update == nil {
			attendee, err := r.directory.GetAttendee(ctx, token, session.AttendeeID)
			if err != nil {
				if errors.Is(err, participants.ErrAttendeeNotFound) {
					logger.Warn("Join event for vanished attendee %d in conversation %s", session.AttendeeID, token)
					continue
				}
				return hasUnknownSessions, fmt.Errorf("get attendee %d for %s: %w", session.AttendeeID, token, err)
			}
			update = &joinUpdate{sessionIDs: slices.Clone(attendee.SessionIDs)}
			updates[session.AttendeeID] = update
			order = append(order, session.AttendeeID)
		}

		if event.User.DisplayName != "" {
			update.displayName = event.User.DisplayName
			update.hasName = true
		}
		if !slices.Contains(update.sessionIDs, event.RoomSessionID) {
			update.sessionIDs = append(update.sessionIDs, event.RoomSessionID)
		}
	}

	for _, attendeeID := range order {
		update := updates[attendeeID]
		data := models.ParticipantUpdate{SessionIDs: &update.sessionIDs}
		if update.hasName {
			data.DisplayName = &update.displayName
		}
		r.commit(ctx, token, attendeeID, data)
	}

	return hasUnknownSessions, nil
}

// ApplyStandaloneLeaves removes the given signaling sessions and detaches
// their durable session ids from the owning attendees. Ids without a registry
// entry are skipped: the session was already cleaned up or never resolved.
func (r *Reconciler) ApplyStandaloneLeaves(ctx context.Context, signalingSessionIDs []string) error {
	for _, signalingSessionID := range signalingSessionIDs {
		session, ok := r.registry.Get(signalingSessionID)
		if !ok {
			continue
		}
		r.registry.Remove(signalingSessionID)

		if !session.Resolved() {
			continue
		}

		attendee, err := r.directory.GetAttendee(ctx, session.Token, session.AttendeeID)
		if err != nil {
			if errors.Is(err, participants.ErrAttendeeNotFound) {
				logger.Warn("Leave event for vanished attendee %d in conversation %s", session.AttendeeID, session.Token)
				continue
			}
			return fmt.Errorf("get attendee %d for %s: %w", session.AttendeeID, session.Token, err)
		}

		remaining := slices.DeleteFunc(slices.Clone(attendee.SessionIDs), func(id string) bool {
			return id == session.SessionID
		})
		update := models.ParticipantUpdate{SessionIDs: &remaining}
		if len(remaining) == 0 {
			disconnected := models.CallFlagDisconnected
			update.InCall = &disconnected
		}
		r.commit(ctx, session.Token, session.AttendeeID, update)
	}
	return nil
}

// ApplyStandaloneChanges merges participant state changes from the standalone
// signaling server. For an attendee seen through several devices in one batch
// the scalar fields are overwritten by later entries, except inCall where the
// highest flag set wins so a second device's lower state cannot clobber an
// active call. Guest renames propagate to the guest name side channel.
func (r *Reconciler) ApplyStandaloneChanges(ctx context.Context, token string, events []models.StandaloneChangeEvent) error {
	attendees, err := r.directory.ListAttendees(ctx, token)
	if err != nil {
		return fmt.Errorf("list attendees for %s: %w", token, err)
	}

	type changeUpdate struct {
		participantType models.ParticipantType
		permissions     models.Permission
		inCall          models.CallFlag
		lastPing        int64
		displayName     string
		hasName         bool
	}

	updates := make(map[int64]*changeUpdate)
	var order []int64

	for _, event := range events {
		if event.SignalingSessionID == "" {
			logger.Warn("Dropping malformed change event in conversation %s", token)
			continue
		}

		session := r.resolveSession(token, changeRef(event), attendees)
		if !session.Resolved() {
			continue
		}

		update := updates[session.AttendeeID]
		if update == nil {
			update = &changeUpdate{inCall: event.InCall}
			updates[session.AttendeeID] = update
			order = append(order, session.AttendeeID)
		} else if event.InCall > update.inCall {
			update.inCall = event.InCall
		}
		update.participantType = event.ParticipantType
		update.permissions = event.Permissions
		update.lastPing = event.LastPing

		if event.DisplayName != "" {
			update.displayName = event.DisplayName
			update.hasName = true
			r.recordGuestRename(ctx, token, session.AttendeeID, event)
		}
	}

	for _, attendeeID := range order {
		update := updates[attendeeID]
		data := models.ParticipantUpdate{
			ParticipantType: &update.participantType,
			Permissions:     &update.permissions,
			InCall:          &update.inCall,
			LastPing:        &update.lastPing,
		}
		if update.hasName {
			data.DisplayName = &update.displayName
		}
		r.commit(ctx, token, attendeeID, data)
	}

	return nil
}

// DisconnectCall forces every attendee of the conversation out of the call.
// Session ids stay untouched: this reflects a call-level event, not a
// presence change.
func (r *Reconciler) DisconnectCall(ctx context.Context, token string) error {
	attendees, err := r.directory.ListAttendees(ctx, token)
	if err != nil {
		return fmt.Errorf("list attendees for %s: %w", token, err)
	}

	disconnected := models.CallFlagDisconnected
	for _, attendee := range attendees {
		r.commit(ctx, token, attendee.AttendeeID, models.ParticipantUpdate{InCall: &disconnected})
	}
	return nil
}

// resolveSession returns the registry entry for the referenced signaling
// session, creating and registering one on first sighting. Resolution happens
// exactly once per signaling session id; unresolved sessions are registered
// all the same so later events reuse the (failed) resolution.
func (r *Reconciler) resolveSession(token string, ref sessionRef, attendees []*models.Attendee) Session {
	if session, ok := r.registry.Get(ref.signalingSessionID); ok {
		return session
	}

	session := Session{
		AttendeeID:         resolveAttendee(ref, attendees),
		Token:              token,
		SignalingSessionID: ref.signalingSessionID,
		SessionID:          ref.sessionID,
	}
	r.registry.Put(session)
	return session
}

func (r *Reconciler) recordGuestRename(ctx context.Context, token string, attendeeID int64, event models.StandaloneChangeEvent) {
	if !event.ParticipantType.IsGuest() {
		return
	}

	attendee, err := r.directory.GetAttendee(ctx, token, attendeeID)
	if err != nil {
		logger.Warn("Cannot look up guest %d in conversation %s for rename: %v", attendeeID, token, err)
		return
	}
	if attendee.DisplayName == event.DisplayName || len(attendee.SessionIDs) == 0 {
		return
	}

	actorID := guestname.ActorID(attendee.SessionIDs[0])
	if err := r.guestNames.RecordGuestName(ctx, token, actorID, event.DisplayName); err != nil {
		logger.Error("Failed to record guest name for %s in conversation %s: %v", actorID, token, err)
	}
}

func (r *Reconciler) commit(ctx context.Context, token string, attendeeID int64, update models.ParticipantUpdate) {
	if err := r.committer.Commit(ctx, token, attendeeID, update); err != nil {
		logger.Error("Failed to commit update for attendee %d in conversation %s: %v", attendeeID, token, err)
	}
}

func disconnectedUpdate() models.ParticipantUpdate {
	disconnected := models.CallFlagDisconnected
	empty := []string{}
	return models.ParticipantUpdate{InCall: &disconnected, SessionIDs: &empty}
}
