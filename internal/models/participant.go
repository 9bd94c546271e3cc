package models

import "slices"

// ActorType identifies what kind of identity an attendee represents.
// The values match the actor types used by the host app.
type ActorType string

const (
	ActorTypeUsers          ActorType = "users"
	ActorTypeGuests         ActorType = "guests"
	ActorTypeGroups         ActorType = "groups"
	ActorTypeCircles        ActorType = "circles"
	ActorTypeEmails         ActorType = "emails"
	ActorTypeBots           ActorType = "bots"
	ActorTypeFederatedUsers ActorType = "federated_users"
	ActorTypePhones         ActorType = "phones"
)

// ParticipantType is the role of an attendee within a conversation.
type ParticipantType int

const (
	ParticipantTypeOwner ParticipantType = iota + 1
	ParticipantTypeModerator
	ParticipantTypeUser
	ParticipantTypeGuest
	ParticipantTypeUserSelfJoined
	ParticipantTypeGuestModerator
)

// IsGuest reports whether the role is a guest role (moderator or not).
func (t ParticipantType) IsGuest() bool {
	return t == ParticipantTypeGuest || t == ParticipantTypeGuestModerator
}

// CallFlag is the in-call bitmask. Zero means disconnected from the call.
type CallFlag int

const (
	CallFlagDisconnected CallFlag = 0
	CallFlagInCall       CallFlag = 1
	CallFlagWithAudio    CallFlag = 2
	CallFlagWithVideo    CallFlag = 4
	CallFlagWithPhone    CallFlag = 8
)

// Permission is the participant permissions bitmask, independent of call state.
type Permission int

const (
	PermissionsDefault      Permission = 0
	PermissionsCustom       Permission = 1
	PermissionsCallStart    Permission = 2
	PermissionsCallJoin     Permission = 4
	PermissionsLobbyIgnore  Permission = 8
	PermissionsPublishAudio Permission = 16
	PermissionsPublishVideo Permission = 32
	PermissionsScreenshare  Permission = 64
	PermissionsChat         Permission = 128
	PermissionsMaxDefault   Permission = 254
	PermissionsMaxCustom    Permission = 255
)

// Attendee is the durable membership record of an identity in a conversation.
// SessionIDs holds the durable session ids of currently connected clients;
// an empty list means the attendee has no live client.
type Attendee struct {
	AttendeeID      int64           `json:"attendeeId"`
	ActorType       ActorType       `json:"actorType"`
	ActorID         string          `json:"actorId"`
	DisplayName     string          `json:"displayName"`
	SessionIDs      []string        `json:"sessionIds"`
	InCall          CallFlag        `json:"inCall"`
	Permissions     Permission      `json:"permissions"`
	LastPing        int64           `json:"lastPing"`
	ParticipantType ParticipantType `json:"participantType"`
}

// Clone returns a deep copy, so callers can hand attendees out without
// sharing the session id slice.
func (a *Attendee) Clone() *Attendee {
	c := *a
	c.SessionIDs = slices.Clone(a.SessionIDs)
	return &c
}

// Connected reports whether any live client session backs this attendee.
func (a *Attendee) Connected() bool {
	return len(a.SessionIDs) > 0
}

// ParticipantUpdate is a partial update of an attendee record. Nil fields are
// left untouched by the commit; a non-nil SessionIDs replaces the list wholesale.
type ParticipantUpdate struct {
	DisplayName     *string
	SessionIDs      *[]string
	InCall          *CallFlag
	Permissions     *Permission
	LastPing        *int64
	ParticipantType *ParticipantType
}
