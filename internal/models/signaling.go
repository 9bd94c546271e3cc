package models

// InternalSessionEntry is one session as reported by the internal signaling
// backend in a full conversation snapshot. SessionID doubles as the signaling
// session identifier since the internal backend has a single id space.
type InternalSessionEntry struct {
	UserID      string     `json:"userId"`
	SessionID   string     `json:"sessionId"`
	InCall      CallFlag   `json:"inCall"`
	LastPing    int64      `json:"lastPing"`
	Permissions Permission `json:"participantPermissions"`
}

// StandaloneUserInfo carries the optional user block of a standalone
// signaling join event.
type StandaloneUserInfo struct {
	DisplayName string `json:"displayname"`
}

// StandaloneJoinEvent is one newly joined session reported by the standalone
// signaling server. SignalingSessionID is the server's own transport-local id;
// RoomSessionID is the durable session id it correlates with.
type StandaloneJoinEvent struct {
	UserID             string             `json:"userid"`
	User               StandaloneUserInfo `json:"user"`
	SignalingSessionID string             `json:"sessionid"`
	RoomSessionID      string             `json:"roomsessionid"`
}

// StandaloneChangeEvent is a participant state change reported by the
// standalone signaling server without a join or leave.
type StandaloneChangeEvent struct {
	SignalingSessionID string          `json:"sessionId"`
	UserID             string          `json:"userId,omitempty"`
	ParticipantType    ParticipantType `json:"participantType"`
	Permissions        Permission      `json:"participantPermissions"`
	InCall             CallFlag        `json:"inCall"`
	LastPing           int64           `json:"lastPing"`
	DisplayName        string          `json:"displayName,omitempty"`
	RoomSessionID      string          `json:"nextcloudSessionId,omitempty"`
}

// SnapshotRequest is the HTTP payload forwarded by the host app after
// polling the internal signaling backend for a conversation.
type SnapshotRequest struct {
	Participants []InternalSessionEntry `json:"participants"`
}

// SnapshotResponse reports whether the snapshot contained sessions that could
// not be mapped to any attendee, so the caller can refresh and retry.
type SnapshotResponse struct {
	UnknownSessions bool `json:"unknownSessions"`
}

// AddAttendeeRequest creates a durable conversation membership.
type AddAttendeeRequest struct {
	ActorType       ActorType       `json:"actorType"`
	ActorID         string          `json:"actorId"`
	DisplayName     string          `json:"displayName"`
	ParticipantType ParticipantType `json:"participantType"`
	Permissions     Permission      `json:"permissions"`
}

// UpdateAttendeeRequest changes the durable role fields of a membership.
type UpdateAttendeeRequest struct {
	DisplayName     string          `json:"displayName"`
	ParticipantType ParticipantType `json:"participantType"`
	Permissions     Permission      `json:"permissions"`
}
