package standalone

import (
	"context"
	"sync"

	"github.com/pravatus-technologies/spreed/internal/dispatch"
	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/internal/signaling"
	"github.com/pravatus-technologies/spreed/pkg/logger"
)

// serverMessage is the envelope received from the standalone signaling server.
type serverMessage struct {
	Type  string         `json:"type"`
	ID    string         `json:"id,omitempty"`
	Hello *helloResponse `json:"hello,omitempty"`
	Event *eventMessage  `json:"event,omitempty"`
	Error *serverError   `json:"error,omitempty"`
}

type helloResponse struct {
	SessionID string `json:"sessionid"`
	ResumeID  string `json:"resumeid"`
	Version   string `json:"version"`
}

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// eventMessage carries one room event. Join and leave come on the "room"
// target; participant state changes and call-wide disconnects come as
// "participants" updates.
type eventMessage struct {
	Target string                       `json:"target"`
	Type   string                       `json:"type"`
	RoomID string                       `json:"roomid,omitempty"`
	Join   []models.StandaloneJoinEvent `json:"join,omitempty"`
	Leave  []string                     `json:"leave,omitempty"`
	Update *participantsUpdate          `json:"update,omitempty"`
}

type participantsUpdate struct {
	RoomID string                         `json:"roomid"`
	Users  []models.StandaloneChangeEvent `json:"users,omitempty"`
	All    bool                           `json:"all,omitempty"`
	InCall models.CallFlag                `json:"incall"`
}

// EventSink receives decoded room events from the signaling connection.
type EventSink interface {
	ParticipantsJoined(token string, events []models.StandaloneJoinEvent)
	ParticipantsLeft(signalingSessionIDs []string)
	ParticipantsChanged(token string, events []models.StandaloneChangeEvent)
	CallDisconnected(token string)
}

// Resyncer schedules an attendee refresh for a conversation whose signaling
// data referenced unknown sessions.
type Resyncer interface {
	EnqueueResync(ctx context.Context, token string) error
}

// Router feeds room events into the reconciler through the per-token
// dispatcher, and schedules a resync whenever a batch reported unknown
// sessions.
type Router struct {
	dispatcher *dispatch.Dispatcher
	registry   *signaling.Registry
	reconciler *signaling.Reconciler
	resync     Resyncer

	// Leave events carry no room. Tokens are recorded at receipt time,
	// before the join job has run, so a join/leave pair arriving back to
	// back lands on the same worker in arrival order.
	mu            sync.Mutex
	sessionTokens map[string]string
}

func NewRouter(dispatcher *dispatch.Dispatcher, registry *signaling.Registry, reconciler *signaling.Reconciler, resync Resyncer) *Router {
	return &Router{
		dispatcher:    dispatcher,
		registry:      registry,
		reconciler:    reconciler,
		resync:        resync,
		sessionTokens: make(map[string]string),
	}
}

var _ EventSink = (*Router)(nil)

func (r *Router) ParticipantsJoined(token string, events []models.StandaloneJoinEvent) {
	r.mu.Lock()
	for _, event := range events {
		if event.SignalingSessionID != "" {
			r.sessionTokens[event.SignalingSessionID] = token
		}
	}
	r.mu.Unlock()

	r.dispatcher.Submit(token, func(ctx context.Context) {
		unknown, err := r.reconciler.ApplyStandaloneJoins(ctx, token, events)
		if err != nil {
			logger.Error("Failed to apply join events for conversation %s: %v", token, err)
			return
		}
		if unknown {
			r.scheduleResync(ctx, token)
		}
	})
}

// ParticipantsLeft groups the leaving sessions by conversation and hands each
// group to that conversation's worker, keeping leaves ordered after the joins
// and changes for the same token. Ids this connection never saw join are
// resolved through the registry; ids unknown to both are already gone.
func (r *Router) ParticipantsLeft(signalingSessionIDs []string) {
	byToken := make(map[string][]string)
	r.mu.Lock()
	for _, id := range signalingSessionIDs {
		token, ok := r.sessionTokens[id]
		if ok {
			delete(r.sessionTokens, id)
		} else if session, found := r.registry.Get(id); found {
			token = session.Token
		} else {
			continue
		}
		byToken[token] = append(byToken[token], id)
	}
	r.mu.Unlock()

	for token, ids := range byToken {
		r.dispatcher.Submit(token, func(ctx context.Context) {
			if err := r.reconciler.ApplyStandaloneLeaves(ctx, ids); err != nil {
				logger.Error("Failed to apply leave events for conversation %s: %v", token, err)
			}
		})
	}
}

func (r *Router) ParticipantsChanged(token string, events []models.StandaloneChangeEvent) {
	r.dispatcher.Submit(token, func(ctx context.Context) {
		if err := r.reconciler.ApplyStandaloneChanges(ctx, token, events); err != nil {
			logger.Error("Failed to apply change events for conversation %s: %v", token, err)
		}
	})
}

func (r *Router) CallDisconnected(token string) {
	r.dispatcher.Submit(token, func(ctx context.Context) {
		if err := r.reconciler.DisconnectCall(ctx, token); err != nil {
			logger.Error("Failed to disconnect call for conversation %s: %v", token, err)
		}
	})
}

func (r *Router) scheduleResync(ctx context.Context, token string) {
	if r.resync == nil {
		return
	}
	if err := r.resync.EnqueueResync(ctx, token); err != nil {
		logger.Error("Failed to schedule resync for conversation %s: %v", token, err)
	}
}
