// Package tasks schedules background work over redis. The only task today is
// the participants resync: when a signaling payload carries sessions that do
// not map to any known attendee, the attendee list is probably stale, so a
// delayed re-seed from the database is queued instead of failing the payload.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pravatus-technologies/spreed/pkg/logger"
)

const TypeResyncParticipants = "participants:resync"

type ResyncPayload struct {
	Token string `json:"token"`
}

// Syncer re-seeds the runtime attendee state of one conversation.
type Syncer interface {
	SyncConversation(ctx context.Context, token string) error
}

// Client enqueues resync tasks. Tasks are unique per token while pending, so
// a burst of unknown-session reports collapses into one resync.
type Client struct {
	client *asynq.Client
	delay  time.Duration
}

func NewClient(redisURL string, delay time.Duration) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &Client{
		client: asynq.NewClient(opt),
		delay:  delay,
	}, nil
}

func (c *Client) EnqueueResync(ctx context.Context, token string) error {
	payload, err := json.Marshal(ResyncPayload{Token: token})
	if err != nil {
		return fmt.Errorf("asynq: marshal resync payload: %w", err)
	}

	task := asynq.NewTask(TypeResyncParticipants, payload)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessIn(c.delay),
		asynq.Unique(c.delay+time.Minute),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("asynq: enqueue resync for %s: %w", token, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Server processes queued tasks.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisURL string, concurrency int) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("Task %s failed: %v", task.Type(), err)
		}),
	})
	return &Server{server: srv, mux: asynq.NewServeMux()}, nil
}

// RegisterResync binds the resync handler.
func (s *Server) RegisterResync(syncer Syncer) {
	s.mux.HandleFunc(TypeResyncParticipants, func(ctx context.Context, task *asynq.Task) error {
		var payload ResyncPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("malformed resync payload: %w", err)
		}
		return syncer.SyncConversation(ctx, payload.Token)
	})
}

// Run starts the server and blocks until the context is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
