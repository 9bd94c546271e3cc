package standalone

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pravatus-technologies/spreed/pkg/logger"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// Client maintains the connection to the standalone signaling server and
// feeds decoded room events into the sink. It reconnects with a fixed
// interval until the context is canceled.
type Client struct {
	url               string
	backendID         string
	sink              EventSink
	reconnectInterval time.Duration
}

func NewClient(url string, reconnectInterval time.Duration, sink EventSink) *Client {
	return &Client{
		url:               url,
		backendID:         uuid.NewString(),
		sink:              sink,
		reconnectInterval: reconnectInterval,
	}
}

// Run blocks until the context is canceled.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.connectAndRead(ctx); err != nil {
			logger.Error("Signaling connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectInterval):
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("Connected to standalone signaling server at %s", c.url)

	if err := c.sendHello(conn); err != nil {
		return err
	}

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go c.pingLoop(conn, done)

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		c.handleMessage(message)
	}
}

func (c *Client) sendHello(conn *websocket.Conn) error {
	hello := map[string]interface{}{
		"type": "hello",
		"hello": map[string]interface{}{
			"version": "1.0",
			"auth": map[string]interface{}{
				"backend": c.backendID,
			},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(hello)
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(raw []byte) {
	var message serverMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		logger.Error("Malformed signaling message: %v", err)
		return
	}

	switch message.Type {
	case "hello":
		if message.Hello != nil {
			logger.Info("Signaling session established: %s (server %s)", message.Hello.SessionID, message.Hello.Version)
		}
	case "error":
		if message.Error != nil {
			logger.Error("Signaling server error %s: %s", message.Error.Code, message.Error.Message)
		}
	case "event":
		if message.Event != nil {
			c.handleEvent(message.Event)
		}
	}
}

func (c *Client) handleEvent(event *eventMessage) {
	switch event.Target {
	case "room":
		switch event.Type {
		case "join":
			if len(event.Join) > 0 {
				c.sink.ParticipantsJoined(event.RoomID, event.Join)
			}
		case "leave":
			if len(event.Leave) > 0 {
				c.sink.ParticipantsLeft(event.Leave)
			}
		}
	case "participants":
		if event.Type != "update" || event.Update == nil {
			return
		}
		update := event.Update
		if update.All && update.InCall == 0 {
			c.sink.CallDisconnected(update.RoomID)
			return
		}
		if len(update.Users) > 0 {
			c.sink.ParticipantsChanged(update.RoomID, update.Users)
		}
	}
}
