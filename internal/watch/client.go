package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jnoelg/watchbridge/internal/device"
)

// Client connects to the bridge's device endpoint and plays the watchface:
// every appmessage is applied through the Inbox and answered.
type Client struct {
	url    string
	token  string
	inbox  *Inbox
	dialer *websocket.Dialer
	logger *slog.Logger

	// Reject, when set, makes the client nack every message with this text
	// instead of applying it.
	Reject string
	// OnApplied is called after each message has been handled.
	OnApplied func(device.Envelope, error)
}

// NewClient creates a client for the websocket endpoint at url.
func NewClient(url, token string, inbox *Inbox) *Client {
	return &Client{
		url:    url,
		token:  token,
		inbox:  inbox,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for connection and message events.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = l
	return c
}

// Run serves messages until ctx is cancelled or the bridge closes the
// connection.
func (c *Client) Run(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.url, err)
	}
	defer conn.Close()
	c.logger.Info("connected to bridge", "url", c.url)

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var env device.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading from bridge: %w", err)
		}
		if env.Type != device.TypeAppMessage {
			c.logger.Warn("ignoring envelope", "type", env.Type, "id", env.ID)
			continue
		}

		reply, applyErr := c.handle(env)
		if err := conn.WriteJSON(reply); err != nil {
			return fmt.Errorf("replying to %s: %w", env.ID, err)
		}
		if c.OnApplied != nil {
			c.OnApplied(env, applyErr)
		}
	}
}

func (c *Client) handle(env device.Envelope) (device.Envelope, error) {
	if c.Reject != "" {
		c.logger.Info("rejecting message", "id", env.ID, "reason", c.Reject)
		return device.Envelope{ID: env.ID, Type: device.TypeNack, Error: c.Reject}, errors.New(c.Reject)
	}
	if err := c.inbox.Apply(env.Payload); err != nil {
		c.logger.Error("applying message failed", "id", env.ID, "error", err)
		return device.Envelope{ID: env.ID, Type: device.TypeNack, Error: err.Error()}, err
	}
	c.logger.Info("message applied", "id", env.ID, "keys", len(env.Payload))
	return device.Envelope{ID: env.ID, Type: device.TypeAck}, nil
}
