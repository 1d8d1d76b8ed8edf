package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
)

// Client is one live connection. The bound identity is the durable key;
// the connection id changes on every reconnect.
type Client struct {
	ID     uuid.UUID
	Out    chan protocol.ServerMessage
	Cancel func()

	mu            sync.Mutex
	identity      *models.User
	ambientToken  string
	autoBindTried bool
	lobbyCode     string
}

// NewClient builds a connection wrapper. ambientToken is the session JWT
// found on the upgrade request, if any.
func NewClient(ambientToken string, cancel func()) *Client {
	return &Client{
		ID:           uuid.New(),
		Out:          make(chan protocol.ServerMessage, 16),
		Cancel:       cancel,
		ambientToken: ambientToken,
	}
}

// Send pushes a message onto the out channel without blocking. Messages to a
// closed or saturated connection are dropped and logged; the write pump's
// death is detected by the read side.
func (c *Client) Send(msg protocol.ServerMessage) {
	select {
	case c.Out <- msg:
	default:
		logrus.WithFields(logrus.Fields{"conn": c.ID, "type": msg.Type}).
			Warn("out channel closed or full, dropped message")
	}
}

func (c *Client) Identity() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) BindIdentity(u *models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = u
}

// UserID returns the bound durable user id, or "".
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.ID
}

func (c *Client) AmbientToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ambientToken
}

func (c *Client) AutoBindAttempted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoBindTried
}

func (c *Client) MarkAutoBindAttempted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoBindTried = true
}

// LobbyCode returns the lobby this connection is currently in, or "".
func (c *Client) LobbyCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbyCode
}

func (c *Client) SetLobbyCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lobbyCode = code
}
