package auth

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
)

const maxNameLen = 32

// Session is the per-connection identity slot the gate manages. The registry's
// client type implements it.
type Session interface {
	Identity() *models.User
	BindIdentity(*models.User)
	AmbientToken() string
	AutoBindAttempted() bool
	MarkAutoBindAttempted()
	Send(protocol.ServerMessage)
}

// UserLoader is the slice of the persistence bridge the gate needs for
// auto-bind name resolution.
type UserLoader interface {
	LoadUser(ctx context.Context, id string) (*models.User, error)
}

// Gate binds connections to durable identities. It never writes persistence;
// the bound identity lives only on the connection.
type Gate struct {
	users UserLoader
	log   *logrus.Logger
}

func NewGate(users UserLoader, log *logrus.Logger) *Gate {
	return &Gate{users: users, log: log}
}

// GuestLabel derives the default display name for a bare user id.
func GuestLabel(userID string) string {
	prefix := userID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return "Guest" + prefix
}

// EnsureAuthenticated reports whether the connection has a bound identity,
// first attempting one auto-bind from the ambient session credential. The
// attempt is flag-gated so a connection never receives a second auth_success
// for the same credential.
func (g *Gate) EnsureAuthenticated(ctx context.Context, s Session) bool {
	if s.Identity() != nil {
		return true
	}
	token := s.AmbientToken()
	if token == "" || s.AutoBindAttempted() {
		s.Send(protocol.Event(protocol.MsgAuthRequired, nil))
		return false
	}
	s.MarkAutoBindAttempted()

	userID, err := VerifySessionToken(token)
	if err != nil {
		g.log.WithError(err).Debug("ambient session token rejected")
		s.Send(protocol.Event(protocol.MsgAuthRequired, nil))
		return false
	}

	user := &models.User{ID: userID, Name: GuestLabel(userID), Type: models.UserTypeGuest}
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if persisted, err := g.users.LoadUser(loadCtx, userID); err == nil && persisted != nil {
		user.Name = persisted.Name
		user.Type = persisted.Type
		user.AvatarURL = persisted.AvatarURL
		user.Icon = persisted.Icon
	}

	s.BindIdentity(user)
	s.Send(protocol.Event(protocol.MsgAuthSuccess, protocol.IdentityData{
		ID:   user.ID,
		Name: user.Name,
		Type: string(user.Type),
	}))
	g.log.WithField("user_id", user.ID).Info("auto-bound identity from session token")
	return true
}

// Identify binds the payload identity to the connection and acknowledges it
// exactly once. No persistence write happens here.
func (g *Gate) Identify(s Session, p *protocol.IdentifyPayload) error {
	if p == nil || p.ID == "" {
		return protocol.NewAuthError(protocol.CodeMissingID, "identify payload missing user id")
	}

	name := p.Name
	if name == "" {
		name = GuestLabel(p.ID)
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	typ := models.UserType(p.Type)
	if typ != models.UserTypeProvider {
		typ = models.UserTypeGuest
	}

	user := &models.User{ID: p.ID, Name: name, Type: typ}
	s.BindIdentity(user)

	ack := protocol.IdentityData{ID: user.ID, Name: user.Name, Type: string(user.Type)}
	if token, err := MintSessionToken(user.ID); err == nil {
		ack.Token = token
	} else {
		g.log.WithError(err).Warn("failed to mint session token")
	}
	s.Send(protocol.Event(protocol.MsgAuthSuccess, ack))
	return nil
}
