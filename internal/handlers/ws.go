// Package handlers exposes the HTTP surface: the game WebSocket endpoint and
// the small JSON API (health, leaderboard).
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/middleware"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
	"github.com/Otheruser325/Protodice-sub001/internal/registry"
)

const wsSubprotocol = "protodice"

// GameWSHandler upgrades the connection and runs the read pump until the
// client goes away. All game traffic for a connection flows through here.
func GameWSHandler(logger *logrus.Logger, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{wsSubprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != wsSubprotocol {
			c.Close(BadSubprotocolError, "client must speak the protodice subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		client := registry.NewClient(ambientSessionToken(r), cancel)
		reg.Register(client)
		middleware.LogWebSocketConnect(logger, remoteAddr, r.URL.Path)

		go writePump(ctx, c, client, logger)

		readErr := readPump(ctx, c, client, reg, logger)

		reg.Disconnect(context.WithoutCancel(ctx), client)
		middleware.LogWebSocketDisconnect(logger, remoteAddr, r.URL.Path, readErr)
	}
}

// ambientSessionToken pulls the session JWT off the upgrade request, from the
// cookie the browser client carries or the query parameter native clients use.
func ambientSessionToken(r *http.Request) string {
	if cookie, err := r.Cookie("session_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// readPump decodes messages off the wire and dispatches them. A malformed or
// panicking message never takes the connection down.
func readPump(ctx context.Context, c *websocket.Conn, client *registry.Client, reg *registry.Registry, logger *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		typ, data, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			logger.Warnf("conn %s: ignoring non-text message type %d", client.ID, typ)
			continue
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			client.Send(protocol.ErrorEvent(err))
			continue
		}
		dispatch(ctx, reg, client, msg, logger)
	}
}

// dispatch isolates each message behind a recover so a handler panic is
// reported as an internal error instead of killing the pump.
func dispatch(ctx context.Context, reg *registry.Registry, client *registry.Client, msg *protocol.ClientMessage, logger *logrus.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithFields(logrus.Fields{"conn": client.ID, "type": msg.Type, "panic": rec}).
				Error("panic while handling message")
			client.Send(protocol.Event(protocol.MsgError, protocol.ErrorData{
				Kind:    "state",
				Code:    "internal",
				Message: "internal error",
			}))
		}
	}()
	reg.Dispatch(ctx, client, msg)
}

// writePump drains the client's out channel onto the wire and keeps the
// connection alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, client *registry.Client, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-client.Out:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("conn %s: failed to marshal outgoing %s: %v", client.ID, msg.Type, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("conn %s: write failed: %v", client.ID, err)
				client.Cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("conn %s: ping failed, assuming disconnect: %v", client.ID, err)
				client.Cancel()
				return
			}
		}
	}
}
