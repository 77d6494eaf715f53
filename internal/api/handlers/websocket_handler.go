// server/internal/api/handlers/websocket_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pharma-scm-api-server/internal/api/middleware"
	"pharma-scm-api-server/internal/auth"
	"pharma-scm-api-server/internal/socket"
	"pharma-scm-api-server/internal/workflow"
)

type WebSocketHandler struct {
	Hub      *socket.Hub
	Auth     *auth.Authenticator
	Engine   *workflow.Engine
	Logger   *zap.Logger
	Upgrader websocket.Upgrader
}

// ServeWs upgrades an authenticated request. The client always receives its
// batch notifications; with ?view= it also receives a snapshot of that view
// each time it changes.
func (h *WebSocketHandler) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token is required"})
		return
	}
	sess, err := h.Auth.Session(c.Request.Context(), tokenString)
	if err != nil {
		c.JSON(middleware.AuthError(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var snapshots <-chan workflow.Snapshot
	if view := c.Query("view"); view != "" {
		snapshots, err = h.Engine.Subscribe(ctx, sess, workflow.View(view))
		if err != nil {
			respondError(c, err)
			return
		}
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	client := socket.NewClient(sess.UserID, conn)
	h.Hub.Register(client)
	defer h.Hub.Unregister(client)

	if snapshots != nil {
		go h.forward(ctx, client, workflow.View(c.Query("view")), snapshots)
	}

	writeDone := make(chan error, 1)
	go func() { writeDone <- client.WritePump(ctx) }()

	if err := client.ReadPump(); err != nil {
		h.Logger.Warn("Unexpected close error", zap.String("userID", sess.UserID), zap.Error(err))
	}
	cancel()
	<-writeDone
}

// forward relays view snapshots to client. If the feed stops while the
// connection is still wanted, the client is told and the socket is closed so
// it can reconnect.
func (h *WebSocketHandler) forward(ctx context.Context, client *socket.Client, view workflow.View, snapshots <-chan workflow.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				if ctx.Err() == nil {
					h.Logger.Warn("Live view feed stopped", zap.String("userID", client.UserID), zap.String("view", string(view)))
					if msg, err := json.Marshal(gin.H{"type": "view.closed", "view": view, "error": "Live view stopped; reconnect to resume"}); err == nil {
						client.Enqueue(msg)
					}
					client.CloseWith(websocket.CloseTryAgainLater, "live view stopped")
				}
				return
			}
			msg, err := json.Marshal(gin.H{"type": "view.snapshot", "view": snap.View, "records": snap.Records, "at": snap.At})
			if err != nil {
				h.Logger.Error("Failed to encode snapshot", zap.Error(err))
				continue
			}
			if !client.Enqueue(msg) {
				h.Logger.Warn("Snapshot dropped", zap.String("userID", client.UserID), zap.String("view", string(view)))
			}
		}
	}
}
