// internal/handlers/events_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/middleware"
)

// EventsWSHandler streams lobby lifecycle events to an observer over a
// WebSocket. The feed is read-only; chat announcers and match trackers
// consume it instead of holding references into the core.
func EventsWSHandler(logger *logrus.Logger, s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authedPlayer(w, r); !ok {
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warnf("events ws accept failed: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		subID, events := s.subscribe()
		defer s.unsubscribe(subID)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, ctx.Err())
				c.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case ev, ok := <-events:
				if !ok {
					// Dropped as a slow consumer.
					c.Close(websocket.StatusPolicyViolation, "event backlog overflow")
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logger.Warnf("failed to marshal lifecycle event: %v", err)
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err = c.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
					return
				}
			}
		}
	}
}
