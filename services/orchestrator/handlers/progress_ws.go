// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Tokens, not origins, gate this endpoint.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// ProgressWebSocket handles GET /ws/validate/:id/progress. The full
// event history is replayed first, then live events stream until the
// session reaches a terminal status or the client disconnects. For
// sessions whose topic was already evicted, the terminal snapshot from
// storage is sent as a single synthetic event.
func ProgressWebSocket(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := requestID(c)
		if err != nil {
			respondError(c, deps.Logger, err, "")
			return
		}
		sess, err := deps.Store.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Error("websocket upgrade failed", "request_id", id, "error", err)
			return
		}
		defer ws.Close()

		sub, ok := deps.Broker.Subscribe(id)
		if !ok {
			// Topic evicted: serve the snapshot and finish.
			_ = writeEvent(ws, snapshotEvent(sess))
			return
		}
		defer sub.Cancel()

		if deps.Metrics != nil {
			deps.Metrics.SubscriberConnected()
			defer deps.Metrics.SubscriberDisconnected()
		}
		deps.Logger.Info("progress subscriber connected", "request_id", id)

		// Reads only surface client disconnects.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case event, open := <-sub.Events():
				if !open {
					return
				}
				if err := writeEvent(ws, event); err != nil {
					deps.Logger.Info("progress subscriber disconnected",
						"request_id", id, "error", err)
					return
				}
				if event.Terminal() {
					return
				}
			case <-ping.C:
				deadline := time.Now().Add(wsWriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, event datatypes.ProgressEvent) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(event)
}

// snapshotEvent reconstructs a single status event from persisted
// session state for topics that no longer live in the broker.
func snapshotEvent(sess *datatypes.Session) datatypes.ProgressEvent {
	return datatypes.ProgressEvent{
		RequestID: sess.RequestID,
		Kind:      datatypes.EventStatus,
		Status:    sess.Status,
		Phase:     sess.CurrentPhase,
		Progress:  sess.Progress,
		Message:   sess.FailureReason,
		Timestamp: sess.UpdatedAt,
	}
}
