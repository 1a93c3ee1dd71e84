package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// handleNightlyStream streams each StepResult of a running (or future)
// nightly pipeline execution to the connected client, one JSON object per
// text frame. A client that connects between runs simply waits -
// nothing is replayed from before it subscribed.
func (h *Handlers) handleNightlyStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	results, unsubscribe := h.container.Broadcaster.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case result, ok := <-results:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			data, err := json.Marshal(result)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Warn().Err(err).Msg("websocket write failed, dropping subscriber")
				return
			}
		}
	}
}
