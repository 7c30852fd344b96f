package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/playperu/walktour/internal/location"
)

// LocationAck answers each sample sent over the location WebSocket.
type LocationAck struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func handlePostLocation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var smp location.Sample
		if err := readJSON(r, &smp); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if smp.Timestamp.IsZero() {
			smp.Timestamp = time.Now().UTC()
		}

		if err := sessionFrom(r).Push(r.Context(), smp); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, LocationAck{Accepted: true})
	}
}

// handleLocationWS accepts a stream of samples, one JSON object per text
// message, and acknowledges each.
func handleLocationWS(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			select {
			case <-s.Closed():
				conn.Close(websocket.StatusGoingAway, "session closed")
			case <-ctx.Done():
			}
		}()

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				logger.Debug("location websocket read ended", "session_id", s.ID(), "error", err)
				return
			}

			var ack LocationAck
			var smp location.Sample
			if err := json.Unmarshal(msg, &smp); err != nil {
				ack.Error = "invalid sample"
			} else {
				if smp.Timestamp.IsZero() {
					smp.Timestamp = time.Now().UTC()
				}
				if err := s.Push(ctx, smp); err != nil {
					ack.Error = err.Error()
				} else {
					ack.Accepted = true
				}
			}

			data, _ := json.Marshal(ack)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				logger.Debug("location websocket write failed", "session_id", s.ID(), "error", err)
				return
			}
		}
	}
}
